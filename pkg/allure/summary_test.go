package allure_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/allureboard/pkg/allure"
)

func ms(v int64) *int64 { return &v }

func records(statuses ...allure.Status) []allure.TestResult {
	out := make([]allure.TestResult, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, allure.TestResult{
			Name:   "test-" + string(rune('a'+i)),
			Status: s,
		})
	}

	return out
}

func repeat(s allure.Status, n int) []allure.Status {
	out := make([]allure.Status, n)
	for i := range out {
		out[i] = s
	}

	return out
}

func TestSummarize_Empty(t *testing.T) {
	summary := allure.Summarizer{}.Summarize("run-empty", nil, 3)

	assert.Equal(t, "run-empty", summary.RunID)
	assert.Equal(t, allure.Statistic{}, summary.Statistic)
	assert.Nil(t, summary.Time.Start)
	assert.Nil(t, summary.Time.Stop)
	assert.Equal(t, 3, summary.TotalFiles)
}

func TestSummarize_Counts(t *testing.T) {
	var statuses []allure.Status
	statuses = append(statuses, repeat(allure.StatusPassed, 7)...)
	statuses = append(statuses, repeat(allure.StatusFailed, 2)...)
	statuses = append(statuses, allure.StatusBroken)

	summary := allure.Summarizer{}.Summarize("run-A", records(statuses...), 10)

	assert.Equal(t, allure.Statistic{
		Total: 10, Passed: 7, Failed: 2, Broken: 1, Skipped: 0,
	}, summary.Statistic)
	assert.Zero(t, summary.Statistic.Unknown())
}

func TestSummarize_TotalMatchesLength(t *testing.T) {
	tests := []struct {
		name     string
		statuses []allure.Status
		unknown  int
	}{
		{
			name:     "all known",
			statuses: []allure.Status{"passed", "failed", "broken", "skipped"},
		},
		{
			name:     "unknown and odd casing are not counted",
			statuses: []allure.Status{"passed", "PASSED", "unknown", "flaky"},
			unknown:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := allure.Summarizer{}.Summarize(
				"r", records(tt.statuses...), len(tt.statuses),
			)

			st := summary.Statistic
			assert.Equal(t, len(tt.statuses), st.Total)
			assert.Equal(t, tt.unknown, st.Unknown())

			if tt.unknown == 0 {
				assert.Equal(t, st.Total, st.Passed+st.Failed+st.Broken+st.Skipped)
			}
		})
	}
}

func TestSummarize_TimeBounds(t *testing.T) {
	recs := []allure.TestResult{
		{Name: "a", Status: allure.StatusPassed, Start: ms(2000), Stop: ms(2500)},
		{Name: "b", Status: allure.StatusPassed, Start: ms(1000), Stop: ms(4000)},
		{Name: "c", Status: allure.StatusFailed},
	}

	t.Run("strict excludes missing timestamps", func(t *testing.T) {
		summary := allure.Summarizer{}.Summarize("r", recs, 3)

		require.NotNil(t, summary.Time.Start)
		require.NotNil(t, summary.Time.Stop)
		assert.Equal(t, int64(1000), *summary.Time.Start)
		assert.Equal(t, int64(4000), *summary.Time.Stop)
		assert.Equal(t, 3, summary.Statistic.Total)
	})

	t.Run("legacy substitutes now", func(t *testing.T) {
		now := time.UnixMilli(9000)
		s := allure.Summarizer{
			FillMissingWithNow: true,
			Now:                func() time.Time { return now },
		}

		summary := s.Summarize("r", recs, 3)

		require.NotNil(t, summary.Time.Start)
		require.NotNil(t, summary.Time.Stop)
		assert.Equal(t, int64(1000), *summary.Time.Start)
		assert.Equal(t, int64(9000), *summary.Time.Stop)
	})

	t.Run("no timestamps at all", func(t *testing.T) {
		summary := allure.Summarizer{}.Summarize("r", recs[2:], 1)

		assert.Nil(t, summary.Time.Start)
		assert.Nil(t, summary.Time.Stop)
	})
}
