package allure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/allureboard/pkg/allure"
)

func summaryOf(runID string, st allure.Statistic) *allure.RunSummary {
	return &allure.RunSummary{RunID: runID, Statistic: st, TotalFiles: st.Total}
}

var (
	runA = summaryOf("run-A", allure.Statistic{
		Total: 10, Passed: 7, Failed: 2, Broken: 1,
	})
	runB = summaryOf("run-B", allure.Statistic{
		Total: 10, Passed: 5, Failed: 3, Broken: 2,
	})
)

func TestCompare_Scenario(t *testing.T) {
	cmp, ok := allure.Compare(runA, runB)
	require.True(t, ok)

	assert.Equal(t, allure.Statistic{
		Total: 0, Passed: -2, Failed: 1, Broken: 1, Skipped: 0,
	}, cmp.Differences)
	assert.Equal(t, "run-A", cmp.Report1.Name)
	assert.Equal(t, "run-B", cmp.Report2.Name)
	assert.InDelta(t, 70.0, cmp.Percentages.Report1.Passed, 1e-9)
	assert.InDelta(t, 30.0, cmp.Percentages.Report2.Failed, 1e-9)

	directions := make(map[allure.Category]allure.Direction, len(cmp.Changes))
	for _, c := range cmp.Changes {
		directions[c.Category] = c.Direction
	}

	assert.Equal(t, map[allure.Category]allure.Direction{
		allure.CategoryTotal:   allure.DirectionUnchanged,
		allure.CategoryPassed:  allure.DirectionRegression,
		allure.CategoryFailed:  allure.DirectionRegression,
		allure.CategoryBroken:  allure.DirectionRegression,
		allure.CategorySkipped: allure.DirectionUnchanged,
	}, directions)
}

func TestCompare_Identical(t *testing.T) {
	cmp, ok := allure.Compare(runA, runA)
	require.True(t, ok)

	assert.Equal(t, allure.Statistic{}, cmp.Differences)
	assert.Equal(t, cmp.Percentages.Report1, cmp.Percentages.Report2)

	for _, c := range cmp.Changes {
		assert.Equal(t, allure.DirectionUnchanged, c.Direction, c.Category)
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	ab, ok := allure.Compare(runA, runB)
	require.True(t, ok)

	ba, ok := allure.Compare(runB, runA)
	require.True(t, ok)

	for _, c := range allure.Categories {
		assert.Equal(t, -c.Of(ba.Differences), c.Of(ab.Differences), c)
	}

	assert.Equal(t, runB.Statistic.Total-runA.Statistic.Total, ab.Differences.Total)
}

func TestCompare_MissingInput(t *testing.T) {
	_, ok := allure.Compare(runA, nil)
	assert.False(t, ok)

	_, ok = allure.Compare(nil, runB)
	assert.False(t, ok)
}

func TestPercentagesOf_ZeroTotal(t *testing.T) {
	assert.Equal(t, allure.Percentages{}, allure.PercentagesOf(allure.Statistic{}))
}

func TestChangeOf(t *testing.T) {
	tests := []struct {
		name      string
		category  allure.Category
		from, to  int
		percent   *float64
		isNew     bool
		direction allure.Direction
	}{
		{
			name:      "regular percent change",
			category:  allure.CategoryPassed,
			from:      8,
			to:        10,
			percent:   ptr(25.0),
			direction: allure.DirectionImprovement,
		},
		{
			name:      "zero baseline reports magnitude",
			category:  allure.CategoryPassed,
			from:      0,
			to:        4,
			percent:   ptr(400.0),
			isNew:     true,
			direction: allure.DirectionImprovement,
		},
		{
			name:      "both zero is not applicable",
			category:  allure.CategorySkipped,
			from:      0,
			to:        0,
			direction: allure.DirectionUnchanged,
		},
		{
			name:      "more failures is a regression",
			category:  allure.CategoryFailed,
			from:      2,
			to:        3,
			percent:   ptr(50.0),
			direction: allure.DirectionRegression,
		},
		{
			name:      "fewer broken is an improvement",
			category:  allure.CategoryBroken,
			from:      4,
			to:        1,
			percent:   ptr(-75.0),
			direction: allure.DirectionImprovement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := allure.ChangeOf(tt.category, tt.from, tt.to)

			assert.Equal(t, tt.to-tt.from, c.Diff)
			assert.Equal(t, tt.isNew, c.New)
			assert.Equal(t, tt.direction, c.Direction)

			if tt.percent == nil {
				assert.Nil(t, c.Percent)

				return
			}

			require.NotNil(t, c.Percent)
			assert.InDelta(t, *tt.percent, *c.Percent, 1e-9)
		})
	}
}

func ptr(v float64) *float64 { return &v }
