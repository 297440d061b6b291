package indexstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/allureboard/pkg/api/indexstore"
	"github.com/ethpandaops/allureboard/pkg/config"
)

func setupTestStore(t *testing.T) indexstore.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := indexstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func ms(v int64) *int64 { return &v }

func TestStore_UnsupportedDriver(t *testing.T) {
	s := indexstore.NewStore(logrus.New(), &config.APIDatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestStore_UpsertAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runB := &indexstore.Run{
		Prefix: "reports", RunID: "run-B",
		TestsTotal: 10, TestsPassed: 5, TestsFailed: 3, TestsBroken: 2,
		StartMs: ms(1000), StopMs: ms(2000),
		IndexedAt: time.Now().UTC(),
	}
	runA := &indexstore.Run{
		Prefix: "reports", RunID: "run-A",
		TestsTotal: 10, TestsPassed: 7, TestsFailed: 2, TestsBroken: 1,
		IndexedAt: time.Now().UTC(),
	}
	other := &indexstore.Run{Prefix: "archive", RunID: "run-C", TestsTotal: 1}

	require.NoError(t, s.UpsertRun(ctx, runB))
	require.NoError(t, s.UpsertRun(ctx, runA))
	require.NoError(t, s.UpsertRun(ctx, other))

	runs, err := s.ListRuns(ctx, "reports")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Ordered by run id, not insertion.
	assert.Equal(t, "run-A", runs[0].RunID)
	assert.Nil(t, runs[0].StartMs)
	assert.Equal(t, "run-B", runs[1].RunID)
	require.NotNil(t, runs[1].StartMs)
	assert.Equal(t, int64(1000), *runs[1].StartMs)

	ids, err := s.ListRunIDs(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-C"}, ids)
}

func TestStore_UpsertRunOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{
		Prefix: "reports", RunID: "run-1",
		Error: "listing run-1: access denied",
	}))

	now := time.Now().UTC()

	require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{
		Prefix: "reports", RunID: "run-1",
		TestsTotal: 4, TestsPassed: 4,
		ReindexedAt: &now,
	}))

	runs, err := s.ListRuns(ctx, "reports")
	require.NoError(t, err)
	require.Len(t, runs, 1, "upsert must not duplicate the row")

	assert.Equal(t, 4, runs[0].TestsTotal)
	assert.Empty(t, runs[0].Error)
	assert.NotNil(t, runs[0].ReindexedAt)
}

func TestStore_ListIncompleteRunIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		run        indexstore.Run
		wantInList bool
	}{
		{
			name:       "failed to read",
			run:        indexstore.Run{RunID: "r-error", Error: "timeout", TestsTotal: 3},
			wantInList: true,
		},
		{
			name:       "no results yet",
			run:        indexstore.Run{RunID: "r-empty"},
			wantInList: true,
		},
		{
			name:       "complete",
			run:        indexstore.Run{RunID: "r-done", TestsTotal: 2, TestsPassed: 2},
			wantInList: false,
		},
	}

	wantIDs := make([]string, 0, len(tests))

	for _, tt := range tests {
		run := tt.run
		run.Prefix = "reports"
		require.NoError(t, s.UpsertRun(ctx, &run), tt.name)

		if tt.wantInList {
			wantIDs = append(wantIDs, tt.run.RunID)
		}
	}

	ids, err := s.ListIncompleteRunIDs(ctx, "reports")
	require.NoError(t, err)
	assert.ElementsMatch(t, wantIDs, ids)
}

func TestStore_TestResults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	results := make([]*indexstore.TestResult, 0, 150)
	for i := range 150 {
		results = append(results, &indexstore.TestResult{
			Prefix:    "reports",
			RunID:     "run-1",
			Key:       fmt.Sprintf("reports/run-1/t%03d-result.json", i),
			HistoryID: fmt.Sprintf("h%03d", i),
			Name:      fmt.Sprintf("t%03d", i),
			Status:    "passed",
		})
	}

	require.NoError(t, s.ReplaceTestResults(ctx, "reports", "run-1", results))

	listed, err := s.ListTestResults(ctx, "reports", "run-1")
	require.NoError(t, err)
	require.Len(t, listed, 150)
	assert.Equal(t, "t000", listed[0].Name)
	assert.Equal(t, "t149", listed[149].Name)

	// Replacing drops the previous rows.
	require.NoError(t, s.ReplaceTestResults(ctx, "reports", "run-1", []*indexstore.TestResult{
		{Prefix: "reports", RunID: "run-1", Key: "k", HistoryID: "h000", Name: "t000", Status: "failed"},
	}))

	listed, err = s.ListTestResults(ctx, "reports", "run-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "failed", listed[0].Status)

	require.NoError(t, s.ReplaceTestResults(ctx, "reports", "run-2", []*indexstore.TestResult{
		{Prefix: "reports", RunID: "run-2", Key: "k", HistoryID: "h000", Name: "t000", Status: "passed"},
	}))

	history, err := s.ListTestHistory(ctx, "h000")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Equal(t, "run-2", history[1].RunID)

	// Empty replacement clears.
	require.NoError(t, s.ReplaceTestResults(ctx, "reports", "run-2", nil))

	listed, err = s.ListTestResults(ctx, "reports", "run-2")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestStore_DeleteRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{Prefix: "reports", RunID: "gone", TestsTotal: 1}))
	require.NoError(t, s.ReplaceTestResults(ctx, "reports", "gone", []*indexstore.TestResult{
		{Prefix: "reports", RunID: "gone", Key: "k", Name: "t", Status: "passed"},
	}))

	require.NoError(t, s.DeleteRun(ctx, "reports", "gone"))

	ids, err := s.ListRunIDs(ctx, "reports")
	require.NoError(t, err)
	assert.Empty(t, ids)

	results, err := s.ListTestResults(ctx, "reports", "gone")
	require.NoError(t, err)
	assert.Empty(t, results)
}
