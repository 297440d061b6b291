package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/api/indexstore"
	"github.com/ethpandaops/allureboard/pkg/cache"
	"github.com/ethpandaops/allureboard/pkg/reports"
)

// Source serves catalog snapshots from the index store instead of a live
// storage scan.
type Source struct {
	store  indexstore.Store
	prefix string
	now    func() time.Time
}

var _ cache.Fetcher = (*Source)(nil)

// NewSource creates a Source over the runs indexed under prefix.
func NewSource(store indexstore.Store, prefix string) *Source {
	return &Source{store: store, prefix: prefix, now: time.Now}
}

// Fetch builds a snapshot from the indexed runs, ordered by run id.
func (s *Source) Fetch(ctx context.Context) (*reports.Snapshot, error) {
	runs, err := s.store.ListRuns(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	entries := make([]reports.Entry, 0, len(runs))
	for i := range runs {
		entries = append(entries, EntryOf(&runs[i]))
	}

	return reports.NewSnapshot(entries, s.now()), nil
}

// Results returns the indexed results of a run.
func (s *Source) Results(
	ctx context.Context, runID string,
) ([]allure.TestResult, error) {
	rows, err := s.store.ListTestResults(ctx, s.prefix, runID)
	if err != nil {
		return nil, err
	}

	results := make([]allure.TestResult, 0, len(rows))
	for i := range rows {
		results = append(results, resultOf(&rows[i]))
	}

	return results, nil
}

// History returns every indexed outcome of the test with historyID, one
// per run, ordered by run id.
func (s *Source) History(
	ctx context.Context, historyID string,
) ([]allure.TestResult, error) {
	rows, err := s.store.ListTestHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}

	results := make([]allure.TestResult, 0, len(rows))

	for i := range rows {
		if rows[i].Prefix != s.prefix {
			continue
		}

		results = append(results, resultOf(&rows[i]))
	}

	return results, nil
}

func resultOf(row *indexstore.TestResult) allure.TestResult {
	return allure.TestResult{
		UUID:      row.UUID,
		HistoryID: row.HistoryID,
		Name:      row.Name,
		FullName:  row.FullName,
		Status:    allure.Status(row.Status),
		Start:     row.StartMs,
		Stop:      row.StopMs,
		RunID:     row.RunID,
		Key:       row.Key,
	}
}

// EntryOf converts an indexed run to a catalog entry.
func EntryOf(run *indexstore.Run) reports.Entry {
	return reports.Entry{
		RunID: run.RunID,
		Summary: allure.RunSummary{
			RunID: run.RunID,
			Statistic: allure.Statistic{
				Total:   run.TestsTotal,
				Passed:  run.TestsPassed,
				Failed:  run.TestsFailed,
				Broken:  run.TestsBroken,
				Skipped: run.TestsSkipped,
			},
			Time: allure.TimeBounds{
				Start: run.StartMs,
				Stop:  run.StopMs,
			},
			TotalFiles: run.TotalFiles,
		},
		Error: run.Error,
	}
}
