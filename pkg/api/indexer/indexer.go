package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/allureboard/pkg/api/indexstore"
	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of runs indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Indexer is a background service that periodically scans storage
// and upserts run summaries into the index store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       indexstore.Store
	catalog     *reports.Catalog
	prefix      string
	interval    time.Duration
	concurrency int
	onChange    func()
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// Option configures an indexer.
type Option func(*indexer)

// WithOnChange registers fn to run after every pass that added, updated or
// removed at least one run.
func WithOnChange(fn func()) Option {
	return func(idx *indexer) {
		idx.onChange = fn
	}
}

// NewIndexer creates a new background indexer for the runs under prefix.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	catalog *reports.Catalog,
	prefix string,
	interval time.Duration,
	concurrency int,
	opts ...Option,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	idx := &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		catalog:     catalog,
		prefix:      prefix,
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(idx)
	}

	return idx
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval. The first pass is
// asynchronous so the caller (the API server) is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	changed, err := idx.indexPrefix(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")
	}

	if changed > 0 && idx.onChange != nil {
		idx.onChange()
	}

	if err != nil {
		return
	}

	idx.log.WithFields(logrus.Fields{
		"changed":  changed,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Indexing pass completed")
}

// indexPrefix indexes new runs, re-indexes incomplete ones and drops runs
// that disappeared from storage. It returns the number of runs written or
// removed, also when it fails partway.
func (idx *indexer) indexPrefix(ctx context.Context) (int, error) {
	storageIDs, err := idx.catalog.RunIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing storage run IDs: %w", err)
	}

	indexedIDs, err := idx.store.ListRunIDs(ctx, idx.prefix)
	if err != nil {
		return 0, fmt.Errorf("listing indexed run IDs: %w", err)
	}

	incompleteIDs, err := idx.store.ListIncompleteRunIDs(ctx, idx.prefix)
	if err != nil {
		return 0, fmt.Errorf("listing incomplete run IDs: %w", err)
	}

	storageSet := make(map[string]struct{}, len(storageIDs))
	for _, id := range storageIDs {
		storageSet[id] = struct{}{}
	}

	indexedSet := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = struct{}{}
	}

	incompleteSet := make(map[string]struct{}, len(incompleteIDs))
	for _, id := range incompleteIDs {
		incompleteSet[id] = struct{}{}
	}

	removed := 0

	for _, id := range indexedIDs {
		if _, ok := storageSet[id]; ok {
			continue
		}

		if err := idx.store.DeleteRun(ctx, idx.prefix, id); err != nil {
			return removed, fmt.Errorf("removing run %s: %w", id, err)
		}

		removed++
	}

	type runTask struct {
		runID          string
		alreadyIndexed bool
	}

	var tasks []runTask

	for _, id := range storageIDs {
		_, alreadyIndexed := indexedSet[id]
		_, isIncomplete := incompleteSet[id]

		if alreadyIndexed && !isIncomplete {
			continue
		}

		tasks = append(tasks, runTask{runID: id, alreadyIndexed: alreadyIndexed})
	}

	idx.log.WithFields(logrus.Fields{
		"storage_runs":    len(storageIDs),
		"indexed_runs":    len(indexedIDs),
		"incomplete_runs": len(incompleteIDs),
		"removed_runs":    removed,
		"pending_runs":    len(tasks),
	}).Info("Scanning reports")

	if len(tasks) == 0 {
		return removed, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed atomic.Int64

	for _, task := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexRun(gCtx, task.runID, task.alreadyIndexed); err != nil {
				idx.log.WithError(err).
					WithField("run_id", task.runID).
					Warn("Failed to index run")

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	err = g.Wait()
	changed := removed + int(indexed.Load())

	if err != nil {
		return changed, fmt.Errorf("indexing runs: %w", err)
	}

	idx.log.WithField("count", indexed.Load()).Debug("Runs indexed")

	return changed, nil
}

// indexRun summarizes one run and stores the summary and its results. A
// run that cannot be read is stored with its error so it is retried on the
// next pass.
func (idx *indexer) indexRun(
	ctx context.Context, runID string, isReindex bool,
) error {
	now := time.Now().UTC()

	run := &indexstore.Run{
		Prefix:    idx.prefix,
		RunID:     runID,
		IndexedAt: now,
	}

	if isReindex {
		run.ReindexedAt = &now
	}

	detail, err := idx.catalog.Detail(ctx, runID)

	switch {
	case errors.Is(err, reports.ErrRunNotFound):
		// Listed but emptied since; the next pass removes it.
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}

		run.Error = err.Error()
	default:
		applySummary(run, detail)
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.store.UpsertRun(ctx, run); err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if detail == nil {
		return nil
	}

	results := make([]*indexstore.TestResult, 0, len(detail.Records))

	for i := range detail.Records {
		rec := &detail.Records[i]

		results = append(results, &indexstore.TestResult{
			Prefix:    idx.prefix,
			RunID:     runID,
			Key:       rec.Key,
			UUID:      rec.UUID,
			HistoryID: rec.HistoryID,
			Name:      rec.Name,
			FullName:  rec.FullName,
			Status:    string(rec.Status),
			StartMs:   rec.Start,
			StopMs:    rec.Stop,
		})
	}

	if err := idx.store.ReplaceTestResults(ctx, idx.prefix, runID, results); err != nil {
		return fmt.Errorf("storing test results: %w", err)
	}

	return nil
}

func applySummary(run *indexstore.Run, detail *reports.RunDetail) {
	st := detail.Summary.Statistic

	run.TestsTotal = st.Total
	run.TestsPassed = st.Passed
	run.TestsFailed = st.Failed
	run.TestsBroken = st.Broken
	run.TestsSkipped = st.Skipped
	run.TotalFiles = detail.Summary.TotalFiles
	run.StartMs = detail.Summary.Time.Start
	run.StopMs = detail.Summary.Time.Stop
}
