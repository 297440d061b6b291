package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrRunNotFound is returned when a run has no objects in storage.
var ErrRunNotFound = errors.New("run not found")

// Entry is one run in the catalog. Error is set when the run could not be
// read; its summary is then all zero.
type Entry struct {
	RunID   string            `json:"runId"`
	Summary allure.RunSummary `json:"summary"`
	Error   string            `json:"error,omitempty"`
}

// Overview aggregates a catalog listing.
type Overview struct {
	TotalReports int       `json:"totalReports"`
	TotalTests   int       `json:"totalTests"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Snapshot is the full catalog at one point in time.
type Snapshot struct {
	Reports []Entry  `json:"reports"`
	Summary Overview `json:"summary"`
}

// Find returns the entry for runID.
func (s *Snapshot) Find(runID string) (*Entry, bool) {
	if s == nil {
		return nil, false
	}

	for i := range s.Reports {
		if s.Reports[i].RunID == runID {
			return &s.Reports[i], true
		}
	}

	return nil, false
}

// NewSnapshot wraps entries with their derived overview.
func NewSnapshot(entries []Entry, now time.Time) *Snapshot {
	if entries == nil {
		entries = []Entry{}
	}

	overview := Overview{
		TotalReports: len(entries),
		LastUpdated:  now,
	}

	for i := range entries {
		overview.TotalTests += entries[i].Summary.Statistic.Total
	}

	return &Snapshot{Reports: entries, Summary: overview}
}

// Catalog enumerates runs in storage and summarizes each one.
type Catalog struct {
	log         logrus.FieldLogger
	reader      storage.Reader
	records     *RecordReader
	summarizer  allure.Summarizer
	concurrency int
	now         func() time.Time
}

// NewCatalog creates a Catalog over reader.
func NewCatalog(
	log logrus.FieldLogger,
	reader storage.Reader,
	cfg *config.ReportsConfig,
) *Catalog {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}

	suffix := cfg.ResultSuffix
	if suffix == "" {
		suffix = config.DefaultResultSuffix
	}

	return &Catalog{
		log:         log.WithField("component", "catalog"),
		reader:      reader,
		records:     NewRecordReader(log, reader, suffix),
		summarizer:  allure.Summarizer{FillMissingWithNow: cfg.LegacyTimeBounds},
		concurrency: concurrency,
		now:         time.Now,
	}
}

// RunIDs lists the run ids in storage order.
func (c *Catalog) RunIDs(ctx context.Context) ([]string, error) {
	ids, err := c.reader.ListRunIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return ids, nil
}

// Fetch summarizes every run. Runs are processed in parallel but the
// result keeps storage listing order. A run that fails to read is kept with
// a zero summary and its error; only failing to list runs fails Fetch.
func (c *Catalog) Fetch(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	ids, err := c.RunIDs(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			summary, err := c.summarize(gCtx, id)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}

				c.log.WithError(err).
					WithField("run_id", id).
					Warn("Failed to summarize run")

				entries[i] = Entry{
					RunID:   id,
					Summary: allure.RunSummary{RunID: id},
					Error:   err.Error(),
				}

				return nil
			}

			entries[i] = Entry{RunID: id, Summary: *summary}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}

	snapshot := NewSnapshot(entries, c.now())

	c.log.WithFields(logrus.Fields{
		"runs":     snapshot.Summary.TotalReports,
		"tests":    snapshot.Summary.TotalTests,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Catalog fetched")

	return snapshot, nil
}

// RunDetail is a single run's summary together with its parsed results.
type RunDetail struct {
	Summary allure.RunSummary
	Records []allure.TestResult
}

// Detail reads and summarizes one run. Returns ErrRunNotFound when the run
// has no objects.
func (c *Catalog) Detail(ctx context.Context, runID string) (*RunDetail, error) {
	files, err := c.records.Read(ctx, runID)
	if err != nil {
		return nil, err
	}

	if files.Objects == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return &RunDetail{
		Summary: c.summarizer.Summarize(runID, files.Records, files.Candidates),
		Records: files.Records,
	}, nil
}

// Run summarizes a single run.
func (c *Catalog) Run(ctx context.Context, runID string) (*allure.RunSummary, error) {
	detail, err := c.Detail(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &detail.Summary, nil
}

// Records returns the parsed results of a run.
func (c *Catalog) Records(
	ctx context.Context, runID string,
) ([]allure.TestResult, error) {
	detail, err := c.Detail(ctx, runID)
	if err != nil {
		return nil, err
	}

	return detail.Records, nil
}

func (c *Catalog) summarize(
	ctx context.Context, runID string,
) (*allure.RunSummary, error) {
	files, err := c.records.Read(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := c.summarizer.Summarize(runID, files.Records, files.Candidates)

	return &summary, nil
}
