package allure

import "time"

// Statistic holds per-status counts for a run. Total is the number of
// parsed records; the four named counts only sum to Total when every
// record carries a known status.
type Statistic struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Broken  int `json:"broken"`
	Skipped int `json:"skipped"`
}

// Unknown returns the number of records whose status was not one of the
// four known values.
func (s Statistic) Unknown() int {
	return s.Total - s.Passed - s.Failed - s.Broken - s.Skipped
}

// TimeBounds is the earliest start and latest stop across a run, in epoch
// milliseconds. Both are nil for a run without records.
type TimeBounds struct {
	Start *int64 `json:"start"`
	Stop  *int64 `json:"stop"`
}

// RunSummary is the aggregate of one run.
type RunSummary struct {
	RunID      string     `json:"runId"`
	Statistic  Statistic  `json:"statistic"`
	Time       TimeBounds `json:"time"`
	TotalFiles int        `json:"totalFiles"`
}

// Summarizer reduces the records of one run to a RunSummary.
type Summarizer struct {
	// FillMissingWithNow substitutes the current time for a missing start
	// or stop instead of leaving the record out of that bound. This skews
	// the bounds and only exists to reproduce numbers from older
	// dashboards.
	FillMissingWithNow bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Summarize aggregates records in a single pass. totalFiles is the number
// of candidate result files seen, which may exceed len(records) when some
// files failed to parse. It never fails: no records yields a zero summary.
func (s Summarizer) Summarize(
	runID string, records []TestResult, totalFiles int,
) RunSummary {
	summary := RunSummary{
		RunID:      runID,
		TotalFiles: totalFiles,
	}

	if len(records) == 0 {
		return summary
	}

	var nowMs int64
	if s.FillMissingWithNow {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}

		nowMs = now().UnixMilli()
	}

	var (
		start, stop       int64
		hasStart, hasStop bool
	)

	for i := range records {
		r := &records[i]

		summary.Statistic.Total++

		switch r.Status {
		case StatusPassed:
			summary.Statistic.Passed++
		case StatusFailed:
			summary.Statistic.Failed++
		case StatusBroken:
			summary.Statistic.Broken++
		case StatusSkipped:
			summary.Statistic.Skipped++
		}

		if v, ok := timestamp(r.Start, s.FillMissingWithNow, nowMs); ok &&
			(!hasStart || v < start) {
			start, hasStart = v, true
		}

		if v, ok := timestamp(r.Stop, s.FillMissingWithNow, nowMs); ok &&
			(!hasStop || v > stop) {
			stop, hasStop = v, true
		}
	}

	if hasStart {
		summary.Time.Start = &start
	}

	if hasStop {
		summary.Time.Stop = &stop
	}

	return summary
}

func timestamp(v *int64, fill bool, nowMs int64) (int64, bool) {
	if v != nil {
		return *v, true
	}

	if fill {
		return nowMs, true
	}

	return 0, false
}
