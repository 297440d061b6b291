package indexstore

import "time"

// Run is the indexed summary of one report run.
type Run struct {
	ID     uint   `gorm:"primaryKey"`
	Prefix string `gorm:"not null;uniqueIndex:idx_runs_prefix_run"`
	RunID  string `gorm:"not null;uniqueIndex:idx_runs_prefix_run"`

	// Denormalized statistic.
	TestsTotal   int
	TestsPassed  int
	TestsFailed  int
	TestsBroken  int
	TestsSkipped int
	TotalFiles   int

	// Epoch milliseconds; null when no record carried the bound.
	StartMs *int64
	StopMs  *int64

	// Objects is the storage object count seen when the run was indexed.
	Objects int
	Error   string

	IndexedAt   time.Time
	ReindexedAt *time.Time
}

// TestResult is one parsed result file of an indexed run.
type TestResult struct {
	ID        uint   `gorm:"primaryKey"`
	Prefix    string `gorm:"not null;index:idx_tr_run"`
	RunID     string `gorm:"not null;index:idx_tr_run"`
	Key       string `gorm:"not null"`
	UUID      string
	HistoryID string `gorm:"index"`
	Name      string `gorm:"not null"`
	FullName  string
	Status    string `gorm:"index"`
	StartMs   *int64
	StopMs    *int64
}
