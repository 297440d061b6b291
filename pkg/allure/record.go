package allure

// Status is the outcome of a single test case as written by Allure.
type Status string

// Known Allure statuses. Anything else classifies as StatusUnknown.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusBroken  Status = "broken"
	StatusSkipped Status = "skipped"
	StatusUnknown Status = "unknown"
)

// Known reports whether s is one of the four counted statuses. Matching is
// exact and case-sensitive.
func (s Status) Known() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusBroken, StatusSkipped:
		return true
	default:
		return false
	}
}

// Classify maps s onto the known statuses, folding everything else into
// StatusUnknown.
func (s Status) Classify() Status {
	if s.Known() {
		return s
	}

	return StatusUnknown
}

// TestResult is one executed test case read from a *-result.json file.
// Start and Stop are epoch milliseconds; nil when the file omits them.
type TestResult struct {
	UUID        string       `json:"uuid,omitempty" mapstructure:"uuid"`
	HistoryID   string       `json:"historyId,omitempty" mapstructure:"historyId"`
	Name        string       `json:"name" mapstructure:"name"`
	FullName    string       `json:"fullName,omitempty" mapstructure:"fullName"`
	Description string       `json:"description,omitempty" mapstructure:"description"`
	Status      Status       `json:"status" mapstructure:"status"`
	Start       *int64       `json:"start,omitempty" mapstructure:"start"`
	Stop        *int64       `json:"stop,omitempty" mapstructure:"stop"`
	Labels      []Label      `json:"labels,omitempty" mapstructure:"labels"`
	Attachments []Attachment `json:"attachments,omitempty" mapstructure:"attachments"`
	Steps       []Step       `json:"steps,omitempty" mapstructure:"steps"`

	// Set by the reader, not by Allure.
	RunID string `json:"runId" mapstructure:"-"`
	Key   string `json:"key" mapstructure:"-"`
}

// Step is a nested test step.
type Step struct {
	Name        string       `json:"name" mapstructure:"name"`
	Status      Status       `json:"status,omitempty" mapstructure:"status"`
	Start       *int64       `json:"start,omitempty" mapstructure:"start"`
	Stop        *int64       `json:"stop,omitempty" mapstructure:"stop"`
	Steps       []Step       `json:"steps,omitempty" mapstructure:"steps"`
	Attachments []Attachment `json:"attachments,omitempty" mapstructure:"attachments"`
}

// Attachment references a file stored next to the result file.
type Attachment struct {
	Name   string `json:"name" mapstructure:"name"`
	Source string `json:"source" mapstructure:"source"`
	Type   string `json:"type,omitempty" mapstructure:"type"`
}

// Label is an Allure key/value label (suite, feature, severity, ...).
type Label struct {
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value" mapstructure:"value"`
}
