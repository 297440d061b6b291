package allure

// Category is one of the compared statistic columns.
type Category string

// Compared categories, in display order.
const (
	CategoryTotal   Category = "total"
	CategoryPassed  Category = "passed"
	CategoryFailed  Category = "failed"
	CategoryBroken  Category = "broken"
	CategorySkipped Category = "skipped"
)

// Categories lists every compared category in display order.
var Categories = []Category{
	CategoryTotal,
	CategoryPassed,
	CategoryFailed,
	CategoryBroken,
	CategorySkipped,
}

// HigherIsBetter reports whether growth in c is desirable. More tests and
// more passes are; more failed, broken or skipped tests are not.
func (c Category) HigherIsBetter() bool {
	return c == CategoryTotal || c == CategoryPassed
}

// Of returns the count for c in s.
func (c Category) Of(s Statistic) int {
	switch c {
	case CategoryTotal:
		return s.Total
	case CategoryPassed:
		return s.Passed
	case CategoryFailed:
		return s.Failed
	case CategoryBroken:
		return s.Broken
	case CategorySkipped:
		return s.Skipped
	default:
		return 0
	}
}

// Direction classifies a difference between two runs.
type Direction string

// Directions.
const (
	DirectionImprovement Direction = "improvement"
	DirectionRegression  Direction = "regression"
	DirectionUnchanged   Direction = "unchanged"
)

// ReportView is the slice of a RunSummary shown on each side of a
// comparison.
type ReportView struct {
	Name       string     `json:"name"`
	Stats      Statistic  `json:"stats"`
	TotalFiles int        `json:"totalFiles"`
	Time       TimeBounds `json:"time"`
}

// Percentages are shares of a report's own total, in percent. All zero
// when the report has no tests.
type Percentages struct {
	Passed  float64 `json:"passed"`
	Failed  float64 `json:"failed"`
	Broken  float64 `json:"broken"`
	Skipped float64 `json:"skipped"`
}

// Change is the movement of one category from report1 to report2.
//
// Percent is diff/report1*100. When report1 is zero and report2 is not,
// Percent holds report2*100 and New is set: this is a magnitude, not a
// percentage, kept because existing consumers display it. Percent is nil
// when both sides are zero.
type Change struct {
	Category  Category  `json:"category"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Diff      int       `json:"diff"`
	Percent   *float64  `json:"percent"`
	New       bool      `json:"new,omitempty"`
	Direction Direction `json:"direction"`
}

// Comparison is the derived difference between two runs. It is recomputed
// on every call and has no identity beyond its two run ids.
type Comparison struct {
	Report1     ReportView  `json:"report1"`
	Report2     ReportView  `json:"report2"`
	Differences Statistic   `json:"differences"`
	Percentages struct {
		Report1 Percentages `json:"report1"`
		Report2 Percentages `json:"report2"`
	} `json:"percentages"`
	Changes []Change `json:"changes"`
}

// Compare computes report2 minus report1 for every category. Identical
// selections are allowed and yield an all-zero diff. ok is false when
// either side is missing.
func Compare(report1, report2 *RunSummary) (Comparison, bool) {
	var cmp Comparison

	if report1 == nil || report2 == nil {
		return cmp, false
	}

	cmp.Report1 = viewOf(report1)
	cmp.Report2 = viewOf(report2)

	a, b := report1.Statistic, report2.Statistic

	cmp.Differences = Statistic{
		Total:   b.Total - a.Total,
		Passed:  b.Passed - a.Passed,
		Failed:  b.Failed - a.Failed,
		Broken:  b.Broken - a.Broken,
		Skipped: b.Skipped - a.Skipped,
	}

	cmp.Percentages.Report1 = PercentagesOf(a)
	cmp.Percentages.Report2 = PercentagesOf(b)

	cmp.Changes = make([]Change, 0, len(Categories))
	for _, c := range Categories {
		cmp.Changes = append(cmp.Changes, ChangeOf(c, c.Of(a), c.Of(b)))
	}

	return cmp, true
}

// PercentagesOf returns each status as a percentage of s.Total.
func PercentagesOf(s Statistic) Percentages {
	if s.Total == 0 {
		return Percentages{}
	}

	total := float64(s.Total)

	return Percentages{
		Passed:  float64(s.Passed) / total * 100,
		Failed:  float64(s.Failed) / total * 100,
		Broken:  float64(s.Broken) / total * 100,
		Skipped: float64(s.Skipped) / total * 100,
	}
}

// ChangeOf computes the change of category c from a to b.
func ChangeOf(c Category, a, b int) Change {
	change := Change{
		Category:  c,
		From:      a,
		To:        b,
		Diff:      b - a,
		Direction: DirectionOf(c, b-a),
	}

	switch {
	case a > 0:
		p := float64(change.Diff) / float64(a) * 100
		change.Percent = &p
	case b > 0:
		p := float64(b) * 100
		change.Percent = &p
		change.New = true
	}

	return change
}

// DirectionOf classifies diff for category c.
func DirectionOf(c Category, diff int) Direction {
	switch {
	case diff == 0:
		return DirectionUnchanged
	case (diff > 0) == c.HigherIsBetter():
		return DirectionImprovement
	default:
		return DirectionRegression
	}
}

func viewOf(s *RunSummary) ReportView {
	return ReportView{
		Name:       s.RunID,
		Stats:      s.Statistic,
		TotalFiles: s.TotalFiles,
		Time:       s.Time,
	}
}
