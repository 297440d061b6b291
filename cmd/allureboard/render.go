package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/reports"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle  = lipgloss.NewStyle().Bold(true)

	statusColors = map[allure.Status]lipgloss.Color{
		allure.StatusPassed:  lipgloss.Color("42"),
		allure.StatusFailed:  lipgloss.Color("196"),
		allure.StatusBroken:  lipgloss.Color("214"),
		allure.StatusSkipped: lipgloss.Color("245"),
		allure.StatusUnknown: lipgloss.Color("141"),
	}

	directionColors = map[allure.Direction]lipgloss.Color{
		allure.DirectionImprovement: lipgloss.Color("42"),
		allure.DirectionRegression:  lipgloss.Color("196"),
		allure.DirectionUnchanged:   lipgloss.Color("245"),
	}
)

// newTable returns a bordered table with the shared styles applied.
// colour, when non-nil, picks a foreground per body cell.
func newTable(
	headers []string, rows [][]string, colour func(row, col int) (lipgloss.Color, bool),
) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			if colour != nil && row >= 0 && row < len(rows) {
				if c, ok := colour(row, col); ok {
					return cellStyle.Foreground(c)
				}
			}

			return cellStyle
		})
}

// renderSnapshot renders the report listing.
func renderSnapshot(s *reports.Snapshot) string {
	headers := []string{
		"RUN", "TOTAL", "PASSED", "FAILED", "BROKEN", "SKIPPED", "PASS RATE",
		"STARTED", "DURATION",
	}

	rows := make([][]string, 0, len(s.Reports))
	for _, e := range s.Reports {
		st := e.Summary.Statistic

		row := []string{
			e.RunID,
			strconv.Itoa(st.Total),
			strconv.Itoa(st.Passed),
			strconv.Itoa(st.Failed),
			strconv.Itoa(st.Broken),
			strconv.Itoa(st.Skipped),
			formatRate(allure.PercentagesOf(st).Passed, st.Total),
			formatStart(e.Summary.Time),
			formatSpan(e.Summary.Time),
		}

		if e.Error != "" {
			row[len(row)-1] = "error: " + e.Error
		}

		rows = append(rows, row)
	}

	var b strings.Builder

	b.WriteString(newTable(headers, rows, func(row, col int) (lipgloss.Color, bool) {
		if s.Reports[row].Error != "" {
			return statusColors[allure.StatusFailed], true
		}

		switch col {
		case 2:
			return statusColors[allure.StatusPassed], true
		case 3:
			return statusColors[allure.StatusFailed], true
		case 4:
			return statusColors[allure.StatusBroken], true
		}

		return "", false
	}).Render())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf(
		"%d reports, %d tests, updated %s",
		s.Summary.TotalReports,
		s.Summary.TotalTests,
		s.Summary.LastUpdated.Local().Format(time.DateTime),
	)))
	b.WriteString("\n")

	return b.String()
}

// renderResults renders the test results of one run.
func renderResults(runID string, results []allure.TestResult) string {
	rows := make([][]string, 0, len(results))
	statuses := make([]allure.Status, 0, len(results))

	for _, r := range results {
		name := r.FullName
		if name == "" {
			name = r.Name
		}

		rows = append(rows, []string{
			name,
			string(r.Status),
			formatSpan(allure.TimeBounds{Start: r.Start, Stop: r.Stop}),
		})
		statuses = append(statuses, r.Status.Classify())
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(runID))
	b.WriteString("\n")
	b.WriteString(newTable([]string{"TEST", "STATUS", "DURATION"}, rows,
		func(row, col int) (lipgloss.Color, bool) {
			if col != 1 {
				return "", false
			}

			return statusColors[statuses[row]], true
		},
	).Render())
	b.WriteString("\n")

	return b.String()
}

// renderHistory renders the outcomes of one test, one row per run.
func renderHistory(historyID string, results []allure.TestResult) string {
	rows := make([][]string, 0, len(results))
	statuses := make([]allure.Status, 0, len(results))

	for _, r := range results {
		rows = append(rows, []string{
			r.RunID,
			string(r.Status),
			formatSpan(allure.TimeBounds{Start: r.Start, Stop: r.Stop}),
		})
		statuses = append(statuses, r.Status.Classify())
	}

	var b strings.Builder

	title := historyID
	if len(results) > 0 && results[0].Name != "" {
		title = results[0].Name + " (" + historyID + ")"
	}

	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(newTable([]string{"RUN", "STATUS", "DURATION"}, rows,
		func(row, col int) (lipgloss.Color, bool) {
			if col != 1 {
				return "", false
			}

			return statusColors[statuses[row]], true
		},
	).Render())
	b.WriteString("\n")

	return b.String()
}

// renderComparison renders the per-category changes between two runs.
func renderComparison(cmp *allure.Comparison) string {
	rows := make([][]string, 0, len(cmp.Changes))
	for _, c := range cmp.Changes {
		rows = append(rows, []string{
			string(c.Category),
			strconv.Itoa(c.From),
			strconv.Itoa(c.To),
			formatDiff(c.Diff),
			formatChange(c),
		})
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(cmp.Report1.Name + " -> " + cmp.Report2.Name))
	b.WriteString("\n")
	b.WriteString(newTable(
		[]string{"CATEGORY", cmp.Report1.Name, cmp.Report2.Name, "DIFF", "CHANGE"},
		rows,
		func(row, col int) (lipgloss.Color, bool) {
			if col < 3 {
				return "", false
			}

			return directionColors[cmp.Changes[row].Direction], true
		},
	).Render())
	b.WriteString("\n")

	p1, p2 := cmp.Percentages.Report1, cmp.Percentages.Report2
	b.WriteString(mutedStyle.Render(fmt.Sprintf(
		"pass rate %.1f%% -> %.1f%%", p1.Passed, p2.Passed,
	)))
	b.WriteString("\n")

	return b.String()
}

// formatDiff prints a signed difference.
func formatDiff(diff int) string {
	if diff > 0 {
		return "+" + strconv.Itoa(diff)
	}

	return strconv.Itoa(diff)
}

// formatChange prints the percentage change of c. A category that was
// zero in the first run has no baseline; its magnitude is marked as new.
func formatChange(c allure.Change) string {
	switch {
	case c.Percent == nil:
		return "-"
	case c.New:
		return fmt.Sprintf("new (%.0f)", *c.Percent)
	case *c.Percent > 0:
		return fmt.Sprintf("+%.1f%%", *c.Percent)
	default:
		return fmt.Sprintf("%.1f%%", *c.Percent)
	}
}

func formatRate(rate float64, total int) string {
	if total == 0 {
		return "-"
	}

	return fmt.Sprintf("%.1f%%", rate)
}

func formatStart(t allure.TimeBounds) string {
	if t.Start == nil {
		return "-"
	}

	return time.UnixMilli(*t.Start).Local().Format(time.DateTime)
}

func formatSpan(t allure.TimeBounds) string {
	if t.Start == nil || t.Stop == nil {
		return "-"
	}

	d := time.Duration(*t.Stop-*t.Start) * time.Millisecond
	if d < 0 {
		return "-"
	}

	if d >= time.Second {
		d = d.Round(time.Second)
	}

	return d.String()
}
