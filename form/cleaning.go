package form

import (
	"fmt"
	"strings"

	"ckdrisk/ml"
)

const (
	IssueDuplicate    = "duplicate"
	IssueMissingLabel = "missing_label"
	IssueUnparsable   = "unparsable"
	IssueOutOfRange   = "out_of_range"
)

// QualityIssue is one problem found while preparing a training dataset.
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // low, medium, high
	Row      int    `json:"row"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// CleaningStats summarises a Clean run.
type CleaningStats struct {
	TotalProcessed int            `json:"total_processed"`
	Passed         int            `json:"passed"`
	Rejected       int            `json:"rejected"`
	Issues         map[string]int `json:"issues"`
}

// Clean drops rows that repeat an earlier row on the variant's columns and the label,
// and reports cells that Vectorize will impute or that lie outside the form bounds.
// Row numbers in issues are 1-based data rows.
func (v *Variant) Clean(ds *ml.Dataset, labelColumn string) (*ml.Dataset, CleaningStats, []QualityIssue) {
	stats := CleaningStats{Issues: make(map[string]int)}
	var issues []QualityIssue
	record := func(issue QualityIssue) {
		issues = append(issues, issue)
		stats.Issues[issue.Type]++
	}

	labelIdx, hasLabel := ds.Column(labelColumn)
	columns := make([]int, len(v.Fields))
	for i, f := range v.Fields {
		idx, ok := ds.Column(f.Column)
		if !ok {
			idx = -1
		}
		columns[i] = idx
	}

	seen := make(map[string]int)
	kept := make([][]string, 0, len(ds.Rows))
	for r, row := range ds.Rows {
		stats.TotalProcessed++

		key := make([]string, 0, len(columns)+1)
		for _, idx := range columns {
			if idx >= 0 {
				key = append(key, strings.ToLower(row[idx]))
			}
		}
		if hasLabel {
			key = append(key, strings.ToLower(row[labelIdx]))
		}
		joined := strings.Join(key, "\x1f")
		if first, dup := seen[joined]; dup {
			record(QualityIssue{
				Type: IssueDuplicate, Severity: "high", Row: r + 1,
				Message: fmt.Sprintf("same values as row %d", first),
			})
			stats.Rejected++
			continue
		}
		seen[joined] = r + 1
		kept = append(kept, row)
		stats.Passed++

		if hasLabel {
			raw, ok := ds.Cell(r, labelIdx)
			if _, known := DatasetLabels[strings.ToLower(raw)]; !ok || !known {
				record(QualityIssue{
					Type: IssueMissingLabel, Severity: "medium", Row: r + 1,
					Message: fmt.Sprintf("label %q is not ckd or notckd", raw),
				})
			}
		}

		for i, f := range v.Fields {
			if columns[i] < 0 {
				continue
			}
			raw, ok := ds.Cell(r, columns[i])
			if !ok {
				continue
			}
			val, ok := parseCell(f, raw)
			if !ok {
				record(QualityIssue{
					Type: IssueUnparsable, Severity: "medium", Row: r + 1, Field: f.Key,
					Message: fmt.Sprintf("%q cannot be read, it will be imputed", raw),
				})
				continue
			}
			if f.Kind == KindNumber && (val < f.Min || val > f.Max) {
				record(QualityIssue{
					Type: IssueOutOfRange, Severity: "low", Row: r + 1, Field: f.Key,
					Message: fmt.Sprintf("%s outside the form range [%s, %s]", raw, formatValue(f.Min), formatValue(f.Max)),
				})
			}
		}
	}
	return ds.WithRows(kept), stats, issues
}
