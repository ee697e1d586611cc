package form

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ckdrisk/ml"
)

// DatasetLabels maps the CKD dataset's classification column to model classes.
// Class 0 is the disease class.
var DatasetLabels = map[string]int{
	"ckd":    0,
	"notckd": 1,
}

// Vectorize builds a training matrix for the variant from a raw dataset. Missing
// numeric cells take the column median, missing choices the most frequent code.
// Rows with an unknown or missing label are skipped.
func (v *Variant) Vectorize(ds *ml.Dataset, labelColumn string) ([][]float64, []int, error) {
	labelIdx, ok := ds.Column(labelColumn)
	if !ok {
		return nil, nil, fmt.Errorf("dataset has no %q column", labelColumn)
	}
	columns := make([]int, len(v.Fields))
	for i, f := range v.Fields {
		idx, ok := ds.Column(f.Column)
		if !ok {
			return nil, nil, fmt.Errorf("dataset has no %q column for field %s", f.Column, f.Key)
		}
		columns[i] = idx
	}

	var rows []int
	var labels []int
	for r := range ds.Rows {
		raw, ok := ds.Cell(r, labelIdx)
		if !ok {
			continue
		}
		label, known := DatasetLabels[strings.ToLower(raw)]
		if !known {
			continue
		}
		rows = append(rows, r)
		labels = append(labels, label)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("dataset has no labelled rows")
	}

	matrix := make([][]float64, len(rows))
	for i := range matrix {
		matrix[i] = make([]float64, len(v.Fields))
	}
	for j, f := range v.Fields {
		parsed := make([]float64, len(rows))
		present := make([]bool, len(rows))
		var observed []float64
		for i, r := range rows {
			raw, ok := ds.Cell(r, columns[j])
			if !ok {
				continue
			}
			val, ok := parseCell(f, raw)
			if !ok {
				continue
			}
			parsed[i], present[i] = val, true
			observed = append(observed, val)
		}
		fill := imputeValue(f, observed)
		for i := range rows {
			if present[i] {
				matrix[i][j] = parsed[i]
			} else {
				matrix[i][j] = fill
			}
		}
	}
	return matrix, labels, nil
}

func parseCell(f Field, raw string) (float64, bool) {
	if f.Kind == KindChoice {
		return f.EncodeAlias(raw)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func imputeValue(f Field, observed []float64) float64 {
	if len(observed) == 0 {
		return f.Default
	}
	if f.Kind == KindChoice {
		return mode(observed)
	}
	return median(observed)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// mode returns the most frequent value, preferring the larger on ties.
func mode(values []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := 0.0, -1
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v > best) {
			best, bestCount = v, c
		}
	}
	return best
}
