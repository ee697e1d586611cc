package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Dataset is a raw string table as read from a CSV file. Cells are trimmed; the
// markers "", "?" and "nan" are treated as missing.
type Dataset struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads CSV with a header row from r. Header names are lowercased and short
// rows are padded with empty cells.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty dataset")
		}
		return nil, err
	}

	ds := &Dataset{index: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		ds.Header = append(ds.Header, name)
		ds.index[name] = i
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]string, len(ds.Header))
		for i := range row {
			if i < len(record) {
				row[i] = strings.TrimSpace(record[i])
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// Column returns the index of a header name.
func (d *Dataset) Column(name string) (int, bool) {
	idx, ok := d.index[strings.ToLower(name)]
	return idx, ok
}

// Cell returns the trimmed value and false when the cell is missing.
func (d *Dataset) Cell(row, col int) (string, bool) {
	v := d.Rows[row][col]
	switch strings.ToLower(v) {
	case "", "?", "nan":
		return "", false
	}
	return v, true
}

// WithRows returns a dataset with the same header over a different row set.
func (d *Dataset) WithRows(rows [][]string) *Dataset {
	return &Dataset{Header: d.Header, Rows: rows, index: d.index}
}
