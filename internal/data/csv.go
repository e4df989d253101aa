package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

// TextColumns are always read as text, even when every value parses as a
// number.
var TextColumns = []string{ColName, ColIntegrand, ColDensity, "location_name"}

// ReadCSV reads a frame with a header row. A column whose non-empty cells
// all parse as numbers is numeric; empty cells are null.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("reading csv: missing header row")
	}
	header, rows := records[0], records[1:]
	f := NewFrame(len(rows))
	for j, name := range header {
		cells := make([]string, len(rows))
		null := make([]bool, len(rows))
		for i, rec := range rows {
			cells[i] = rec[j]
			null[i] = rec[j] == ""
		}
		if nums, ok := parseNumbers(cells, null); ok && !slices.Contains(TextColumns, name) {
			err = f.SetFloat(name, nums)
		} else {
			err = f.SetText(name, cells, null)
		}
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseNumbers(cells []string, null []bool) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		if null[i] {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// WriteCSV writes the frame with a header row; nulls are empty cells.
func WriteCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.order); err != nil {
		return err
	}
	cols := make([][]string, len(f.order))
	nulls := make([][]bool, len(f.order))
	for j, name := range f.order {
		cols[j], nulls[j], _ = f.Text(name)
	}
	rec := make([]string, len(f.order))
	for i := 0; i < f.n; i++ {
		for j := range f.order {
			if nulls[j][i] {
				rec[j] = ""
			} else {
				rec[j] = cols[j][i]
			}
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
