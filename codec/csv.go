package codec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// WriteCSV writes g as CSV with a header row. Missing attributes and
// NULLs are both written as empty fields.
func WriteCSV(w io.Writer, g Grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(g.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	record := make([]string, len(g.Columns))
	for _, row := range g.Rows {
		for i, col := range g.Columns {
			record[i] = row[col].Display()
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a file written by WriteCSV, possibly edited elsewhere.
// Every field becomes a text cell and every row addresses the baseline row
// with the same key, so types and NULLs are resolved against the baseline
// by DecodeGrid.
func ReadCSV(r io.Reader) ([]EditedRow, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("CSV is empty")
	}
	header := records[0]
	rows := make([]EditedRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		cells := make(Row, len(header))
		for i, col := range header {
			cells[col] = TextCell(rec[i])
		}
		rows = append(rows, EditedRow{ByKey: true, Cells: cells})
	}
	return rows, nil
}
