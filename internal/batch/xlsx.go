package batch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMalformedWorkbook is returned when an xlsx export cannot be read as a table.
var ErrMalformedWorkbook = errors.New("malformed workbook")

// DecodeXLSX reads one sheet of an xlsx workbook into a Table. An empty sheet
// name selects the first sheet. Cells are taken as displayed, so numbers keep
// the workbook's formatting. Fully empty rows are skipped.
func DecodeXLSX(data []byte, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("DecodeXLSX: %w: %v", ErrMalformedWorkbook, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("DecodeXLSX: workbook has no sheets: %w", ErrMalformedWorkbook)
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("DecodeXLSX: sheet %q: %w: %v", sheet, ErrMalformedWorkbook, err)
	}

	t := &Table{}
	for i, row := range rows {
		if isBlankRow(row) {
			continue
		}
		if t.Columns == nil {
			t.Columns = trimCells(row)
			continue
		}
		if len(row) > len(t.Columns) {
			return nil, fmt.Errorf("DecodeXLSX: row %d has %d cells, header has %d: %w",
				i+1, len(row), len(t.Columns), ErrMalformedWorkbook)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
