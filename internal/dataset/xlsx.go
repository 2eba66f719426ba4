package dataset

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// SheetNames lists the sheets of an XLSX workbook in order.
func SheetNames(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	names := make([]string, len(f.Sheets))
	for i, s := range f.Sheets {
		names[i] = s.Name
	}
	return names, nil
}

// LoadXLSX reads one sheet; its first row is the header.
func LoadXLSX(path string, opts XLSXOptions) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("xlsx: sheet %q is empty", sheet.Name)
	}

	header := rowToStrings(sheet.Rows[0])
	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return New(header, rows), nil
}

// SaveXLSX writes the table to a single-sheet workbook with wrapped text so
// multi-line results stay readable.
func SaveXLSX(path string, t *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	writeSheet(sheet, t)
	return eris.Wrap(f.Save(path), "xlsx: save file")
}

// ReplaceSheetXLSX rewrites one sheet of an existing workbook with the table.
// The other sheets and the sheet's name are kept. An empty name selects the
// first sheet.
func ReplaceSheetXLSX(path, name string, t *Table) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := getSheet(f, XLSXOptions{SheetName: name})
	if err != nil {
		return err
	}
	sheet.Rows = nil
	sheet.MaxRow = 0
	sheet.MaxCol = 0
	writeSheet(sheet, t)
	return eris.Wrap(f.Save(path), "xlsx: save file")
}

func writeSheet(sheet *xlsx.Sheet, t *Table) {
	wrap := xlsx.NewStyle()
	wrap.Alignment.WrapText = true
	wrap.ApplyAlignment = true

	addRow := func(values []string) {
		row := sheet.AddRow()
		for _, v := range values {
			cell := row.AddCell()
			cell.SetString(v)
			cell.SetStyle(wrap)
		}
	}
	addRow(t.header)
	for _, r := range t.rows {
		addRow(r)
	}
	if len(t.header) > 0 {
		sheet.SetColWidth(0, len(t.header)-1, 20)
	}
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// LoadFile dispatches on the file extension. sheet selects a workbook sheet
// and is ignored for CSV.
func LoadFile(ctx context.Context, path, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(ctx, path)
	case ".xlsx":
		return LoadXLSX(path, XLSXOptions{SheetName: sheet})
	default:
		return nil, eris.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
}

// SaveFile dispatches on the file extension.
func SaveFile(path string, t *Table) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return SaveCSV(path, t)
	case ".xlsx":
		return SaveXLSX(path, t)
	default:
		return eris.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
}
