package parser

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

// EncodeCSV writes ds as CSV with a header row. Missing cells are empty fields.
func EncodeCSV(w io.Writer, ds *dataset.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, len(ds.Columns))
	for _, r := range ds.Rows {
		for i, c := range ds.Columns {
			rec[i] = r.Get(c).String()
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeXLSX writes ds to a single-sheet workbook. Numeric cells, including
// numeric text, are stored as numbers.
func EncodeXLSX(w io.Writer, ds *dataset.Dataset) error {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	header := make([]interface{}, len(ds.Columns))
	for i, c := range ds.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for ri, r := range ds.Rows {
		vals := make([]interface{}, len(ds.Columns))
		for i, c := range ds.Columns {
			cell := r.Get(c)
			switch {
			case cell.IsMissing():
				vals[i] = nil
			default:
				if num, ok := cell.Float(); ok {
					vals[i] = num
				} else {
					vals[i] = cell.String()
				}
			}
		}
		addr, err := excelize.CoordinatesToCellName(1, ri+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &vals); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", ri+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
