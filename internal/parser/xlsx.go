package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

type xlsxDecoder struct{}

func (xlsxDecoder) CanDecode(name, mediaType string) bool {
	if name != "" {
		return hasExt(name, ".xlsx", ".xlsm")
	}
	return mediaType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Decode reads one sheet of a workbook. Cells come back as their formatted
// text, so numeric cells classify through the same decimal rule as CSV.
func (xlsxDecoder) Decode(r io.Reader, name string, opt Options) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet, err := pickSheet(f.GetSheetList(), opt.Sheet)
	if err != nil {
		return nil, err
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var sink *rowSink
	for rows.Next() {
		rec, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if sink == nil {
			if len(rec) == 0 {
				// leading blank rows before the header
				continue
			}
			sink = newRowSink(name, rec, opt)
			continue
		}
		cells := make([]dataset.Cell, len(rec))
		for i, v := range rec {
			cells[i] = textCell(v)
		}
		if !sink.add(cells) {
			break
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if sink == nil {
		return nil, ErrEmpty
	}
	return sink.ds, nil
}

// pickSheet matches want case-insensitively, defaulting to the first sheet.
func pickSheet(sheets []string, want string) (string, error) {
	if len(sheets) == 0 {
		return "", ErrEmpty
	}
	if want == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if strings.EqualFold(s, want) {
			return s, nil
		}
	}
	return "", fmt.Errorf("sheet %q not found; available sheets: %s", want, strings.Join(sheets, ", "))
}
