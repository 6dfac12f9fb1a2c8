package parser

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

// Options controls decoding of tabular sources.
type Options struct {
	// MaxRows limits data rows kept after empty rows are dropped; 0 means unlimited.
	MaxRows int
	// Sheet selects a workbook sheet by name. Empty means the first sheet.
	Sheet string
	// Delimiter for CSV. If 0, sniffs among ',', ';', '\t' and '|'.
	Delimiter rune
}

// Decoder turns one tabular format into a Dataset.
type Decoder interface {
	// CanDecode reports whether the decoder handles a source with this file
	// name or media type. Either may be empty.
	CanDecode(name, mediaType string) bool
	Decode(r io.Reader, name string, opt Options) (*dataset.Dataset, error)
}

var registry []Decoder

// Register adds a decoder implementation to the registry.
func Register(d Decoder) {
	registry = append(registry, d)
}

// ErrUnsupported indicates a format is not supported.
var ErrUnsupported = errors.New("unsupported dataset format")

// ErrEmpty indicates a source without a header row.
var ErrEmpty = errors.New("dataset has no header row")

// Lookup returns the decoder for a file name or Content-Type header value.
func Lookup(name, contentType string) (Decoder, error) {
	mt := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mt = parsed
		}
	}
	// Extension first, so a generic octet-stream upload still resolves.
	for _, d := range registry {
		if d.CanDecode(name, "") {
			return d, nil
		}
	}
	if mt != "" {
		for _, d := range registry {
			if d.CanDecode("", mt) {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(name))
}

// Decode selects a decoder from name or contentType and reads r.
func Decode(name, contentType string, r io.Reader, opt Options) (*dataset.Dataset, error) {
	d, err := Lookup(name, contentType)
	if err != nil {
		return nil, err
	}
	ds, err := d.Decode(r, name, opt)
	if err != nil {
		return nil, err
	}
	if name != "" {
		ds.Name = filepath.Base(name)
	}
	return ds, nil
}

// DecodeFile opens path and decodes it by extension.
func DecodeFile(path string, opt Options) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Decode(path, "", f, opt)
}

// Supported reports whether some decoder handles the name or content type.
func Supported(name, contentType string) bool {
	_, err := Lookup(name, contentType)
	return err == nil
}

func hasExt(name string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// NormalizeHeaders trims header names, names blank ones column_N (1-based)
// and suffixes repeats with _2, _3 and so on.
func NormalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		base := name
		for n := 2; seen[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// textCell maps a raw field to a cell. Blank fields are missing.
func textCell(s string) dataset.Cell {
	if strings.TrimSpace(s) == "" {
		return dataset.Missing()
	}
	return dataset.Text(s)
}

// rowSink accumulates positional records into a dataset, dropping empty rows
// and enforcing MaxRows.
type rowSink struct {
	ds      *dataset.Dataset
	maxRows int
}

func newRowSink(name string, header []string, opt Options) *rowSink {
	return &rowSink{ds: dataset.New(name, NormalizeHeaders(header)), maxRows: opt.MaxRows}
}

// add appends a record and reports whether more rows are wanted.
func (s *rowSink) add(cells []dataset.Cell) bool {
	if s.full() {
		return false
	}
	if len(cells) > len(s.ds.Columns) {
		cells = cells[:len(s.ds.Columns)]
	}
	empty := true
	for _, c := range cells {
		if !c.IsMissing() {
			empty = false
			break
		}
	}
	if !empty {
		s.ds.Append(cells)
	}
	return !s.full()
}

func (s *rowSink) full() bool {
	return s.maxRows > 0 && s.ds.Len() >= s.maxRows
}

func init() {
	Register(csvDecoder{})
	Register(xlsxDecoder{})
	Register(jsonDecoder{})
}
