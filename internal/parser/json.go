package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

type jsonDecoder struct{}

func (jsonDecoder) CanDecode(name, mediaType string) bool {
	if name != "" {
		return hasExt(name, ".json")
	}
	return mediaType == "application/json"
}

// Decode reads an array of flat objects. Columns are keys in order of first
// appearance; nested values are kept as raw JSON text.
func (jsonDecoder) Decode(r io.Reader, name string, opt Options) (*dataset.Dataset, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(body)
	// Accept {"data": [...]} envelopes as well as bare arrays.
	if root.IsObject() {
		if data := root.Get("data"); data.IsArray() {
			root = data
		}
	}
	if !root.IsArray() {
		return nil, errors.New("json dataset must be an array of objects")
	}

	var columns []string
	index := map[string]bool{}
	var records []map[string]dataset.Cell
	var bad error
	root.ForEach(func(i, item gjson.Result) bool {
		if !item.IsObject() {
			bad = fmt.Errorf("json element %d is not an object", i.Int())
			return false
		}
		rec := map[string]dataset.Cell{}
		item.ForEach(func(k, v gjson.Result) bool {
			key := strings.TrimSpace(k.String())
			if _, dup := rec[key]; dup {
				return true
			}
			if !index[key] {
				index[key] = true
				columns = append(columns, key)
			}
			rec[key] = jsonCell(v)
			return true
		})
		records = append(records, rec)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	if len(columns) == 0 {
		return nil, ErrEmpty
	}

	sink := newRowSink(name, columns, opt)
	// NormalizeHeaders may rename blank keys; map positions back to source keys.
	for _, rec := range records {
		cells := make([]dataset.Cell, len(columns))
		for i, c := range columns {
			if v, ok := rec[c]; ok {
				cells[i] = v
			}
		}
		if !sink.add(cells) {
			break
		}
	}
	return sink.ds, nil
}

func jsonCell(v gjson.Result) dataset.Cell {
	switch v.Type {
	case gjson.Number:
		return dataset.Number(v.Float())
	case gjson.String:
		return textCell(v.String())
	case gjson.True:
		return dataset.Bool(true)
	case gjson.False:
		return dataset.Bool(false)
	case gjson.Null:
		return dataset.Missing()
	default:
		return dataset.Text(v.Raw)
	}
}
