package schema

import (
	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

// DefaultSampleSize bounds how many leading rows are inspected when
// classifying column types. The missing-value scan always covers every row.
const DefaultSampleSize = 100

// ColumnType is the classification assigned to a column.
type ColumnType string

const (
	TypeNumeric     ColumnType = "numeric"
	TypeCategorical ColumnType = "categorical"
)

// MissingColumn names a column with at least one missing cell.
type MissingColumn struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// DatasetSchema is the structural description of a loaded dataset.
// NumericColumns and CategoricalColumns partition AllColumns and keep its order.
type DatasetSchema struct {
	AllColumns               []string        `json:"allColumns"`
	NumericColumns           []string        `json:"numericColumns"`
	CategoricalColumns       []string        `json:"categoricalColumns"`
	ColumnsWithMissingValues []MissingColumn `json:"columnsWithMissingValues"`
}

// Options tunes inference.
type Options struct {
	// SampleSize caps the rows used for type classification; <= 0 means DefaultSampleSize.
	SampleSize int
}

// Empty returns a schema with every field set to an empty list.
func Empty() DatasetSchema {
	return DatasetSchema{
		AllColumns:               []string{},
		NumericColumns:           []string{},
		CategoricalColumns:       []string{},
		ColumnsWithMissingValues: []MissingColumn{},
	}
}

// Infer classifies columns and inventories missing values using default options.
func Infer(rows []dataset.Row, columns []string) DatasetSchema {
	return InferWithOptions(rows, columns, Options{})
}

// InferWithOptions is Infer with a configurable sample size.
//
// A column is numeric when at least one sampled cell is present and every
// present sampled cell converts to a finite number; otherwise it is
// categorical. Classification looks only at the sample, so a column that
// turns textual after the sample is still reported numeric.
func InferWithOptions(rows []dataset.Row, columns []string, opt Options) DatasetSchema {
	out := Empty()
	sampleSize := opt.SampleSize
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	sample := rows
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		out.AllColumns = append(out.AllColumns, col)

		typ := classify(sample, col)
		if typ == TypeNumeric {
			out.NumericColumns = append(out.NumericColumns, col)
		} else {
			out.CategoricalColumns = append(out.CategoricalColumns, col)
		}
		if hasMissing(rows, col) {
			out.ColumnsWithMissingValues = append(out.ColumnsWithMissingValues, MissingColumn{Name: col, Type: typ})
		}
	}
	return out
}

func classify(sample []dataset.Row, col string) ColumnType {
	observed := false
	for _, r := range sample {
		c := r.Get(col)
		if c.IsMissing() {
			continue
		}
		observed = true
		if _, ok := c.Float(); !ok {
			return TypeCategorical
		}
	}
	if !observed {
		return TypeCategorical
	}
	return TypeNumeric
}

func hasMissing(rows []dataset.Row, col string) bool {
	for _, r := range rows {
		if r.Get(col).IsMissing() {
			return true
		}
	}
	return false
}

// Has reports whether name is one of the schema's columns.
func (s DatasetSchema) Has(name string) bool {
	for _, c := range s.AllColumns {
		if c == name {
			return true
		}
	}
	return false
}

// TypeOf returns the classification of name, or false if the column is unknown.
func (s DatasetSchema) TypeOf(name string) (ColumnType, bool) {
	for _, c := range s.NumericColumns {
		if c == name {
			return TypeNumeric, true
		}
	}
	for _, c := range s.CategoricalColumns {
		if c == name {
			return TypeCategorical, true
		}
	}
	return "", false
}

// IsMissingColumn reports whether name was flagged as having missing values.
func (s DatasetSchema) IsMissingColumn(name string) bool {
	for _, mc := range s.ColumnsWithMissingValues {
		if mc.Name == name {
			return true
		}
	}
	return false
}
