package eda

import (
	"github.com/montanaflynn/stats"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/schema"
)

// Type distribution labels.
const (
	LabelNumeric     = "Numeric"
	LabelCategorical = "Categorical"
)

// TypeCount is the number of columns of one type.
type TypeCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// NullCount is the number of missing cells in one column.
type NullCount struct {
	Name    string `json:"name"`
	Missing int    `json:"missing"`
}

// Bin is one histogram bucket.
type Bin struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ValueDistribution is the histogram of a numeric column.
type ValueDistribution struct {
	Column       string `json:"column"`
	Distribution []Bin  `json:"distribution"`
}

// Summary holds the descriptive statistics rendered by the dashboard.
type Summary struct {
	DataTypeDistribution []TypeCount         `json:"dataTypeDistribution"`
	NullValueAnalysis    []NullCount         `json:"nullValueAnalysis"`
	ValueDistributions   []ValueDistribution `json:"valueDistributions"`
}

// Representative selects which numeric column gets a histogram.
type Representative string

const (
	// RepresentativeFirst picks the first numeric column in schema order.
	RepresentativeFirst Representative = "first"
	// RepresentativeVariance picks the numeric column whose valid values have
	// the greatest population variance; ties go to the earlier column.
	RepresentativeVariance Representative = "variance"
)

// ParseRepresentative maps a config or flag value to a Representative.
func ParseRepresentative(s string) (Representative, bool) {
	switch Representative(s) {
	case "", RepresentativeFirst:
		return RepresentativeFirst, true
	case RepresentativeVariance:
		return RepresentativeVariance, true
	}
	return "", false
}

// Options tunes Compute.
type Options struct {
	Representative Representative
}

// Empty returns a summary whose fields are empty lists.
func Empty() Summary {
	return Summary{
		DataTypeDistribution: []TypeCount{},
		NullValueAnalysis:    []NullCount{},
		ValueDistributions:   []ValueDistribution{},
	}
}

// Compute aggregates the summary for rows described by s.
func Compute(rows []dataset.Row, s schema.DatasetSchema) Summary {
	return ComputeWithOptions(rows, s, Options{})
}

// ComputeWithOptions is Compute with a configurable histogram column rule.
func ComputeWithOptions(rows []dataset.Row, s schema.DatasetSchema, opt Options) Summary {
	out := Empty()
	if len(rows) == 0 {
		return out
	}

	if n := len(s.NumericColumns); n > 0 {
		out.DataTypeDistribution = append(out.DataTypeDistribution, TypeCount{Name: LabelNumeric, Value: n})
	}
	if n := len(s.CategoricalColumns); n > 0 {
		out.DataTypeDistribution = append(out.DataTypeDistribution, TypeCount{Name: LabelCategorical, Value: n})
	}

	// Recount over every row; the schema flag alone is not trusted.
	for _, mc := range s.ColumnsWithMissingValues {
		missing := 0
		for _, r := range rows {
			if r.Get(mc.Name).IsMissing() {
				missing++
			}
		}
		if missing > 0 {
			out.NullValueAnalysis = append(out.NullValueAnalysis, NullCount{Name: mc.Name, Missing: missing})
		}
	}

	col, values := representative(rows, s.NumericColumns, opt.Representative)
	if col != "" {
		if bins := Histogram(values); len(bins) > 0 {
			out.ValueDistributions = append(out.ValueDistributions, ValueDistribution{Column: col, Distribution: bins})
		}
	}
	return out
}

// ValidValues returns the column's cells that convert to finite numbers, in row order.
func ValidValues(rows []dataset.Row, column string) []float64 {
	var out []float64
	for _, r := range rows {
		if f, ok := r.Get(column).Float(); ok {
			out = append(out, f)
		}
	}
	return out
}

func representative(rows []dataset.Row, numeric []string, rule Representative) (string, []float64) {
	if len(numeric) == 0 {
		return "", nil
	}
	if rule != RepresentativeVariance {
		return numeric[0], ValidValues(rows, numeric[0])
	}
	best, bestVals, bestVar := "", []float64(nil), -1.0
	for _, col := range numeric {
		vals := ValidValues(rows, col)
		v := 0.0
		if len(vals) >= 2 {
			if pv, err := stats.PopulationVariance(vals); err == nil {
				v = pv
			}
		}
		if v > bestVar {
			best, bestVals, bestVar = col, vals, v
		}
	}
	return best, bestVals
}
