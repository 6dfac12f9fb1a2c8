package eda

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/schema"
)

// NumericSummary captures descriptive statistics for one numeric column.
type NumericSummary struct {
	Column   string  `json:"column"`
	Count    int     `json:"count"`
	Missing  int     `json:"missing"`
	Invalid  int     `json:"invalid"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Std      float64 `json:"std"`
	Q1       float64 `json:"q1"`
	Q3       float64 `json:"q3"`
	Skew     float64 `json:"skew"`     // sample skewness, 0 without spread
	Outliers int     `json:"outliers"` // outside the 1.5*IQR fences
}

// Describe summarizes every numeric column of the schema over all rows.
// Cells that are present but do not convert are counted as Invalid.
func Describe(rows []dataset.Row, s schema.DatasetSchema) []NumericSummary {
	out := make([]NumericSummary, 0, len(s.NumericColumns))
	for _, col := range s.NumericColumns {
		ns := NumericSummary{Column: col}
		var vals []float64
		for _, r := range rows {
			c := r.Get(col)
			if c.IsMissing() {
				ns.Missing++
				continue
			}
			f, ok := c.Float()
			if !ok {
				ns.Invalid++
				continue
			}
			vals = append(vals, f)
		}
		ns.Count = len(vals)
		if ns.Count > 0 {
			fillNumeric(&ns, vals)
		}
		out = append(out, ns)
	}
	return out
}

func fillNumeric(ns *NumericSummary, vals []float64) {
	data := stats.Float64Data(vals)
	ns.Min, _ = stats.Min(data)
	ns.Max, _ = stats.Max(data)
	ns.Mean, _ = stats.Mean(data)
	ns.Median, _ = stats.Median(data)
	if len(vals) > 1 {
		ns.Std, _ = stats.StandardDeviationSample(data)
	}
	if len(vals) > 2 && ns.Std > 0 {
		ns.Skew = stat.Skew(vals, nil)
	}
	if len(vals) < 4 {
		ns.Q1, ns.Q3 = ns.Min, ns.Max
		return
	}
	q, err := stats.Quartile(data)
	if err != nil {
		return
	}
	ns.Q1, ns.Q3 = q.Q1, q.Q3
	lowFence, highFence := IQRFences(q.Q1, q.Q3)
	for _, v := range vals {
		if v < lowFence || v > highFence {
			ns.Outliers++
		}
	}
}

// IQRFences returns the 1.5*IQR outlier fences for the given quartiles.
func IQRFences(q1, q3 float64) (low, high float64) {
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// CorrMatrix is a symmetric Pearson correlation matrix across numeric columns.
type CorrMatrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// minCorrPairs is the fewest shared observations needed to report a coefficient.
const minCorrPairs = 3

// Correlations computes pairwise Pearson coefficients among numeric columns,
// using only rows where both cells convert. Pairs without enough shared
// observations or without variance report 0. Returns nil with fewer than two
// numeric columns.
func Correlations(rows []dataset.Row, s schema.DatasetSchema) *CorrMatrix {
	cols := s.NumericColumns
	if len(cols) < 2 {
		return nil
	}
	m := &CorrMatrix{Columns: append([]string(nil), cols...), Values: make([][]float64, len(cols))}
	for i := range m.Values {
		m.Values[i] = make([]float64, len(cols))
		m.Values[i][i] = 1
	}
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			r := pairCorrelation(rows, cols[i], cols[j])
			m.Values[i][j] = r
			m.Values[j][i] = r
		}
	}
	return m
}

func pairCorrelation(rows []dataset.Row, a, b string) float64 {
	var xs, ys []float64
	for _, r := range rows {
		x, okx := r.Get(a).Float()
		y, oky := r.Get(b).Float()
		if okx && oky {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < minCorrPairs {
		return 0
	}
	r, err := stats.Pearson(xs, ys)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}
