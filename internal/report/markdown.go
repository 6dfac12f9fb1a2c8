package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/schema"
	"github.com/KaramelBytes/cleanloom/internal/session"
)

// Options tunes report rendering.
type Options struct {
	// HeadRows is the number of leading rows printed as a table; 0 omits it.
	HeadRows int
	// MaxCorrelations caps the correlation pairs listed, strongest first.
	MaxCorrelations int
}

// DefaultOptions are used by the CLI and server.
var DefaultOptions = Options{HeadRows: 5, MaxCorrelations: 10}

const maxCellWidth = 80

// Markdown renders a compact, sectioned analysis of one dataset.
func Markdown(name string, rows []dataset.Row, sc schema.DatasetSchema, sum eda.Summary, st session.Stats, opt Options) string {
	var b strings.Builder

	b.WriteString("[DATASET SUMMARY]\n")
	if name != "" {
		fmt.Fprintf(&b, "File: %s\n", name)
	}
	fmt.Fprintf(&b, "Rows: %d\n", len(rows))
	fmt.Fprintf(&b, "Columns: %d (numeric %d, categorical %d)\n\n",
		len(sc.AllColumns), len(sc.NumericColumns), len(sc.CategoricalColumns))

	b.WriteString("[SCHEMA]\n")
	nulls := make(map[string]int, len(sum.NullValueAnalysis))
	for _, n := range sum.NullValueAnalysis {
		nulls[n.Name] = n.Missing
	}
	for _, col := range sc.AllColumns {
		typ, _ := sc.TypeOf(col)
		missing := nulls[col]
		pct := 0.0
		if len(rows) > 0 {
			pct = float64(missing) / float64(len(rows)) * 100
		}
		fmt.Fprintf(&b, "- %s: %s (non-null %d, missing %.1f%%)\n", safeName(col), typ, len(rows)-missing, pct)
	}
	b.WriteString("\n")

	b.WriteString("[MISSING VALUES]\n")
	if len(sc.ColumnsWithMissingValues) == 0 {
		b.WriteString("No missing values.\n")
	}
	for _, mc := range sc.ColumnsWithMissingValues {
		fmt.Fprintf(&b, "- %s (%s): %d missing\n", safeName(mc.Name), mc.Type, nulls[mc.Name])
	}
	b.WriteString("\n")

	b.WriteString("[VALUE DISTRIBUTION]\n")
	if len(sum.ValueDistributions) == 0 {
		b.WriteString("No numeric column with valid values.\n")
	}
	for _, vd := range sum.ValueDistributions {
		fmt.Fprintf(&b, "Column: %s\n", safeName(vd.Column))
		for _, bin := range vd.Distribution {
			fmt.Fprintf(&b, "- %s: %d\n", bin.Name, bin.Count)
		}
	}
	b.WriteString("\n")

	if len(st.Numeric) > 0 {
		b.WriteString("[NUMERIC SUMMARY]\n")
		for _, ns := range st.Numeric {
			if ns.Count == 0 {
				fmt.Fprintf(&b, "- %s: no valid values (missing %d, invalid %d)\n", safeName(ns.Column), ns.Missing, ns.Invalid)
				continue
			}
			fmt.Fprintf(&b, "- %s: count %d, mean %s, std %s, min %s, q1 %s, median %s, q3 %s, max %s, outliers %d",
				safeName(ns.Column), ns.Count, num(ns.Mean), num(ns.Std), num(ns.Min), num(ns.Q1),
				num(ns.Median), num(ns.Q3), num(ns.Max), ns.Outliers)
			if ns.Invalid > 0 {
				fmt.Fprintf(&b, ", invalid %d", ns.Invalid)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if pairs := topPairs(st.Correlations, opt.MaxCorrelations); len(pairs) > 0 {
		b.WriteString("[CORRELATIONS]\n")
		for _, p := range pairs {
			fmt.Fprintf(&b, "- %s ~ %s: r=%.3f\n", safeName(p.a), safeName(p.b), p.r)
		}
		b.WriteString("\n")
	}

	if opt.HeadRows > 0 && len(rows) > 0 && len(sc.AllColumns) > 0 {
		b.WriteString("[HEAD]\n")
		writeTable(&b, sc.AllColumns, rows, opt.HeadRows)
	}
	return b.String()
}

// SnapshotMarkdown renders the report of a committed session snapshot.
func SnapshotMarkdown(snap *session.Snapshot, opt Options) string {
	var rows []dataset.Row
	name := snap.Source
	if snap.Dataset != nil {
		rows = snap.Dataset.Rows
		if snap.Dataset.Name != "" {
			name = snap.Dataset.Name
		}
	}
	return Markdown(name, rows, snap.Schema, snap.EDA, snap.Stats, opt)
}

type corrPair struct {
	a, b string
	r    float64
}

func topPairs(m *eda.CorrMatrix, limit int) []corrPair {
	if m == nil || limit <= 0 {
		return nil
	}
	var pairs []corrPair
	for i := 0; i < len(m.Columns); i++ {
		for j := i + 1; j < len(m.Columns); j++ {
			r := m.Values[i][j]
			if r == 0 || math.IsNaN(r) {
				continue
			}
			pairs = append(pairs, corrPair{m.Columns[i], m.Columns[j], r})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return math.Abs(pairs[i].r) > math.Abs(pairs[j].r)
	})
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func writeTable(b *strings.Builder, cols []string, rows []dataset.Row, n int) {
	if n > len(rows) {
		n = len(rows)
	}
	b.WriteString("|")
	for _, c := range cols {
		b.WriteString(" " + safeName(c) + " |")
	}
	b.WriteString("\n|")
	for range cols {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows[:n] {
		b.WriteString("|")
		for _, c := range cols {
			b.WriteString(" " + safeVal(r.Get(c).String()) + " |")
		}
		b.WriteString("\n")
	}
}

func num(f float64) string {
	return fmt.Sprintf("%.4g", f)
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return strings.ReplaceAll(s, "|", "/")
}

func safeVal(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth-3]) + "..."
	}
	return s
}
