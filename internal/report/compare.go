package report

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/cleanloom/internal/session"
)

// Compare summarizes how a cleaning run changed the dataset shape and its
// missing values.
func Compare(before, after *session.Snapshot) string {
	var b strings.Builder
	b.WriteString("[BEFORE AND AFTER]\n")
	fmt.Fprintf(&b, "Rows: %d -> %d\n", rowCount(before), rowCount(after))
	fmt.Fprintf(&b, "Columns: %d -> %d\n", len(before.Schema.AllColumns), len(after.Schema.AllColumns))
	fmt.Fprintf(&b, "Missing cells: %d -> %d\n", missingTotal(before), missingTotal(after))

	dropped := difference(before.Schema.AllColumns, after.Schema.AllColumns)
	added := difference(after.Schema.AllColumns, before.Schema.AllColumns)
	if len(dropped) > 0 {
		fmt.Fprintf(&b, "Removed columns: %s\n", strings.Join(dropped, ", "))
	}
	if len(added) > 0 {
		fmt.Fprintf(&b, "New columns: %s\n", strings.Join(added, ", "))
	}

	var changed []string
	for _, col := range after.Schema.AllColumns {
		was, ok := before.Schema.TypeOf(col)
		if !ok {
			continue
		}
		if now, _ := after.Schema.TypeOf(col); now != was {
			changed = append(changed, fmt.Sprintf("%s (%s -> %s)", col, was, now))
		}
	}
	if len(changed) > 0 {
		fmt.Fprintf(&b, "Type changes: %s\n", strings.Join(changed, ", "))
	}
	return b.String()
}

func rowCount(s *session.Snapshot) int {
	if s.Dataset == nil {
		return 0
	}
	return s.Dataset.Len()
}

func missingTotal(s *session.Snapshot) int {
	n := 0
	for _, nc := range s.EDA.NullValueAnalysis {
		n += nc.Missing
	}
	return n
}

// difference returns the names in a that are not in b, in a's order.
func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}
