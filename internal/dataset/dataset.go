package dataset

// Row maps a column name to its cell. An absent key is a missing cell.
type Row map[string]Cell

// Get returns the cell for column, or a missing cell if the row has none.
func (r Row) Get(column string) Cell {
	if r == nil {
		return Missing()
	}
	return r[column]
}

// Dataset is a rectangular table with an ordered column list.
type Dataset struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// New returns a dataset with the given name and columns.
func New(name string, columns []string) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Dataset{Name: name, Columns: cols, Rows: []Row{}}
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Append adds a row built from positional values aligned with Columns.
// Surplus values are dropped and short rows leave trailing cells missing.
func (d *Dataset) Append(values []Cell) {
	row := make(Row, len(d.Columns))
	for i, col := range d.Columns {
		if i < len(values) {
			row[col] = values[i]
		} else {
			row[col] = Missing()
		}
	}
	d.Rows = append(d.Rows, row)
}

// Head returns up to n leading rows. n <= 0 returns all rows.
func (d *Dataset) Head(n int) []Row {
	if d == nil {
		return nil
	}
	if n <= 0 || n >= len(d.Rows) {
		return d.Rows
	}
	return d.Rows[:n]
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := New(d.Name, d.Columns)
	out.Rows = make([]Row, len(d.Rows))
	for i, r := range d.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// Values returns the column's cells in row order.
func (d *Dataset) Values(column string) []Cell {
	out := make([]Cell, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Get(column)
	}
	return out
}

// IsEmptyRow reports whether every listed column is missing in r.
func IsEmptyRow(r Row, columns []string) bool {
	for _, c := range columns {
		if !r.Get(c).IsMissing() {
			return false
		}
	}
	return true
}

// DropEmptyRows removes rows in which every listed column is missing.
func DropEmptyRows(rows []Row, columns []string) []Row {
	out := rows[:0:0]
	for _, r := range rows {
		if IsEmptyRow(r, columns) {
			continue
		}
		out = append(out, r)
	}
	return out
}
