package dataset

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which variant a Cell holds.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "missing"
	}
}

// Cell is a single dataset value: a number, a piece of text, or nothing.
// The zero value is a missing cell.
type Cell struct {
	kind Kind
	num  float64
	text string
}

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{kind: KindNumber, num: f} }

// Text returns a text cell. Booleans and other scalars are carried as text.
func Text(s string) Cell { return Cell{kind: KindText, text: s} }

// Missing returns an explicit empty cell.
func Missing() Cell { return Cell{} }

// Bool returns the text form of a boolean, so boolean columns classify as categorical.
func Bool(b bool) Cell { return Text(strconv.FormatBool(b)) }

// Kind reports the variant held by c.
func (c Cell) Kind() Kind { return c.kind }

// IsMissing reports whether the cell counts as missing: an explicit empty
// cell, or text that is empty after trimming whitespace.
func (c Cell) IsMissing() bool {
	switch c.kind {
	case KindMissing:
		return true
	case KindText:
		return strings.TrimSpace(c.text) == ""
	default:
		return false
	}
}

// decimalPattern accepts plain decimal notation with an optional exponent.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Float converts the cell to a finite float64 without loss of meaning.
// Text converts only when its trimmed form is standard decimal notation.
func (c Cell) Float() (float64, bool) {
	switch c.kind {
	case KindNumber:
		if math.IsNaN(c.num) || math.IsInf(c.num, 0) {
			return 0, false
		}
		return c.num, true
	case KindText:
		return ParseDecimal(c.text)
	default:
		return 0, false
	}
}

// ParseDecimal parses s (trimmed) as a finite decimal number.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !decimalPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// String renders the cell for display and CSV export. Missing cells render empty.
func (c Cell) String() string {
	switch c.kind {
	case KindNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case KindText:
		return c.text
	default:
		return ""
	}
}

// MarshalJSON encodes numbers as JSON numbers, text as strings and missing as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindNumber:
		if math.IsNaN(c.num) || math.IsInf(c.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(c.num)
	case KindText:
		return json.Marshal(c.text)
	default:
		return []byte("null"), nil
	}
}
