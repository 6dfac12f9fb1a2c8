package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

type csvDecoder struct{}

func (csvDecoder) CanDecode(name, mediaType string) bool {
	if name != "" {
		return hasExt(name, ".csv", ".tsv", ".txt")
	}
	switch mediaType {
	case "text/csv", "text/tab-separated-values", "application/csv", "text/plain":
		return true
	}
	return false
}

func (csvDecoder) Decode(r io.Reader, name string, opt Options) (*dataset.Dataset, error) {
	br := bufio.NewReader(r)
	delim := opt.Delimiter
	if delim == 0 {
		if hasExt(name, ".tsv") {
			delim = '\t'
		} else {
			first, err := br.Peek(peekSize(br))
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			delim = sniffDelimiter(string(first))
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil, ErrEmpty
	}

	sink := newRowSink(name, header, opt)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		cells := make([]dataset.Cell, len(rec))
		for i, v := range rec {
			cells[i] = textCell(v)
		}
		if !sink.add(cells) {
			break
		}
	}
	return sink.ds, nil
}

// peekSize is how much of the input is inspected for the header line.
func peekSize(br *bufio.Reader) int {
	if n := br.Size(); n < 4096 {
		return n
	}
	return 4096
}

// sniffDelimiter counts candidate delimiters outside quotes on the first line
// and picks the most frequent. Ties and a line without candidates give ','.
func sniffDelimiter(sample string) rune {
	if i := strings.IndexAny(sample, "\r\n"); i >= 0 {
		sample = sample[:i]
	}
	candidates := []rune{',', ';', '\t', '|'}
	counts := make(map[rune]int, len(candidates))
	inQuotes := false
	for _, r := range sample {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}
	best, bestN := ',', 0
	for _, c := range candidates {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return best
}
