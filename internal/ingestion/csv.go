package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a whole CSV document into a TabularPayload.
//
// The first record is the header. Header names are trimmed and must be unique and
// non-empty. Every data row must have as many fields as the header. Empty cells
// become nil; everything else is kept as a string so values such as zip codes keep
// their leading zeros. Blank lines are skipped.
func ParseCSV(r io.Reader) (*TabularPayload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read failed: %w", ErrMalformedInput, err)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: file has zero bytes", ErrEmptyInput)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedInput, err)
	}

	columns, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []Row

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if record[i] == "" {
				row[col] = nil
			} else {
				row[col] = record[i]
			}
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file has a header but zero rows", ErrEmptyInput)
	}

	return &TabularPayload{Columns: columns, Rows: rows}, nil
}

func parseHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]int, len(header))

	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: header column %d is empty", ErrMalformedInput, i+1)
		}

		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: header column %q appears at positions %d and %d",
				ErrMalformedInput, name, prev+1, i+1)
		}

		seen[name] = i
		columns[i] = name
	}

	return columns, nil
}
