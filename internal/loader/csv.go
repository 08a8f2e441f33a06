package loader

import (
	"bytes"
	"encoding/csv"
	"io"
)

const defaultSampleRows = 200

// parseDelimited returns a parseFunc for a fixed single-character
// separator, shared by CSV and TSV (which differ only in the separator)
// and reused by the TXT auto-detector once it has picked a winner.
func parseDelimited(sep rune, malformedKind error) parseFunc {
	return func(raw []byte, headOnly bool, n int) (*Frame, error) {
		return parseDelimitedBytes(raw, sep, headOnly, n, malformedKind)
	}
}

func parseDelimitedBytes(raw []byte, sep rune, headOnly bool, n int, malformedKind error) (*Frame, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, newError("parse", "", malformedKind, err)
	}
	if err != nil {
		return nil, newError("parse", "", malformedKind, err)
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newError("parse", "", malformedKind, err)
		}
		rows = append(rows, normalizeWidth(record, len(header)))
		if headOnly && n > 0 && len(rows) >= n {
			break
		}
	}

	return &Frame{
		Columns:          header,
		ColumnTypes:      inferColumnTypes(rows, len(header), defaultSampleRows),
		Rows:             rows,
		RowCountEstimate: estimateDataRows(raw, true),
	}, nil
}

func normalizeWidth(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

// scoreDelimiter splits each of the first maxLines non-empty lines on sep,
// returning the field count of the first one and whether every sampled
// line had that same count.
func scoreDelimiter(raw []byte, sep byte, maxLines int) (fields int, consistent bool) {
	lines := splitLines(raw, maxLines)
	if len(lines) == 0 {
		return 0, false
	}
	want := -1
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		count := bytes.Count(line, []byte{sep}) + 1
		if want == -1 {
			want = count
			continue
		}
		if count != want {
			return want, false
		}
	}
	if want <= 1 {
		return want, false
	}
	return want, true
}

// splitLines splits raw on newlines, stopping early once maxLines have
// been collected. maxLines <= 0 means no limit.
func splitLines(raw []byte, maxLines int) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		lines = append(lines, line)
		if maxLines > 0 && len(lines) >= maxLines {
			break
		}
	}
	return lines
}
