package loader

const txtScanLines = 20

var txtCandidateDelimiters = []byte{',', '\t', '|', ';'}

// parseTXT scores each candidate delimiter over the first 20 lines and
// picks whichever yields a uniform field count per line; if none does,
// it falls back to treating the file as a single text column.
func parseTXT(raw []byte, headOnly bool, n int) (*Frame, error) {
	best := byte(0)
	bestFields := 1
	for _, sep := range txtCandidateDelimiters {
		fields, consistent := scoreDelimiter(raw, sep, txtScanLines)
		if consistent && fields > bestFields {
			best = sep
			bestFields = fields
		}
	}

	if best != 0 {
		return parseDelimitedBytes(raw, rune(best), headOnly, n, ErrMalformedCsv)
	}

	return parseSingleColumnText(raw, headOnly, n)
}

// parseSingleColumnText treats the first line as the column header (same
// convention pandas' read_csv falls back to for an undelimited file) and
// every subsequent line as one text row.
func parseSingleColumnText(raw []byte, headOnly bool, n int) (*Frame, error) {
	lines := splitLines(raw, 0)
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return &Frame{Columns: []string{"text"}}, nil
	}
	header := string(lines[0])
	if header == "" {
		header = "text"
	}
	var rows [][]string
	for _, line := range lines[1:] {
		rows = append(rows, []string{string(line)})
		if headOnly && n > 0 && len(rows) >= n {
			break
		}
	}
	return &Frame{
		Columns:          []string{header},
		ColumnTypes:      []ColumnType{ColText},
		Rows:             rows,
		RowCountEstimate: estimateDataRows(raw, true),
	}, nil
}
