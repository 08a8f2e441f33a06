package loader

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseExcel reads the first worksheet: the first non-empty row is the
// header, subsequent rows are data, and blank trailing rows are trimmed.
func parseExcel(raw []byte, headOnly bool, n int) (*Frame, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, newError("parse", "", ErrMalformedExcel, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, newError("parse", "", ErrMalformedExcel, fmt.Errorf("workbook has no worksheets"))
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, newError("parse", "", ErrMalformedExcel, err)
	}

	headerIdx := -1
	for i, row := range all {
		if !isBlankRow(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, newError("parse", "", ErrMalformedExcel, fmt.Errorf("worksheet has no non-empty rows"))
	}

	header := all[headerIdx]
	width := len(header)

	data := all[headerIdx+1:]
	lastNonBlank := -1
	for i, row := range data {
		if !isBlankRow(row) {
			lastNonBlank = i
		}
	}
	data = data[:lastNonBlank+1]
	total := len(data)

	var rows [][]string
	for _, raw := range data {
		rows = append(rows, normalizeWidth(raw, width))
		if headOnly && n > 0 && len(rows) >= n {
			break
		}
	}

	return &Frame{
		Columns:          header,
		ColumnTypes:      inferColumnTypes(rows, width, defaultSampleRows),
		Rows:             rows,
		RowCountEstimate: total,
	}, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
