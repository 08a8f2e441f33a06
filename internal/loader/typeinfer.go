package loader

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func classifyCell(v string) ColumnType {
	v = strings.TrimSpace(v)
	if v == "" {
		return ColText
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ColInteger
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return ColReal
	}
	lower := strings.ToLower(v)
	if lower == "true" || lower == "false" {
		return ColBoolean
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return ColDate
		}
	}
	return ColText
}

// inferColumnTypes classifies each non-empty sampled cell in a column and
// takes the single distinct type everyone agreed on. Any disagreement at
// all, regardless of which types are involved, falls straight to ColText
// rather than to some intermediate type.
func inferColumnTypes(rows [][]string, columnCount int, sampleRows int) []ColumnType {
	types := make([]ColumnType, columnCount)
	for col := 0; col < columnCount; col++ {
		observed := make(map[ColumnType]bool)
		sampled := 0
		for _, row := range rows {
			if sampleRows > 0 && sampled >= sampleRows {
				break
			}
			if col >= len(row) {
				continue
			}
			cell := row[col]
			if strings.TrimSpace(cell) == "" {
				continue
			}
			sampled++
			observed[classifyCell(cell)] = true
		}
		switch {
		case sampled == 0:
			types[col] = ColText
		case len(observed) == 1:
			for t := range observed {
				types[col] = t
			}
		default:
			types[col] = ColText
		}
	}
	return types
}
