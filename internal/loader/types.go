// Package loader implements the content-aware tabular file reader: one
// entry point dispatches by extension to a format-specific parser and
// returns a format-agnostic Frame. The Schema Inspector is its caller and
// talks to the Loader, never to a format-specific parser directly;
// generated analysis code reads files through the sandbox's Python shim.
package loader

import "time"

// Format is the small closed set of tabular formats the Loader dispatches on.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
	FormatXLS   Format = "xls"
	FormatTXT   Format = "txt"
)

func formatFromExt(ext string) (Format, bool) {
	switch ext {
	case ".csv":
		return FormatCSV, true
	case ".tsv":
		return FormatTSV, true
	case ".json":
		return FormatJSON, true
	case ".xlsx":
		return FormatXLSX, true
	case ".xls":
		return FormatXLS, true
	case ".txt":
		return FormatTXT, true
	default:
		return "", false
	}
}

// DataFile describes an uploaded tabular artifact as opaque bytes plus
// the metadata the rest of the system needs without ever parsing it.
type DataFile struct {
	Name   string
	Path   string
	Size   int64
	Mtime  time.Time
	Format Format
}

// ColumnType is the result of per-column type inference: the one type
// every non-empty sampled cell agrees on, or text when they disagree.
type ColumnType string

const (
	ColInteger ColumnType = "integer"
	ColReal    ColumnType = "real"
	ColDate    ColumnType = "date"
	ColBoolean ColumnType = "boolean"
	ColText    ColumnType = "text"
)

// NullSentinel is the single representation of a missing value across
// every format the Loader parses; no format-specific residue (NaN, None,
// empty-vs-null) survives past this package.
const NullSentinel = ""

// Frame is the unified in-memory table every loader produces: ordered
// column names, one inferred type per column, and row-major string
// values with NullSentinel standing in for anything missing.
type Frame struct {
	Columns     []string
	ColumnTypes []ColumnType
	Rows        [][]string

	// RowCountEstimate is the file's total data-row count. For formats a
	// parser decodes in full before truncating to a head (JSON, Excel) it
	// is exact; for line-oriented formats truncated mid-scan (CSV, TSV,
	// newline-delimited JSON) it comes from a cheap newline count over the
	// whole file rather than a full parse, so it is an estimate there.
	RowCountEstimate int
}

func (f *Frame) ColumnCount() int { return len(f.Columns) }
func (f *Frame) RowCount() int    { return len(f.Rows) }
