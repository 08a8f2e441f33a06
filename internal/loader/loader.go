package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader is the single extension point for tabular parsing: the dispatch
// table below maps an extension to a parser, and nothing outside this
// package knows a format-specific detail.
type Loader struct {
	maxFileBytes int64
}

func New(maxFileBytes int64) *Loader {
	return &Loader{maxFileBytes: maxFileBytes}
}

type parseFunc func(raw []byte, headOnly bool, n int) (*Frame, error)

func (l *Loader) dispatch(ext string) (parseFunc, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return parseDelimited(',', ErrMalformedCsv), nil
	case ".tsv":
		return parseDelimited('\t', ErrMalformedCsv), nil
	case ".json":
		return parseJSON, nil
	case ".xlsx", ".xls":
		return parseExcel, nil
	case ".txt":
		return parseTXT, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// Load parses the full file at path into a Frame.
func (l *Loader) Load(path string) (*Frame, error) {
	return l.load(path, false, 0)
}

// LoadHead parses only the header plus the first n data rows, for callers
// (the Schema Inspector) that need a cheap peek rather than the whole table.
func (l *Loader) LoadHead(path string, n int) (*Frame, error) {
	return l.load(path, true, n)
}

func (l *Loader) load(path string, headOnly bool, n int) (*Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError("load", path, ErrNotFound, nil)
		}
		return nil, newError("load", path, ErrNotFound, err)
	}
	if l.maxFileBytes > 0 && info.Size() > l.maxFileBytes {
		return nil, newError("load", path, ErrFileTooLarge, fmt.Errorf("%d bytes exceeds limit of %d", info.Size(), l.maxFileBytes))
	}

	ext := strings.ToLower(filepath.Ext(path))
	parse, err := l.dispatch(ext)
	if err != nil {
		return nil, newError("load", path, err, nil)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError("load", path, ErrNotFound, err)
	}

	frame, err := parse(raw, headOnly, n)
	if err != nil {
		return nil, wrapParseError(path, err)
	}
	return frame, nil
}

// estimateDataRows counts newline-terminated lines in raw as a cheap stand-in
// for a full parse, subtracting one for a header line when hasHeader is set.
// Quoted fields embedding literal newlines make this an estimate rather than
// an exact count for formats like CSV.
func estimateDataRows(raw []byte, hasHeader bool) int {
	if len(raw) == 0 {
		return 0
	}
	lines := bytes.Count(raw, []byte("\n"))
	if raw[len(raw)-1] != '\n' {
		lines++
	}
	if hasHeader && lines > 0 {
		lines--
	}
	if lines < 0 {
		lines = 0
	}
	return lines
}

func wrapParseError(path string, err error) error {
	if le, ok := err.(*Error); ok {
		le.Path = path
		return le
	}
	return newError("load", path, ErrMalformedCsv, err)
}
