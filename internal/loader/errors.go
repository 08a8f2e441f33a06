package loader

import "errors"

// Sentinel errors the File Loader can return. Go callers (the Schema
// Inspector) match against these with errors.Is rather than parsing
// messages.
var (
	ErrNotFound         = errors.New("loader: file not found")
	ErrUnsupportedFormat = errors.New("loader: unsupported format")
	ErrMalformedCsv     = errors.New("loader: malformed csv")
	ErrMalformedJson    = errors.New("loader: malformed json")
	ErrMalformedExcel   = errors.New("loader: malformed excel")
	ErrFileTooLarge     = errors.New("loader: file exceeds size limit")
)

// Error wraps a sentinel with the path and an optional underlying cause,
// so log lines and model-facing observations carry enough context without
// forcing every call site to format its own message.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(op, path string, kind, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}
