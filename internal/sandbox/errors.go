package sandbox

import "errors"

var (
	// ErrUnsupportedLanguage is returned when the model's fence language
	// tag names a runtime the sandbox has no image for.
	ErrUnsupportedLanguage = errors.New("sandbox: unsupported code fence language")

	// ErrStartFailed wraps a container-runtime fault launching the
	// execution container: daemon unreachable, image pull failure. The
	// Orchestrator classifies this as a sandbox-infrastructure fault, not
	// as a model-originated or execution-timeout fault.
	ErrStartFailed = errors.New("sandbox: failed to start execution container")
)
