// Package sandbox is the Orchestrator's code-execution tool: an RPC-shaped
// boundary around a disposable container that runs exactly one generated
// code block and reports back what it produced. Generated code must
// never run inside the worker process itself, so this package owns the
// entire lifetime of the container it spawns and nothing else in the
// module talks to a container runtime.
package sandbox

import "time"

// Result is everything the Orchestrator needs to turn one execution into
// either an observation fed back to the model or, on a fatal sandbox
// fault, a terminal error.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	FinalValue string
	Duration   time.Duration
}

// Succeeded reports whether the code ran to completion without raising.
// A nonzero ExitCode or a captured traceback (a non-empty Stderr) both
// count as failure; the Orchestrator treats this as a recoverable
// observation, not a job failure in its own right.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && r.Stderr == ""
}
