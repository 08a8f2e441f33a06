package sandbox

import "context"

// Executor runs one code block to completion inside an isolated
// environment and returns everything the Orchestrator needs to build an
// observation: captured output, exit status, and a final-value string the
// generated code is expected to have printed as its last line.
//
// Request is a code string; response is {stdout, stderr, exit_status,
// final_value_text}, an RPC shape the Orchestrator can treat uniformly. The
// Orchestrator is responsible for the per-execution and cumulative
// execution timeouts via ctx; Execute must return promptly once ctx is
// done rather than leaving the container running.
type Executor interface {
	Execute(ctx context.Context, language, source string) (Result, error)
}
