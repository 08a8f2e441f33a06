package llm

import "errors"

var (
	// ErrUnavailable wraps a transport-level fault contacting the model
	// server: connection refused, DNS failure, timed-out dial. The
	// Orchestrator treats this as transient and eligible for requeue.
	ErrUnavailable = errors.New("llm: model server unavailable")

	// ErrProtocol wraps a reply the client received but could not
	// interpret: empty choices, a response shape GenerateContent rejected.
	// The Orchestrator treats this as terminal.
	ErrProtocol = errors.New("llm: unrecognized model response")

	// ErrCanceled wraps a request that failed because the caller's own
	// context was canceled, as opposed to a transport or protocol fault
	// originating from the model server. The Orchestrator does not treat
	// this as a model-originated fault; it lets its own boundary check
	// classify the cancellation's real cause on the next loop iteration.
	ErrCanceled = errors.New("llm: request canceled")
)
