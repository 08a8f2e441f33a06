package orchestrator

import (
	"errors"

	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// ErrAbandoned signals that lease extension failed repeatedly during Run.
// The broker has presumably already reclaimed the job; the worker pool
// must not write a terminal state for a lease it no longer holds, and
// should simply move on to its next reservation.
var ErrAbandoned = errors.New("orchestrator: abandoned job after repeated lease-extension failure")

// isTransientFault reports whether err should route through
// FailAndRequeue (transport-level, eligible for another attempt) rather
// than a terminal Complete(FAILED). ModelUnavailable, BrokerError, and
// SandboxUnavailable are transient, since none of them reflect anything
// wrong with the job itself; every other terminal kind is a real failure.
func isTransientFault(err *types.JobError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case types.ErrModelUnavailable, types.ErrBroker, types.ErrSandboxUnavailable:
		return true
	default:
		return false
	}
}
