// Package broker implements the durable work queue and progress-stream
// primitives. Job records and leases live in Postgres (gorm): a single
// "SELECT ... FOR UPDATE SKIP LOCKED" transaction both reclaims expired
// leases and claims the next eligible job, so at most one reserver ever
// succeeds per row. Progress events are an append-only Redis Streams log
// per job, letting a late subscriber replay from a given seq rather than
// only ever seeing live pub/sub traffic.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

var (
	// ErrNoJobAvailable is returned by Reserve when the poll window elapses
	// with nothing eligible to claim.
	ErrNoJobAvailable = errors.New("broker: no job available")
	// ErrLeaseExpired means the caller's lease token no longer matches the
	// current holder (reclaimed by another worker, or already completed).
	ErrLeaseExpired = errors.New("broker: lease expired or reclaimed")
)

// Outcome is what Complete persists as the job's terminal state.
type Outcome struct {
	Succeeded bool
	Result    string
	Err       *types.JobError
}

// Broker abstracts the reliable work queue and progress-stream store.
// Connectivity faults on any operation are the caller's responsibility to
// retry with backoff; Broker implementations surface them as plain errors
// so callers (the worker pool, the orchestrator) can apply
// BrokerError/transient semantics.
type Broker interface {
	Submit(ctx context.Context, job *types.Job) (string, error)
	Reserve(ctx context.Context, timeout time.Duration, leaseDuration time.Duration) (*types.Job, *types.Lease, error)
	Extend(ctx context.Context, lease *types.Lease, duration time.Duration) error
	PublishProgress(ctx context.Context, jobID string, event types.ProgressEvent) error
	SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan types.ProgressEvent, <-chan error)
	Complete(ctx context.Context, lease *types.Lease, outcome Outcome) error
	FailAndRequeue(ctx context.Context, lease *types.Lease, maxAttempts int, reason *types.JobError) error
	Cancel(ctx context.Context, jobID string) error
	Canceled(ctx context.Context, jobID string) (bool, error)
	Status(ctx context.Context, jobID string) (*types.Job, error)
	// FinalizeCancel writes the CANCELED terminal state for a held lease
	// once the orchestrator observes cancellation at a state boundary.
	FinalizeCancel(ctx context.Context, lease *types.Lease) error
}

// ErrJobNotFound is returned by Status for an unknown job id.
var ErrJobNotFound = errors.New("broker: job not found")
