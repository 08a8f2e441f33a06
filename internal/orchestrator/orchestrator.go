package orchestrator

import (
	"context"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// Run executes the full state machine for job under lease, making exactly
// one terminal broker write before returning nil, or returning ErrAbandoned
// if the lease was lost to repeated extension failures before that write
// could happen. Any other non-nil error is a fault in the broker write
// itself, which the caller (the worker pool) logs and moves past.
func (o *Orchestrator) Run(ctx context.Context, job *types.Job, lease *types.Lease) error {
	wallCtx, cancel := context.WithTimeout(ctx, o.deps.Config.PerJobWallTimeout)
	defer cancel()

	leaseCtx, stopLease := context.WithCancel(wallCtx)
	defer stopLease()
	abandoned := make(chan struct{})
	go o.extendLease(leaseCtx, lease, abandoned, stopLease)

	run := &jobRun{deps: o.deps, job: job, lease: lease, abandoned: abandoned}
	outcome := run.drive(leaseCtx)

	if outcome.kind == outcomeAbandoned {
		return ErrAbandoned
	}
	return run.finalize(ctx, outcome)
}

// extendLease renews lease every Config.LeaseExtensionInterval (half the
// lease duration when that is unset) until ctx is done. Per
// the lease-extension health invariant, repeated extension failure means the
// broker has already reclaimed the job; rather than keep working on a job
// another worker may also be running, extendLease cancels leaseCtx (so any
// in-flight model or sandbox call unblocks promptly) and closes abandoned
// so the next boundary check in drive notices and stops.
func (o *Orchestrator) extendLease(ctx context.Context, lease *types.Lease, abandoned chan struct{}, cancelLease context.CancelFunc) {
	interval := o.deps.Config.LeaseExtensionInterval
	if interval <= 0 {
		interval = o.deps.Config.LeaseDuration / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.deps.Broker.Extend(ctx, lease, o.deps.Config.LeaseDuration); err != nil {
				failures++
				o.deps.Log.Warn("lease extension failed", "job_id", lease.JobID, "attempt", failures, "error", err)
				if failures >= 3 {
					cancelLease()
					close(abandoned)
					return
				}
				continue
			}
			failures = 0
		}
	}
}
