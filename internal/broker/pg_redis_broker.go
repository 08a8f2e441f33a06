package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// pgRedisBroker is the production Broker: job records and leases in
// Postgres via gorm, progress events in a Redis Stream per job, composed
// behind one interface instead of two services reaching into each other.
type pgRedisBroker struct {
	store       *store
	progress    *progressLog
	log         *logger.Logger
	maxAttempts int
}

// New wires a Broker from an already-connected gorm DB and redis client,
// and runs the schema migration for the job table. Connection setup is
// the caller's responsibility. maxAttempts bounds how many times a
// lease-expiry reclaim will requeue a job before marking it terminally
// failed.
func New(db *gorm.DB, rdb *redis.Client, maxAttempts int, log *logger.Logger) (Broker, error) {
	s := newStore(db)
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &pgRedisBroker{
		store:       s,
		progress:    newProgressLog(rdb, log),
		log:         log.With("component", "Broker"),
		maxAttempts: maxAttempts,
	}, nil
}

func (b *pgRedisBroker) Submit(ctx context.Context, job *types.Job) (string, error) {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	if err := b.store.insert(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Reserve polls claimNext until it succeeds, the timeout elapses, or ctx is
// canceled. Short-poll rather than LISTEN/NOTIFY, to keep reservation on the
// same connection pool as every other store operation.
func (b *pgRedisBroker) Reserve(ctx context.Context, timeout time.Duration, leaseDuration time.Duration) (*types.Job, *types.Lease, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		row, lease, err := b.store.claimNext(ctx, leaseDuration, b.maxAttempts)
		if err != nil {
			return nil, nil, err
		}
		if row != nil {
			if err := b.store.markRunning(ctx, row.ID); err != nil {
				return nil, nil, err
			}
			return rowToJob(row), lease, nil
		}
		if time.Now().After(deadline) {
			return nil, nil, ErrNoJobAvailable
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *pgRedisBroker) Extend(ctx context.Context, lease *types.Lease, duration time.Duration) error {
	return b.store.extend(ctx, lease, duration)
}

func (b *pgRedisBroker) PublishProgress(ctx context.Context, jobID string, event types.ProgressEvent) error {
	return b.progress.publish(ctx, jobID, event)
}

func (b *pgRedisBroker) SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan types.ProgressEvent, <-chan error) {
	return b.progress.subscribe(ctx, jobID, fromSeq)
}

func (b *pgRedisBroker) Complete(ctx context.Context, lease *types.Lease, outcome Outcome) error {
	return b.store.complete(ctx, lease, outcome)
}

func (b *pgRedisBroker) FailAndRequeue(ctx context.Context, lease *types.Lease, maxAttempts int, reason *types.JobError) error {
	return b.store.failAndRequeue(ctx, lease, maxAttempts, reason)
}

func (b *pgRedisBroker) Cancel(ctx context.Context, jobID string) error {
	return b.store.cancel(ctx, jobID)
}

func (b *pgRedisBroker) Canceled(ctx context.Context, jobID string) (bool, error) {
	return b.store.canceled(ctx, jobID)
}

func (b *pgRedisBroker) Status(ctx context.Context, jobID string) (*types.Job, error) {
	row, err := b.store.get(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return rowToJob(row), nil
}

func (b *pgRedisBroker) FinalizeCancel(ctx context.Context, lease *types.Lease) error {
	return b.store.finalizeCancel(ctx, lease)
}
