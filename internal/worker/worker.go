// Package worker runs the fixed-size pool of goroutines that reserve jobs
// from the Broker and hand each one to the Orchestrator. It follows the
// teacher's jobs/worker.Worker in shape: a blocking Reserve loop per
// goroutine, graceful shutdown on context cancellation, and a panic
// recovery net around the per-job call so one runaway handler never takes
// the pool down.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/config"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/orchestrator"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// reserveTimeout bounds how long a single Reserve call blocks for a job to
// become available before the loop re-checks ctx.Done.
const reserveTimeout = 2 * time.Second

// reserveBackoffBase and reserveBackoffMax bound the exponential backoff a
// worker applies between failed Reserve calls (anything other than
// ErrNoJobAvailable, which already blocks for reserveTimeout on its own).
const (
	reserveBackoffBase = time.Second
	reserveBackoffMax  = 30 * time.Second
)

// reserveBackoff doubles base per failed attempt up to max, then returns a
// full-jitter draw (a uniform random value in [0, backoff)) so a fleet of workers
// that all hit a broker outage at once don't retry in lockstep.
func reserveBackoff(attempt int) time.Duration {
	backoff := reserveBackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= reserveBackoffMax {
			backoff = reserveBackoffMax
			break
		}
	}
	if backoff <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(backoff)))
}

// Pool runs Config.WorkerCount goroutines, each independently reserving and
// running jobs until ctx is canceled.
type Pool struct {
	broker       broker.Broker
	orchestrator *orchestrator.Orchestrator
	cfg          config.Config
	log          *logger.Logger

	wg sync.WaitGroup
}

func New(b broker.Broker, o *orchestrator.Orchestrator, cfg config.Config, log *logger.Logger) *Pool {
	return &Pool{broker: b, orchestrator: o, cfg: cfg, log: log.With("component", "worker_pool")}
}

// Start launches the pool's goroutines and returns immediately. Call Wait
// to block until every goroutine has drained following ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	count := p.cfg.WorkerCount
	if count < 1 {
		count = 1
	}
	p.log.Info("starting worker pool", "worker_count", count)
	for i := 0; i < count; i++ {
		id := i + 1
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runLoop(ctx, id)
		}()
	}
}

// Wait blocks until every worker goroutine has returned. Workers return
// only after ctx is canceled and any in-flight job finishes, so Wait is the
// caller's graceful-shutdown drain point.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	log := p.log.With("worker_id", workerID)
	log.Info("worker started")
	defer log.Info("worker stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		job, lease, err := p.broker.Reserve(ctx, reserveTimeout, p.cfg.LeaseDuration)
		if err != nil {
			if err == broker.ErrNoJobAvailable {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			backoff := reserveBackoff(failures)
			log.Warn("reserve failed, backing off", "error", err, "attempt", failures, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		failures = 0
		p.runJob(ctx, log, job, lease)
	}
}

// gracefulJobContext returns a context that outlives parent's cancellation
// by grace: a job already running should get a shorter deadline of its own
// on shutdown, not be killed the instant the pool's reservation context is
// canceled. The returned context is independent of parent until parent is
// done, at which point a grace-length countdown starts.
func gracefulJobContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-parent.Done():
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(grace):
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// runJob recovers from a panic inside the Orchestrator so that one corrupt
// job can never crash a worker goroutine; a recovered panic requeues the
// job exactly like any other transient fault.
func (p *Pool) runJob(ctx context.Context, log *logger.Logger, job *types.Job, lease *types.Lease) {
	jobCtx, cancel := gracefulJobContext(ctx, p.cfg.WorkerShutdownGrace)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator panic recovered", "job_id", job.ID, "panic", r)
			failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			reason := &types.JobError{Kind: types.ErrBroker, Message: "worker recovered from a panic while running this job"}
			if err := p.broker.FailAndRequeue(failCtx, lease, p.cfg.MaxJobAttempts, reason); err != nil {
				log.Error("failed to requeue job after panic", "job_id", job.ID, "error", err)
			}
		}
	}()

	log.Info("job reserved", "job_id", job.ID)
	if err := p.orchestrator.Run(jobCtx, job, lease); err != nil {
		if err == orchestrator.ErrAbandoned {
			log.Warn("job abandoned after lease loss", "job_id", job.ID)
			return
		}
		log.Error("orchestrator returned an error writing the terminal state", "job_id", job.ID, "error", err)
	}
}
