package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/llm"
	"github.com/lazuer/tabulate-analysis-core/internal/sandbox"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

type outcomeKind int

const (
	outcomeSucceeded outcomeKind = iota
	outcomeFailed
	outcomeCanceled
	outcomeAbandoned
)

// runOutcome is what drive hands back to Run: which terminal broker write
// to make and with what payload.
type runOutcome struct {
	kind   outcomeKind
	result string
	err    *types.JobError
}

// jobRun holds everything that changes over the life of one job: the
// replayed conversation, round/budget counters, and whatever the model's
// latest reply handed back. It is discarded the moment Run returns.
type jobRun struct {
	deps      Deps
	job       *types.Job
	lease     *types.Lease
	abandoned <-chan struct{}

	conversation []llm.Message
	rounds       int
	execUsed     time.Duration

	pendingCode *llm.CodeBlock
	finalAnswer string
}

// drive runs the context/generate/execute/summarize state machine to completion,
// checking cancellation and the wall-clock deadline at every boundary.
func (r *jobRun) drive(ctx context.Context) runOutcome {
	st := stateContext

	for {
		if outcome := r.checkBoundary(ctx); outcome != nil {
			return *outcome
		}

		switch st {
		case stateContext:
			schemas, _, guide, err := r.deps.Inspector.Inspect(r.deps.Config.DataDir)
			if err != nil {
				return r.terminalError(types.ErrNotFound, fmt.Sprintf("loading data directory: %v", err))
			}
			if len(schemas) == 0 {
				return r.terminalError(types.ErrInputRejected, "no data files present in data directory")
			}

			inflationSummary := r.inflationSummaryIfNeeded(ctx)
			r.conversation = buildInitialConversation(r.job.Question, r.job.PrimaryFile, schemas, guide, inflationSummary)
			r.publish(types.PhaseLoadingContext, "assembled prompt context")
			st = stateGenerate

		case stateGenerate:
			r.rounds++
			if r.rounds > r.deps.Config.MaxRounds {
				return r.terminalError(types.ErrModelProtocolError, "maximum generate/execute rounds exceeded")
			}
			r.publish(types.PhaseGeneratingCode, fmt.Sprintf("round %d", r.rounds))

			reqCtx, cancel := context.WithTimeout(ctx, r.deps.Config.PerModelRequestTimeout)
			reply, err := r.deps.Model.Complete(reqCtx, r.conversation)
			cancel()
			if err != nil {
				if errors.Is(err, llm.ErrCanceled) {
					// The request was aborted by something canceling ctx, not by
					// the model server. Loop back to checkBoundary, which knows
					// whether that was abandonment, a wall-clock deadline, or a
					// client cancellation, and classifies it accordingly.
					r.rounds--
					continue
				}
				if errors.Is(err, llm.ErrUnavailable) {
					return runOutcome{kind: outcomeFailed, err: &types.JobError{Kind: types.ErrModelUnavailable, Message: err.Error()}}
				}
				return r.terminalError(types.ErrModelProtocolError, err.Error())
			}
			r.conversation = append(r.conversation, llm.Message{Role: llm.RoleAssistant, Content: reply.Text})

			if reply.Code == nil {
				r.finalAnswer = reply.Text
				r.publish(types.PhaseSummarizing, "model returned a textual answer")
				st = stateSummarize
				continue
			}
			r.pendingCode = reply.Code
			st = stateExecute

		case stateExecute:
			if outcome := r.execute(ctx); outcome != nil {
				return *outcome
			}
			st = stateGenerate

		case stateSummarize:
			r.publish(types.PhaseCompleted, truncate(r.finalAnswer, 200))
			return runOutcome{kind: outcomeSucceeded, result: r.finalAnswer}
		}
	}
}

func (r *jobRun) execute(ctx context.Context) *runOutcome {
	r.publish(types.PhaseExecutingCode, fmt.Sprintf("round %d: running %s code", r.rounds, r.pendingCode.Language))

	remaining := r.deps.Config.PerJobExecBudget - r.execUsed
	if remaining <= 0 {
		o := r.terminalError(types.ErrExecBudgetExhausted, "cumulative execution budget exhausted")
		return &o
	}
	perExec := r.deps.Config.PerExecTimeout
	if perExec > remaining {
		perExec = remaining
	}

	execCtx, cancel := context.WithTimeout(ctx, perExec)
	result, err := r.deps.Sandbox.Execute(execCtx, r.pendingCode.Language, r.pendingCode.Source)
	deadlineHit := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()
	r.execUsed += result.Duration

	if err != nil {
		if deadlineHit {
			o := r.terminalError(types.ErrExecutionTimeout, fmt.Sprintf("execution exceeded %s", perExec))
			return &o
		}
		if errors.Is(err, sandbox.ErrStartFailed) || errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			o := r.terminalError(types.ErrSandboxUnavailable, err.Error())
			return &o
		}
		o := r.terminalError(types.ErrExecutionTimeout, err.Error())
		return &o
	}
	if r.execUsed > r.deps.Config.PerJobExecBudget {
		o := r.terminalError(types.ErrExecBudgetExhausted, "cumulative execution budget exhausted")
		return &o
	}

	r.publish(types.PhaseExecutingCode, tailOf(result.Stdout, 500))
	r.conversation = append(r.conversation, llm.Message{Role: llm.RoleUser, Content: renderObservation(result)})
	r.pendingCode = nil
	return nil
}

// checkBoundary is evaluated before every state transition and before
// every model request, so cancellation and deadline expiry are observed
// promptly rather than only between rounds.
func (r *jobRun) checkBoundary(ctx context.Context) *runOutcome {
	select {
	case <-r.abandoned:
		return &runOutcome{kind: outcomeAbandoned}
	default:
	}
	if ctx.Err() != nil {
		o := r.terminalError(types.ErrWallTimeout, "per-job wall clock timeout exceeded")
		return &o
	}
	canceled, err := r.deps.Broker.Canceled(ctx, r.job.ID)
	if err != nil {
		r.deps.Log.Warn("cancellation check failed, continuing", "job_id", r.job.ID, "error", err)
		return nil
	}
	if canceled {
		o := runOutcome{kind: outcomeCanceled, err: &types.JobError{Kind: types.ErrCanceled, Message: "canceled by client"}}
		return &o
	}
	return nil
}

func (r *jobRun) terminalError(kind types.ErrorKind, message string) runOutcome {
	r.publish(types.PhaseFailed, message)
	return runOutcome{kind: outcomeFailed, err: &types.JobError{Kind: kind, Message: message}}
}

// publish fires and forgets: progress is best-effort and must never block
// the state machine on a slow or unreachable broker, so it always runs
// against its own short-lived context rather than the job's.
func (r *jobRun) publish(phase types.Phase, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.Broker.PublishProgress(ctx, r.job.ID, types.ProgressEvent{Phase: phase, Detail: detail}); err != nil {
		r.deps.Log.Warn("publish progress failed", "job_id", r.job.ID, "phase", phase, "error", err)
	}
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// inflationSummaryIfNeeded decides whether a question benefits from
// inflation-adjusted reasoning: it does when the question text mentions at
// least one four-digit year. A single year is compared against the current
// year; two or more years span from the earliest to the latest mentioned.
// Refresh failures degrade to whatever is cached rather than ever becoming
// a job failure.
func (r *jobRun) inflationSummaryIfNeeded(ctx context.Context) string {
	matches := yearPattern.FindAllString(r.job.Question, -1)
	if len(matches) == 0 {
		return ""
	}

	years := make([]int, 0, len(matches))
	for _, m := range matches {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	if len(years) == 0 {
		return ""
	}
	sort.Ints(years)
	start, end := years[0], years[len(years)-1]
	if start == end {
		end = time.Now().Year()
	}
	if start > end {
		start, end = end, start
	}

	refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	table, err := r.deps.Inflation.Refresh(refreshCtx, false)
	if err != nil {
		r.deps.Log.Warn("inflation cache unavailable, omitting from prompt", "error", err)
		return ""
	}
	if r.deps.Inflation.Stale() {
		r.deps.Log.Info("inflation table is stale, using last cached data", "job_id", r.job.ID)
	}
	return table.Summary(start, end)
}

// finalize performs exactly one terminal broker write for the job,
// choosing FailAndRequeue only for the transient faults allowed to
// retry and Complete/FinalizeCancel for everything else.
func (r *jobRun) finalize(ctx context.Context, outcome runOutcome) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch outcome.kind {
	case outcomeSucceeded:
		return r.deps.Broker.Complete(writeCtx, r.lease, broker.Outcome{Succeeded: true, Result: outcome.result})
	case outcomeCanceled:
		return r.deps.Broker.FinalizeCancel(writeCtx, r.lease)
	default:
		if isTransientFault(outcome.err) {
			return r.deps.Broker.FailAndRequeue(writeCtx, r.lease, r.deps.Config.MaxJobAttempts, outcome.err)
		}
		return r.deps.Broker.Complete(writeCtx, r.lease, broker.Outcome{Succeeded: false, Err: outcome.err})
	}
}
