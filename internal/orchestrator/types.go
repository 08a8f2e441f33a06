// Package orchestrator drives one job from RESERVED to a terminal broker
// write: assemble a prompt from the data directory's schema, loop the
// model through generate/execute rounds, and turn the eventual textual
// answer or unrecoverable fault into exactly one Complete, FailAndRequeue,
// or FinalizeCancel call. It is the heart of the job-execution core; every
// other package exists to be called from here.
package orchestrator

import (
	"context"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/config"
	"github.com/lazuer/tabulate-analysis-core/internal/inflation"
	"github.com/lazuer/tabulate-analysis-core/internal/llm"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/sandbox"
	"github.com/lazuer/tabulate-analysis-core/internal/schema"
)

// ModelClient is the narrow slice of llm.Client the Orchestrator needs.
// Declared here, rather than depended on as the concrete type, so tests
// can drive the state machine with a scripted model instead of a real
// ollama server; *llm.Client satisfies it without any wrapping.
type ModelClient interface {
	Complete(ctx context.Context, messages []llm.Message) (llm.Response, error)
}

// state names the orchestrator's current position in the state machine
// in the state machine's control flow. done/error/canceled are represented as return values
// from drive rather than as values of this type, since each is reached
// exactly once and carries a result that the switch in drive produces
// directly.
type state int

const (
	stateContext state = iota
	stateGenerate
	stateExecute
	stateSummarize
)

// Deps bundles everything the Orchestrator calls out to. Held by value so
// a new Orchestrator costs nothing to construct per job.
type Deps struct {
	Broker    broker.Broker
	Inspector *schema.Inspector
	Inflation *inflation.Cache
	Model     ModelClient
	Sandbox   sandbox.Executor
	Config    config.Config
	Log       *logger.Logger
}

// Orchestrator is stateless between jobs; all per-job state lives in the
// jobRun it constructs inside Run.
type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}
