package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	brokerpkg "github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/config"
	"github.com/lazuer/tabulate-analysis-core/internal/inflation"
	"github.com/lazuer/tabulate-analysis-core/internal/llm"
	"github.com/lazuer/tabulate-analysis-core/internal/loader"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/sandbox"
	"github.com/lazuer/tabulate-analysis-core/internal/schema"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// fakeBroker is an in-memory stand-in implementing broker.Broker, just
// enough of it to drive the state machine and inspect the single
// terminal write a test expects.
type fakeBroker struct {
	canceled  bool
	completed *brokerpkg.Outcome
	requeued  *types.JobError
	finalized bool
	events    []types.ProgressEvent
}

func (f *fakeBroker) Submit(ctx context.Context, job *types.Job) (string, error) { return job.ID, nil }
func (f *fakeBroker) Reserve(ctx context.Context, timeout, leaseDuration time.Duration) (*types.Job, *types.Lease, error) {
	return nil, nil, brokerpkg.ErrNoJobAvailable
}
func (f *fakeBroker) Extend(ctx context.Context, lease *types.Lease, duration time.Duration) error {
	return nil
}
func (f *fakeBroker) PublishProgress(ctx context.Context, jobID string, event types.ProgressEvent) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeBroker) SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan types.ProgressEvent, <-chan error) {
	return nil, nil
}
func (f *fakeBroker) Complete(ctx context.Context, lease *types.Lease, outcome brokerpkg.Outcome) error {
	f.completed = &outcome
	return nil
}
func (f *fakeBroker) FailAndRequeue(ctx context.Context, lease *types.Lease, maxAttempts int, reason *types.JobError) error {
	f.requeued = reason
	return nil
}
func (f *fakeBroker) Cancel(ctx context.Context, jobID string) error {
	f.canceled = true
	return nil
}
func (f *fakeBroker) Canceled(ctx context.Context, jobID string) (bool, error) { return f.canceled, nil }
func (f *fakeBroker) Status(ctx context.Context, jobID string) (*types.Job, error) {
	return nil, brokerpkg.ErrJobNotFound
}
func (f *fakeBroker) FinalizeCancel(ctx context.Context, lease *types.Lease) error {
	f.finalized = true
	return nil
}

// scriptedModel replays a fixed sequence of Responses, one per Complete
// call, so a test can script a multi-round conversation deterministically.
type scriptedModel struct {
	replies []llm.Response
	calls   int
}

func (m *scriptedModel) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	if m.calls >= len(m.replies) {
		return llm.Response{}, llm.ErrProtocol
	}
	r := m.replies[m.calls]
	m.calls++
	return r, nil
}

// scriptedSandbox returns one fixed Result per Execute call, in order.
type scriptedSandbox struct {
	results []sandbox.Result
	calls   int
}

func (s *scriptedSandbox) Execute(ctx context.Context, language, source string) (sandbox.Result, error) {
	if s.calls >= len(s.results) {
		return sandbox.Result{}, nil
	}
	r := s.results[s.calls]
	s.calls++
	return r, nil
}

func testDeps(t *testing.T, model ModelClient, sbox sandbox.Executor, b brokerpkg.Broker) (Deps, func()) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "prices.csv"), []byte("Avg_Price\n110.92\n127.24\n"), 0o644))

	lex, err := schema.Load()
	require.NoError(t, err)
	ld := loader.New(10 * 1024 * 1024)
	inspector := schema.New(ld, lex)

	cachePath := filepath.Join(t.TempDir(), "inflation.json")
	cache := inflation.New(cachePath, 0, noopScraper{}, mustLogger(t))

	cfg := config.Config{
		DataDir:                dataDir,
		MaxRounds:              5,
		PerExecTimeout:         time.Second,
		PerJobExecBudget:       5 * time.Second,
		PerJobWallTimeout:      5 * time.Second,
		PerModelRequestTimeout: time.Second,
		LeaseDuration:          time.Minute,
		LeaseExtensionInterval: 30 * time.Second,
		MaxJobAttempts:         1,
	}

	deps := Deps{
		Broker:    b,
		Inspector: inspector,
		Inflation: cache,
		Model:     model,
		Sandbox:   sbox,
		Config:    cfg,
		Log:       mustLogger(t),
	}
	return deps, func() {}
}

type noopScraper struct{}

func (noopScraper) Scrape(ctx context.Context) (*inflation.Table, error) {
	return &inflation.Table{Years: map[string]map[string]float64{}}, nil
}

func mustLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func newJob() *types.Job {
	return &types.Job{ID: uuid.NewString(), Question: "what is the median Avg_Price?", State: types.JobRunning}
}

func TestRunSucceedsOnDirectTextualAnswer(t *testing.T) {
	b := &fakeBroker{}
	model := &scriptedModel{replies: []llm.Response{{Text: "The median is 112.48."}}}
	deps, done := testDeps(t, model, &scriptedSandbox{}, b)
	defer done()

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.completed)
	require.True(t, b.completed.Succeeded)
	require.Contains(t, b.completed.Result, "112.48")
}

func TestRunRecoversFromFailedExecutionThenSucceeds(t *testing.T) {
	b := &fakeBroker{}
	model := &scriptedModel{replies: []llm.Response{
		{Text: "```python\nraise KeyError('missing')\n```", Code: &llm.CodeBlock{Language: "python", Source: "raise KeyError('missing')"}},
		{Text: "The mean is 119.08."},
	}}
	sbox := &scriptedSandbox{results: []sandbox.Result{
		{ExitCode: 1, Stderr: "KeyError: missing"},
	}}
	deps, done := testDeps(t, model, sbox, b)
	defer done()

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.completed)
	require.True(t, b.completed.Succeeded)
	require.Contains(t, b.completed.Result, "119.08")
}

func TestRunWritesCanceledWhenCancelFlagSet(t *testing.T) {
	b := &fakeBroker{canceled: true}
	model := &scriptedModel{replies: []llm.Response{{Text: "should never be reached"}}}
	deps, done := testDeps(t, model, &scriptedSandbox{}, b)
	defer done()

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.True(t, b.finalized)
	require.Nil(t, b.completed)
	require.Equal(t, 0, model.calls)
}

func TestRunRequeuesOnModelUnavailable(t *testing.T) {
	b := &fakeBroker{}
	model := &unavailableModel{}
	deps, done := testDeps(t, model, &scriptedSandbox{}, b)
	defer done()

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.requeued)
	require.Equal(t, types.ErrModelUnavailable, b.requeued.Kind)
	require.Nil(t, b.completed)
}

type unavailableModel struct{}

func (unavailableModel) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	return llm.Response{}, llm.ErrUnavailable
}

func TestRunFailsWhenRoundBudgetExceeded(t *testing.T) {
	b := &fakeBroker{}
	code := &llm.CodeBlock{Language: "python", Source: "print(1)"}
	reply := llm.Response{Text: "```python\nprint(1)\n```", Code: code}
	model := &scriptedModel{replies: []llm.Response{reply, reply, reply, reply, reply, reply}}
	sbox := &scriptedSandbox{results: []sandbox.Result{
		{ExitCode: 0, FinalValue: "1"}, {ExitCode: 0, FinalValue: "1"}, {ExitCode: 0, FinalValue: "1"},
		{ExitCode: 0, FinalValue: "1"}, {ExitCode: 0, FinalValue: "1"}, {ExitCode: 0, FinalValue: "1"},
	}}
	deps, done := testDeps(t, model, sbox, b)
	deps.Config.MaxRounds = 2
	defer done()

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.completed)
	require.False(t, b.completed.Succeeded)
	require.Equal(t, types.ErrModelProtocolError, b.completed.Err.Kind)
}

// blockingModel never returns until its context is canceled, so a test can
// force the wall-clock boundary to fire mid-round rather than between
// rounds.
type blockingModel struct{}

func (blockingModel) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	<-ctx.Done()
	return llm.Response{}, fmt.Errorf("%w: %v", llm.ErrCanceled, ctx.Err())
}

func TestRunFailsWhenWallClockTimeoutExceeded(t *testing.T) {
	b := &fakeBroker{}
	deps, done := testDeps(t, blockingModel{}, &scriptedSandbox{}, b)
	defer done()
	deps.Config.PerJobWallTimeout = 20 * time.Millisecond
	deps.Config.PerModelRequestTimeout = 5 * time.Second

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.completed)
	require.False(t, b.completed.Succeeded)
	require.Equal(t, types.ErrWallTimeout, b.completed.Err.Kind)
}

func TestRunFailsWhenExecBudgetExhausted(t *testing.T) {
	b := &fakeBroker{}
	code := &llm.CodeBlock{Language: "python", Source: "print(1)"}
	reply := llm.Response{Text: "```python\nprint(1)\n```", Code: code}
	model := &scriptedModel{replies: []llm.Response{reply}}
	sbox := &scriptedSandbox{results: []sandbox.Result{
		{ExitCode: 0, FinalValue: "1", Duration: 200 * time.Millisecond},
	}}
	deps, done := testDeps(t, model, sbox, b)
	defer done()
	deps.Config.PerJobExecBudget = 100 * time.Millisecond
	deps.Config.PerExecTimeout = time.Second

	o := New(deps)
	job := newJob()
	err := o.Run(context.Background(), job, &types.Lease{JobID: job.ID, Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, b.completed)
	require.False(t, b.completed.Succeeded)
	require.Equal(t, types.ErrExecBudgetExhausted, b.completed.Err.Kind)
}
