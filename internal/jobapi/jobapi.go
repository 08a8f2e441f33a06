// Package jobapi is the thin, validate-then-delegate front the httpapi
// package calls into: submit, status, stream, and cancel, each doing
// nothing but input validation plus one Broker call. It mirrors the
// teacher's services.JobService layer sitting between the HTTP handlers
// and the repository, except the durable store here is the Broker rather
// than a gorm repo.
package jobapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// ErrInvalidInput means the request never reached the Broker; it maps onto
// the InputRejected kind at the HTTP layer.
var ErrInvalidInput = errors.New("jobapi: invalid input")

const maxQuestionLength = 4000

// Service implements the four job-lifecycle operations the httpapi package
// exposes over HTTP. It holds no state of its own beyond the Broker handle
// and the allowed data directory used to sanity-check primary_file hints.
type Service struct {
	broker  broker.Broker
	dataDir string
	log     *logger.Logger
}

func New(b broker.Broker, dataDir string, log *logger.Logger) *Service {
	return &Service{broker: b, dataDir: dataDir, log: log.With("component", "jobapi")}
}

// Submit validates question and primaryFile, assigns a job id, and writes
// a PENDING job record to the Broker. An empty question, a primary_file
// hint containing path separators, or a primary_file that does not exist
// under the data directory are all rejected before anything touches the
// Broker.
func (s *Service) Submit(ctx context.Context, question, primaryFile string) (*types.Job, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ErrInvalidInput)
	}
	if len(question) > maxQuestionLength {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrInvalidInput, maxQuestionLength)
	}
	if primaryFile != "" {
		if filepath.Base(primaryFile) != primaryFile {
			return nil, fmt.Errorf("%w: primary_file must be a bare filename, not a path", ErrInvalidInput)
		}
		if _, err := os.Stat(filepath.Join(s.dataDir, primaryFile)); err != nil {
			return nil, fmt.Errorf("%w: unknown primary_file %q", ErrInvalidInput, primaryFile)
		}
	}

	job := &types.Job{
		ID:          uuid.NewString(),
		Question:    question,
		PrimaryFile: primaryFile,
		SubmittedAt: time.Now(),
		State:       types.JobPending,
	}
	if _, err := s.broker.Submit(ctx, job); err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}
	s.log.Info("job submitted", "job_id", job.ID)
	return job, nil
}

// Status returns the current record for jobID, or ErrInvalidInput wrapping
// broker.ErrJobNotFound when the id is unknown.
func (s *Service) Status(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := s.broker.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, broker.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return job, nil
}

// Stream subscribes to jobID's progress events starting from fromSeq,
// passing the Broker's channels straight through. The caller (the httpapi
// handler) owns translating these into whatever wire framing it serves.
func (s *Service) Stream(ctx context.Context, jobID string, fromSeq int64) (<-chan types.ProgressEvent, <-chan error) {
	return s.broker.SubscribeProgress(ctx, jobID, fromSeq)
}

// Cancel requests cancellation of jobID. It is fire-and-forget: the actual
// terminal CANCELED write happens later, from inside the Orchestrator, once
// it observes the cancellation flag at a state boundary.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.broker.Cancel(ctx, jobID)
}
