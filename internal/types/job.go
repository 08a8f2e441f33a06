// Package types holds the data model shared by the broker, orchestrator,
// and job API: Job, ProgressEvent, and the error taxonomy. Kept deliberately
// separate from storage concerns (gorm tags live on the broker's own row
// type) so the domain shape does not leak persistence details.
package types

import "time"

type JobState string

const (
	JobPending   JobState = "PENDING"
	JobReserved  JobState = "RESERVED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCanceled  JobState = "CANCELED"
)

func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// ErrorKind enumerates the error taxonomy as string constants rather than Go
// error types, so callers can compare and serialize them directly.
// ExecutionFailed never appears here: code-level exceptions are observations,
// not job failures.
type ErrorKind string

const (
	ErrInputRejected          ErrorKind = "InputRejected"
	ErrNotFound               ErrorKind = "NotFound"
	ErrUnsupportedFormat      ErrorKind = "UnsupportedFormat"
	ErrMalformedCsv           ErrorKind = "MalformedCsv"
	ErrMalformedJson          ErrorKind = "MalformedJson"
	ErrMalformedExcel         ErrorKind = "MalformedExcel"
	ErrFileTooLarge           ErrorKind = "FileTooLarge"
	ErrModelUnavailable       ErrorKind = "ModelUnavailable"
	ErrModelProtocolError     ErrorKind = "ModelProtocolError"
	ErrExecutionTimeout       ErrorKind = "ExecutionTimeout"
	ErrSandboxUnavailable     ErrorKind = "SandboxUnavailable"
	ErrExecBudgetExhausted    ErrorKind = "ExecBudgetExhausted"
	ErrWallTimeout            ErrorKind = "WallTimeout"
	ErrCanceled               ErrorKind = "Canceled"
	ErrBroker                 ErrorKind = "BrokerError"
	ErrInflationRefreshFailed ErrorKind = "InflationRefreshFailed"
)

// JobError is the terminal {kind, message} pair recorded on a FAILED job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// Job is the broker-owned unit of work.
type Job struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	PrimaryFile string    `json:"primary_file,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	State       JobState  `json:"state"`
	Attempts    int       `json:"attempts"`
	Result      string    `json:"result,omitempty"`
	Err         *JobError `json:"error,omitempty"`
	ProgressSeq int64     `json:"progress_cursor"`
}

// Phase enumerates ProgressEvent.phase.
type Phase string

const (
	PhaseQueued         Phase = "queued"
	PhaseLoadingContext Phase = "loading-context"
	PhasePrompting      Phase = "prompting"
	PhaseGeneratingCode Phase = "generating-code"
	PhaseExecutingCode  Phase = "executing-code"
	PhaseSummarizing    Phase = "summarizing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ProgressEvent is one ordered entry in a job's progress stream.
type ProgressEvent struct {
	Seq           int64     `json:"seq"`
	At            time.Time `json:"at"`
	Phase         Phase     `json:"phase"`
	Detail        string    `json:"detail"`
	PartialOutput string    `json:"partial_output,omitempty"`
}

// Lease is a worker's time-bounded exclusive hold on a reserved job.
type Lease struct {
	JobID   string
	Token   string
	Expires time.Time
}
