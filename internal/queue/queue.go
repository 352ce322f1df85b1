// Package queue provides durable, at-least-once delivery of scan analysis
// jobs. The production implementation is backed by asynq/Redis; an in-memory
// implementation exists for tests and single-process development.
package queue

import (
	"context"
	"errors"
	"time"
)

const (
	// TaskAnalyzeScan is scheduled each time a scan is submitted for analysis.
	TaskAnalyzeScan = "scan:analyze"
	// AnalysisQueue is the asynq queue name the worker consumes.
	AnalysisQueue = "analysis"
)

var (
	// ErrJobNotFound indicates no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob indicates a job for the same scan is already in flight.
	ErrDuplicateJob = errors.New("analysis job already in flight")
)

// State is the queue-owned job lifecycle, independent of the scan's own
// status field.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a terminal job state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the queue's view of one analysis task. Result and FailedReason are
// set exactly once, when the job reaches a terminal state.
type Job struct {
	ID           string    `json:"id"`
	ScanID       string    `json:"scanId"`
	State        State     `json:"state"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"maxRetry"`
	Result       []byte    `json:"result,omitempty"`
	FailedReason string    `json:"failedReason,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Stats summarizes the queue for observability.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// AnalyzePayload is serialized into the task payload. Only the scan id is
// carried; the worker re-fetches everything else from the record store to
// avoid staleness.
type AnalyzePayload struct {
	ScanID string `json:"scan_id"`
}

// Queue is the scheduling primitive consumed by the analysis service.
type Queue interface {
	// Enqueue creates a waiting job for the scan and returns it immediately;
	// it never blocks on processing.
	Enqueue(ctx context.Context, scanID string) (*Job, error)
	// GetJob is a pure read of the job's current state.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// Stats reports per-state job counts.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases the queue's connections.
	Close() error
}
