package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/imagemedix/imagemedix/internal/config"
)

// RedisQueue is the asynq-backed Queue. Jobs survive process restarts and are
// retained after completion so late status polls still resolve.
type RedisQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	retention time.Duration
	timeout   time.Duration
}

// NewRedisQueue constructs the production queue from config.
func NewRedisQueue(cfg *config.Config) *RedisQueue {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &RedisQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		maxRetry:  cfg.JobMaxRetry,
		retention: cfg.JobRetention,
		// the handler gets headroom beyond the inference timeout so a slow
		// model call fails inside the handler, not via queue-level timeout
		timeout: cfg.InferenceTimeout + 30*time.Second,
	}
}

// Enqueue creates a waiting analysis job for the scan. Uniqueness is keyed on
// the payload for the retention window, backstopping the service-level
// one-in-flight-job-per-scan check.
func (q *RedisQueue) Enqueue(ctx context.Context, scanID string) (*Job, error) {
	data, err := json.Marshal(AnalyzePayload{ScanID: scanID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskAnalyzeScan, data)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(AnalysisQueue),
		asynq.MaxRetry(q.maxRetry),
		asynq.Retention(q.retention),
		asynq.Timeout(q.timeout),
		asynq.Unique(q.timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, ErrDuplicateJob
		}
		return nil, fmt.Errorf("enqueue analysis task: %w", err)
	}
	return jobFromTaskInfo(info), nil
}

// GetJob reads the job's current state from the queue backend.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	info, err := q.inspector.GetTaskInfo(AnalysisQueue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get task info: %w", err)
	}
	return jobFromTaskInfo(info), nil
}

// Stats reports per-state job counts for the analysis queue.
func (q *RedisQueue) Stats(ctx context.Context) (*Stats, error) {
	info, err := q.inspector.GetQueueInfo(AnalysisQueue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return &Stats{}, nil
		}
		return nil, fmt.Errorf("get queue info: %w", err)
	}
	return &Stats{
		Waiting:   info.Pending + info.Scheduled + info.Retry,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
	}, nil
}

// Close releases the client and inspector connections.
func (q *RedisQueue) Close() error {
	cerr := q.client.Close()
	if ierr := q.inspector.Close(); ierr != nil && cerr == nil {
		cerr = ierr
	}
	return cerr
}

func jobFromTaskInfo(info *asynq.TaskInfo) *Job {
	var payload AnalyzePayload
	_ = json.Unmarshal(info.Payload, &payload)
	job := &Job{
		ID:         info.ID,
		ScanID:     payload.ScanID,
		State:      mapTaskState(info.State),
		Retried:    info.Retried,
		MaxRetry:   info.MaxRetry,
		Result:     info.Result,
		EnqueuedAt: info.NextProcessAt,
	}
	if job.State == StateFailed {
		job.FailedReason = info.LastErr
	}
	return job
}

// mapTaskState folds asynq's task states into the four-state job lifecycle.
// Scheduled, retry and aggregating tasks will all run again, so they count as
// waiting; archived tasks have exhausted their retries.
func mapTaskState(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		return StateWaiting
	}
}
