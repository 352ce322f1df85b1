package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/imagemedix/imagemedix/internal/model"
	"github.com/imagemedix/imagemedix/internal/queue"
)

// Handler registers the analyze task on an asynq mux.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskAnalyzeScan, p.handleAnalyze)
	return mux
}

func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	result, err := p.Process(ctx, payload.ScanID)
	if err != nil {
		// a missing record is a data-integrity bug upstream, not a
		// transient failure; retrying cannot fix it
		if errors.Is(err, model.ErrScanNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if w := task.ResultWriter(); w != nil {
		if _, err := w.Write(result); err != nil {
			p.log.Warn().Err(err).Str("scan_id", payload.ScanID).Msg("could not record job result")
		}
	}
	return nil
}

// MemoryHandler adapts the processor to the in-memory queue.
func (p *Processor) MemoryHandler() queue.Handler {
	return p.Process
}

// RetryDelay is a capped exponential backoff for the asynq server: 10s, 20s,
// 40s, ... up to 10 minutes.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := 10 * time.Second << uint(n)
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}

// ErrorHandler logs jobs that exhausted processing attempts.
func ErrorHandler(log zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		var payload queue.AnalyzePayload
		_ = json.Unmarshal(task.Payload(), &payload)
		log.Error().Err(err).Str("scan_id", payload.ScanID).Str("task", task.Type()).
			Msg("analysis job attempt failed")
	})
}
