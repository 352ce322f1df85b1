package analysis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/imagemedix/imagemedix/internal/model"
	"github.com/imagemedix/imagemedix/internal/queue"
)

// StatusView is what a polling client sees: the record's status plus, when a
// job backs the scan, the raw queue state so "still queued" and "actively
// running" are distinguishable.
type StatusView struct {
	Status model.ScanStatus `json:"status"`
	Job    *queue.Job       `json:"jobStatus,omitempty"`
}

// Status resolves the unified status for a scan, reconciling queue state with
// persisted record state. The read is side-effect-free except for lazy
// self-healing: a terminal job state not yet reflected on the record is
// pulled onto it and persisted, so the two can never diverge indefinitely.
func (s *Service) Status(ctx context.Context, scanID string) (*StatusView, error) {
	rec, err := s.scans.Get(ctx, scanID)
	if err != nil {
		return nil, err
	}
	// covers pre-enqueue and enqueue-failed states
	if rec.AnalysisJobID == "" {
		return &StatusView{Status: rec.Status}, nil
	}

	job, err := s.queue.GetJob(ctx, rec.AnalysisJobID)
	if err != nil {
		if !errors.Is(err, queue.ErrJobNotFound) {
			s.log.Warn().Err(err).Str("scan_id", scanID).Msg("queue unavailable during status poll")
		}
		return &StatusView{Status: rec.Status}, nil
	}

	switch {
	case job.State == queue.StateCompleted && rec.Status != model.StatusCompleted:
		s.reconcileCompleted(ctx, rec, job)
	case job.State == queue.StateFailed && rec.Status != model.StatusFailed:
		s.reconcileFailed(ctx, rec, job)
	}
	return &StatusView{Status: rec.Status, Job: job}, nil
}

// reconcileCompleted adopts the job's return value onto a record that missed
// the worker-side persist.
func (s *Service) reconcileCompleted(ctx context.Context, rec *model.ScanRecord, job *queue.Job) {
	if len(job.Result) > 0 {
		result := &model.Result{}
		if err := json.Unmarshal(job.Result, result); err == nil {
			rec.Result = result
		} else {
			s.log.Warn().Err(err).Str("scan_id", rec.ID).Msg("job result did not decode during reconciliation")
		}
	}
	rec.SetStatus(model.StatusCompleted, "status reconciled from completed job")
	if err := s.scans.Save(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("scan_id", rec.ID).Msg("could not persist reconciled status")
	}
}

func (s *Service) reconcileFailed(ctx context.Context, rec *model.ScanRecord, job *queue.Job) {
	reason := job.FailedReason
	if reason == "" {
		reason = "analysis job failed"
	}
	rec.SetStatus(model.StatusFailed, reason)
	if err := s.scans.Save(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("scan_id", rec.ID).Msg("could not persist reconciled status")
	}
}
