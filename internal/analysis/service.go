// Package analysis ties the scan record store to the job queue: it starts
// analysis runs and resolves the unified status clients poll.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/imagemedix/imagemedix/internal/model"
	"github.com/imagemedix/imagemedix/internal/queue"
)

// ErrAnalysisInFlight is returned when a new run is requested while the
// scan's recorded job is still waiting or active.
var ErrAnalysisInFlight = errors.New("analysis already in flight for scan")

// ScanStore is the slice of the record store the service needs.
type ScanStore interface {
	Get(ctx context.Context, id string) (*model.ScanRecord, error)
	Save(ctx context.Context, rec *model.ScanRecord) error
}

// Service owns the enqueue step and the status read path.
type Service struct {
	scans ScanStore
	queue queue.Queue
	log   zerolog.Logger
}

// NewService constructs a Service.
func NewService(scans ScanStore, q queue.Queue, log zerolog.Logger) *Service {
	return &Service{scans: scans, queue: q, log: log}
}

// Start enqueues an analysis job for the scan and records the job id. At most
// one job per scan may be in flight; a second request is rejected until the
// prior job reaches a terminal state. If the queue backend is unavailable the
// record settles in upload_complete and the error propagates to the caller.
func (s *Service) Start(ctx context.Context, scanID string) (*queue.Job, error) {
	rec, err := s.scans.Get(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if rec.AnalysisJobID != "" {
		if prior, err := s.queue.GetJob(ctx, rec.AnalysisJobID); err == nil && !prior.State.Terminal() {
			return nil, fmt.Errorf("%w: job %s is %s", ErrAnalysisInFlight, prior.ID, prior.State)
		}
	}

	job, err := s.queue.Enqueue(ctx, scanID)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			return nil, fmt.Errorf("%w: duplicate enqueue rejected", ErrAnalysisInFlight)
		}
		// distinguish "uploaded but unanalyzed" from "uploaded and being
		// analyzed": the record must not linger in pending forever
		rec.SetStatus(model.StatusUploadComplete, "analysis queue unavailable: "+err.Error())
		if saveErr := s.scans.Save(ctx, rec); saveErr != nil {
			s.log.Error().Err(saveErr).Str("scan_id", scanID).Msg("could not persist upload_complete")
		}
		return nil, fmt.Errorf("enqueue analysis for scan %s: %w", scanID, err)
	}

	rec.AnalysisJobID = job.ID
	if err := s.scans.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("record job id for scan %s: %w", scanID, err)
	}
	s.log.Info().Str("scan_id", scanID).Str("job_id", job.ID).Msg("analysis job enqueued")
	return job, nil
}
