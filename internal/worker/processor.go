// Package worker turns waiting analysis jobs into terminal ones, driving the
// inference client and the scan record store.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imagemedix/imagemedix/internal/inference"
	"github.com/imagemedix/imagemedix/internal/metrics"
	"github.com/imagemedix/imagemedix/internal/model"
)

// ScanStore is the slice of the record store the worker needs.
type ScanStore interface {
	Get(ctx context.Context, id string) (*model.ScanRecord, error)
	Save(ctx context.Context, rec *model.ScanRecord) error
}

// ImageSigner produces a URL the model service can fetch the scan image from.
type ImageSigner func(ctx context.Context, imageKey string) (string, error)

// Processor handles one analysis job at a time. It is safe for concurrent use
// across distinct scan ids; the queue guarantees a single worker per job.
type Processor struct {
	scans      ScanStore
	classifier inference.Classifier
	signImage  ImageSigner
	log        zerolog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(scans ScanStore, classifier inference.Classifier, signImage ImageSigner, log zerolog.Logger) *Processor {
	return &Processor{
		scans:      scans,
		classifier: classifier,
		signImage:  signImage,
		log:        log,
	}
}

// Process runs the per-job algorithm and returns the serialized result for
// the queue to record. A missing scan record is fatal and returned as
// model.ErrScanNotFound; inference failures degrade to a synthetic result
// rather than failing the job.
func (p *Processor) Process(ctx context.Context, scanID string) ([]byte, error) {
	rec, err := p.scans.Get(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load scan %s: %w", scanID, err)
	}

	rec.SetStatus(model.StatusProcessing, "model analysis started")
	if err := p.scans.Save(ctx, rec); err != nil {
		return nil, p.fail(ctx, rec, fmt.Errorf("persist processing transition: %w", err))
	}

	result, message := p.classify(ctx, rec)
	result.ProcessedAt = time.Now().UTC()
	rec.Result = result
	rec.SetStatus(model.StatusCompleted, message)
	if err := p.scans.Save(ctx, rec); err != nil {
		return nil, p.fail(ctx, rec, fmt.Errorf("persist completed transition: %w", err))
	}

	metrics.IncScanJob(string(model.StatusCompleted))
	p.log.Info().Str("scan_id", scanID).Str("model_version", result.Metadata.ModelVersion).
		Msg("scan processed")

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// classify calls the model service, substituting a shape-identical synthetic
// result when the call fails so the caller always gets a result.
func (p *Processor) classify(ctx context.Context, rec *model.ScanRecord) (*model.Result, string) {
	start := time.Now()
	imageURL, err := p.signImage(ctx, rec.ImageKey)
	if err == nil {
		var result *model.Result
		result, err = p.classifier.Classify(ctx, rec, imageURL)
		if err == nil {
			metrics.ObserveInference(string(rec.Type), "ok", time.Since(start).Seconds())
			return result, "model analysis completed"
		}
	}
	metrics.ObserveInference(string(rec.Type), "error", time.Since(start).Seconds())
	metrics.IncFallback(string(rec.Type))
	p.log.Warn().Err(err).Str("scan_id", rec.ID).Msg("model service unavailable, substituting fallback result")
	return inference.FallbackResult(rec.Type), "model service unavailable, fallback result substituted"
}

// fail records the failed transition before propagating the error. The save
// is best-effort on a background context; if the store is down the error
// still reaches the queue's failure handler.
func (p *Processor) fail(ctx context.Context, rec *model.ScanRecord, cause error) error {
	rec.SetStatus(model.StatusFailed, cause.Error())
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.scans.Save(saveCtx, rec); err != nil {
		p.log.Error().Err(err).Str("scan_id", rec.ID).Msg("could not persist failed transition")
	}
	metrics.IncScanJob(string(model.StatusFailed))
	return cause
}
