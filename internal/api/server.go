// Package api exposes the HTTP surface: scan upload, listing, status polling
// and report download.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/imagemedix/imagemedix/internal/analysis"
	"github.com/imagemedix/imagemedix/internal/config"
	"github.com/imagemedix/imagemedix/internal/metrics"
	"github.com/imagemedix/imagemedix/internal/model"
	"github.com/imagemedix/imagemedix/internal/queue"
	"github.com/imagemedix/imagemedix/internal/report"
	"github.com/imagemedix/imagemedix/internal/signing"
)

// ScanStore is the persistence surface the API needs.
type ScanStore interface {
	Create(ctx context.Context, rec *model.ScanRecord) error
	Get(ctx context.Context, id string) (*model.ScanRecord, error)
	Save(ctx context.Context, rec *model.ScanRecord) error
	List(ctx context.Context, status model.ScanStatus, patientID string) ([]*model.ScanRecord, error)
}

// BlobStore is the object-storage surface the API needs.
type BlobStore interface {
	UploadScan(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	UploadReport(ctx context.Context, objectKey string, data []byte) error
	DownloadReport(ctx context.Context, objectKey string) ([]byte, error)
	PresignScanURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Server wires the HTTP routes to the analysis service and the stores.
type Server struct {
	cfg    *config.Config
	scans  ScanStore
	blobs  BlobStore
	svc    *analysis.Service
	queue  queue.Queue
	signer *signing.Signer
	log    zerolog.Logger
	server *http.Server
}

// New constructs a Server.
func New(cfg *config.Config, scans ScanStore, blobs BlobStore, svc *analysis.Service, q queue.Queue, signer *signing.Signer, log zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		scans:  scans,
		blobs:  blobs,
		svc:    svc,
		queue:  q,
		signer: signer,
		log:    log,
	}
}

// Router builds the chi router. Exposed separately so tests can drive it with
// httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/scans", s.handleUpload)
		r.Get("/scans", s.handleList)
		r.Get("/scans/{id}", s.handleGet)
		r.Get("/scans/{id}/status", s.handleStatus)
		r.Get("/scans/{id}/image", s.handleImageURL)
		r.Post("/scans/{id}/report", s.handleCreateReport)
		r.Get("/reports/{id}", s.handleDownloadReport)
		r.Get("/queue/stats", s.handleQueueStats)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("address", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart scan upload, stores the image, creates the
// pending record and enqueues analysis. When enqueue fails the scan settles
// in upload_complete and the response says so instead of returning an error
// page; the image is already durable at that point.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}

	scanType := model.ScanType(r.FormValue("scanType"))
	if !scanType.Valid() {
		respondError(w, http.StatusBadRequest, "scanType must be brain or chest")
		return
	}
	patientID := r.FormValue("patientId")
	patientName := r.FormValue("patientName")
	if patientID == "" || patientName == "" {
		respondError(w, http.StatusBadRequest, "patientId and patientName are required")
		return
	}
	scanDate := time.Now().UTC()
	if v := r.FormValue("scanDate"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "scanDate must be YYYY-MM-DD")
			return
		}
		scanDate = parsed
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	contentType, err := s.sniffContentType(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	scanID := uuid.NewString()
	objectKey := fmt.Sprintf("scans/%s/%s", scanID, filepath.Base(header.Filename))
	if err := s.blobs.UploadScan(ctx, objectKey, file, header.Size, contentType); err != nil {
		s.log.Error().Err(err).Str("scan_id", scanID).Msg("image upload failed")
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	rec := &model.ScanRecord{
		ID:          scanID,
		PatientID:   patientID,
		PatientName: patientName,
		Type:        scanType,
		ScanDate:    scanDate,
		ImageKey:    objectKey,
		ContentType: contentType,
	}
	rec.SetStatus(model.StatusPending, "scan uploaded")
	if err := s.scans.Create(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("scan_id", scanID).Msg("record create failed")
		respondError(w, http.StatusInternalServerError, "failed to store scan metadata")
		return
	}
	metrics.IncScanUploaded(string(scanType))

	job, err := s.svc.Start(ctx, scanID)
	if err != nil {
		// the scan is uploaded but unanalyzed; the client can retry later
		rec, getErr := s.scans.Get(ctx, scanID)
		if getErr != nil {
			respondError(w, http.StatusInternalServerError, "failed to start analysis")
			return
		}
		respondJSON(w, http.StatusAccepted, uploadResponse{Scan: rec})
		return
	}
	rec, _ = s.scans.Get(ctx, scanID)
	respondJSON(w, http.StatusCreated, uploadResponse{Scan: rec, JobID: job.ID})
}

type uploadResponse struct {
	Scan  *model.ScanRecord `json:"scan"`
	JobID string            `json:"jobId,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := model.ScanStatus(r.URL.Query().Get("status"))
	patientID := r.URL.Query().Get("patientId")
	scans, err := s.scans.List(r.Context(), status, patientID)
	if err != nil {
		s.log.Error().Err(err).Msg("list scans failed")
		respondError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}
	if scans == nil {
		scans = []*model.ScanRecord{}
	}
	respondJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.scans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondNotFoundOr500(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleStatus is the polling endpoint; clients call it until the status is
// terminal.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondNotFoundOr500(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleImageURL(w http.ResponseWriter, r *http.Request) {
	rec, err := s.scans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondNotFoundOr500(w, s.log, err)
		return
	}
	url, err := s.blobs.PresignScanURL(r.Context(), rec.ImageKey, s.cfg.SignedURLTTL)
	if err != nil {
		s.log.Error().Err(err).Str("scan_id", rec.ID).Msg("presign image failed")
		respondError(w, http.StatusInternalServerError, "failed to generate url")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleCreateReport renders the report, stores it and returns a signed
// download link.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.scans.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondNotFoundOr500(w, s.log, err)
		return
	}
	if rec.Status != model.StatusCompleted {
		respondError(w, http.StatusConflict, "analysis is not completed")
		return
	}
	body, err := report.Generate(rec)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	objectKey := fmt.Sprintf("reports/%s.txt", rec.ID)
	if err := s.blobs.UploadReport(ctx, objectKey, body); err != nil {
		s.log.Error().Err(err).Str("scan_id", rec.ID).Msg("report upload failed")
		respondError(w, http.StatusInternalServerError, "failed to store report")
		return
	}
	if rec.ReportKey != objectKey {
		rec.ReportKey = objectKey
		if err := s.scans.Save(ctx, rec); err != nil {
			s.log.Error().Err(err).Str("scan_id", rec.ID).Msg("record report key failed")
			respondError(w, http.StatusInternalServerError, "failed to record report")
			return
		}
	}
	expires := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	sig := s.signer.Sign(rec.ID, expires)
	url := fmt.Sprintf("/api/reports/%s?expires=%d&sig=%s", rec.ID, expires, sig)
	respondJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.signer.Validate(id, r.URL.Query().Get("expires"), r.URL.Query().Get("sig")) {
		respondError(w, http.StatusForbidden, "invalid or expired link")
		return
	}
	rec, err := s.scans.Get(r.Context(), id)
	if err != nil {
		respondNotFoundOr500(w, s.log, err)
		return
	}
	if rec.ReportKey == "" {
		respondError(w, http.StatusNotFound, "report not generated")
		return
	}
	body, err := s.blobs.DownloadReport(r.Context(), rec.ReportKey)
	if err != nil {
		s.log.Error().Err(err).Str("scan_id", id).Msg("report download failed")
		respondError(w, http.StatusInternalServerError, "failed to fetch report")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("queue stats failed")
		respondError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// sniffContentType reads the first 512 bytes, rewinds, and checks the type
// against the allow list. DICOM uploads usually sniff as octet-stream, so the
// declared list is authoritative for that case.
func (s *Server) sniffContentType(file io.ReadSeeker) (string, error) {
	sniff := make([]byte, 512)
	n, err := file.Read(sniff)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read image: %w", err)
	}
	if n == 0 {
		return "", errors.New("empty file")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}
	contentType := http.DetectContentType(sniff[:n])
	for _, allowed := range s.cfg.AllowedTypes {
		if contentType == allowed {
			return contentType, nil
		}
		if allowed == "application/dicom" && contentType == "application/octet-stream" {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("unsupported content type %s", contentType)
}
