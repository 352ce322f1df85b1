// Package model contains the scan record and result types shared across the
// API server and the analysis worker.
package model

import (
	"errors"
	"time"
)

// ErrScanNotFound is returned by any scan store when no record exists for the
// requested id.
var ErrScanNotFound = errors.New("scan not found")

// ScanType discriminates the two supported imaging modalities.
type ScanType string

const (
	ScanTypeBrain ScanType = "brain"
	ScanTypeChest ScanType = "chest"
)

// Valid reports whether t is a known scan type.
func (t ScanType) Valid() bool {
	return t == ScanTypeBrain || t == ScanTypeChest
}

// ScanStatus describes the analysis lifecycle of an uploaded scan.
type ScanStatus string

const (
	// StatusPending is the initial state, set when the record is created.
	StatusPending ScanStatus = "pending"
	// StatusUploadComplete means the image was stored but the analysis job
	// could not be enqueued; the scan is uploaded but unanalyzed.
	StatusUploadComplete ScanStatus = "upload_complete"
	// StatusProcessing is set by the worker when it picks up the job.
	StatusProcessing ScanStatus = "processing"
	StatusCompleted  ScanStatus = "completed"
	StatusFailed     ScanStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// HistoryEntry is one line of the append-only processing log. Every status
// transition appends exactly one entry.
type HistoryEntry struct {
	Status    ScanStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// ScanRecord holds one uploaded medical image and its analysis lifecycle.
type ScanRecord struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName"`
	Type        ScanType  `json:"type"`
	ScanDate    time.Time `json:"scanDate"`
	// ImageKey is the object key of the raw image in the scans bucket.
	ImageKey    string     `json:"-"`
	ContentType string     `json:"contentType"`
	Status      ScanStatus `json:"status"`
	// AnalysisJobID references the queue job backing this record. Set once,
	// at enqueue time; empty when enqueue never succeeded.
	AnalysisJobID     string         `json:"analysisJobId,omitempty"`
	Result            *Result        `json:"result,omitempty"`
	ReportKey         string         `json:"-"`
	ProcessingHistory []HistoryEntry `json:"processingHistory"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// SetStatus transitions the record and appends the matching history entry.
// History is append-only; callers must persist the record afterwards.
func (r *ScanRecord) SetStatus(status ScanStatus, message string) {
	r.Status = status
	r.ProcessingHistory = append(r.ProcessingHistory, HistoryEntry{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
