// Package repository wraps all SQL used by the API server and the worker.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imagemedix/imagemedix/internal/model"
)

// ScanRepository persists scan records in Postgres. Every mutation is a full
// load-modify-save cycle; the worker is the sole writer of result transitions
// for a given scan, so no optimistic locking is used.
type ScanRepository struct {
	pool *pgxpool.Pool
}

// NewScanRepository constructs a repository.
func NewScanRepository(pool *pgxpool.Pool) *ScanRepository {
	return &ScanRepository{pool: pool}
}

// Create inserts a new scan record.
func (r *ScanRepository) Create(ctx context.Context, rec *model.ScanRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	history, err := json.Marshal(rec.ProcessingHistory)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scans (id, patient_id, patient_name, scan_type, scan_date, image_key, content_type,
			status, analysis_job_id, result, report_key, processing_history, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,$10,$11,$12,$13)
	`, rec.ID, rec.PatientID, rec.PatientName, rec.Type, rec.ScanDate, rec.ImageKey, rec.ContentType,
		rec.Status, nullable(rec.AnalysisJobID), nullable(rec.ReportKey), history, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// Get returns a scan record by id.
func (r *ScanRepository) Get(ctx context.Context, id string) (*model.ScanRecord, error) {
	var (
		rec     model.ScanRecord
		jobID   *string
		repKey  *string
		result  []byte
		history []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, patient_name, scan_type, scan_date, image_key, content_type,
			status, analysis_job_id, result, report_key, processing_history, created_at, updated_at
		FROM scans WHERE id=$1
	`, id)
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.PatientName, &rec.Type, &rec.ScanDate,
		&rec.ImageKey, &rec.ContentType, &rec.Status, &jobID, &result, &repKey, &history,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrScanNotFound
		}
		return nil, fmt.Errorf("select scan: %w", err)
	}
	if jobID != nil {
		rec.AnalysisJobID = *jobID
	}
	if repKey != nil {
		rec.ReportKey = *repKey
	}
	if len(result) > 0 {
		rec.Result = &model.Result{}
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.ProcessingHistory); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return &rec, nil
}

// Save writes the full record back, replacing every mutable column.
func (r *ScanRepository) Save(ctx context.Context, rec *model.ScanRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	history, err := json.Marshal(rec.ProcessingHistory)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	var result []byte
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE scans
		SET status=$1, analysis_job_id=$2, result=$3, report_key=$4,
			processing_history=$5, updated_at=$6
		WHERE id=$7
	`, rec.Status, nullable(rec.AnalysisJobID), result, nullable(rec.ReportKey),
		history, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrScanNotFound
	}
	return nil
}

// List returns scans matching the optional filters, newest first.
func (r *ScanRepository) List(ctx context.Context, status model.ScanStatus, patientID string) ([]*model.ScanRecord, error) {
	query := `
		SELECT id, patient_id, patient_name, scan_type, scan_date, image_key, content_type,
			status, analysis_job_id, result, report_key, processing_history, created_at, updated_at
		FROM scans WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if patientID != "" {
		args = append(args, patientID)
		query += fmt.Sprintf(" AND patient_id=$%d", len(args))
	}
	query += " ORDER BY scan_date DESC LIMIT 200"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []*model.ScanRecord
	for rows.Next() {
		var (
			rec     model.ScanRecord
			jobID   *string
			repKey  *string
			result  []byte
			history []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.PatientName, &rec.Type, &rec.ScanDate,
			&rec.ImageKey, &rec.ContentType, &rec.Status, &jobID, &result, &repKey, &history,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if jobID != nil {
			rec.AnalysisJobID = *jobID
		}
		if repKey != nil {
			rec.ReportKey = *repKey
		}
		if len(result) > 0 {
			rec.Result = &model.Result{}
			if err := json.Unmarshal(result, rec.Result); err != nil {
				return nil, fmt.Errorf("unmarshal result: %w", err)
			}
		}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &rec.ProcessingHistory); err != nil {
				return nil, fmt.Errorf("unmarshal history: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
