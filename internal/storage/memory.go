// Package storage contains the in-memory scan store used by tests and the
// queue-less development mode. It implements the same contract as the
// Postgres-backed repository.
package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/imagemedix/imagemedix/internal/model"
)

// MemoryStore keeps scan records in a map guarded by an RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	scans map[string]*model.ScanRecord

	// FailSaves makes every Save return the given error; tests use it to
	// exercise the worker's persistence-failure path.
	FailSaves error
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scans: make(map[string]*model.ScanRecord)}
}

// Create inserts a record.
func (m *MemoryStore) Create(_ context.Context, rec *model.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.scans[rec.ID] = clone(rec)
	return nil
}

// Get returns a copy of the record so callers cannot mutate internal state.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.scans[id]
	if !ok {
		return nil, model.ErrScanNotFound
	}
	return clone(rec), nil
}

// Save replaces the stored record.
func (m *MemoryStore) Save(_ context.Context, rec *model.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	if _, ok := m.scans[rec.ID]; !ok {
		return model.ErrScanNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	m.scans[rec.ID] = clone(rec)
	return nil
}

// List returns scans matching the optional filters.
func (m *MemoryStore) List(_ context.Context, status model.ScanStatus, patientID string) ([]*model.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ScanRecord
	for _, rec := range m.scans {
		if status != "" && rec.Status != status {
			continue
		}
		if patientID != "" && rec.PatientID != patientID {
			continue
		}
		out = append(out, clone(rec))
	}
	return out, nil
}

// clone deep-copies a record through JSON, matching what a round-trip through
// the database would produce.
func clone(rec *model.ScanRecord) *model.ScanRecord {
	data, err := json.Marshal(rec)
	if err != nil {
		cp := *rec
		return &cp
	}
	var out model.ScanRecord
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *rec
		return &cp
	}
	// ImageKey and ReportKey are hidden from JSON; carry them explicitly.
	out.ImageKey = rec.ImageKey
	out.ReportKey = rec.ReportKey
	return &out
}
