package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemedix/imagemedix/internal/model"
	"github.com/imagemedix/imagemedix/internal/queue"
	"github.com/imagemedix/imagemedix/internal/storage"
)

// fakeQueue lets tests script queue behavior without Redis.
type fakeQueue struct {
	enqueueErr error
	jobs       map[string]*queue.Job
	nextID     int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*queue.Job)}
}

func (f *fakeQueue) Enqueue(_ context.Context, scanID string) (*queue.Job, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.nextID++
	job := &queue.Job{
		ID:         fmt.Sprintf("job-%d", f.nextID),
		ScanID:     scanID,
		State:      queue.StateWaiting,
		EnqueuedAt: time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeQueue) GetJob(_ context.Context, jobID string) (*queue.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeQueue) Stats(_ context.Context) (*queue.Stats, error) { return &queue.Stats{}, nil }
func (f *fakeQueue) Close() error                                  { return nil }

func seedScan(t *testing.T, store *storage.MemoryStore) *model.ScanRecord {
	t.Helper()
	rec := &model.ScanRecord{
		ID:        "scan-1",
		PatientID: "patient-1",
		Type:      model.ScanTypeBrain,
		ScanDate:  time.Now().UTC(),
	}
	rec.SetStatus(model.StatusPending, "scan uploaded")
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

func TestStartRecordsJobID(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	svc := NewService(store, q, zerolog.Nop())

	job, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)

	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, rec.AnalysisJobID)
	assert.Equal(t, model.StatusPending, rec.Status, "the worker owns the processing transition")
}

func TestStartEnqueueFailureSettlesInUploadComplete(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	q.enqueueErr = errors.New("redis unreachable")
	svc := NewService(store, q, zerolog.Nop())

	_, err := svc.Start(context.Background(), "scan-1")
	require.Error(t, err)

	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploadComplete, rec.Status)
	assert.Empty(t, rec.AnalysisJobID)

	// the record never reaches processing or completed through this attempt
	view, err := svc.Status(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploadComplete, view.Status)
	assert.Nil(t, view.Job)
}

func TestStartRejectsSecondJobWhileInFlight(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	svc := NewService(store, q, zerolog.Nop())

	first, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), "scan-1")
	assert.ErrorIs(t, err, ErrAnalysisInFlight)

	// once the job is terminal, re-analysis may start a new job
	q.jobs[first.ID].State = queue.StateCompleted
	second, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, rec.AnalysisJobID)
}

func TestStatusWithoutJobReturnsRecordStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	svc := NewService(store, newFakeQueue(), zerolog.Nop())

	view, err := svc.Status(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, view.Status)
	assert.Nil(t, view.Job)
}

func TestStatusUnknownScan(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), newFakeQueue(), zerolog.Nop())

	_, err := svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrScanNotFound)
}

func TestStatusReportsActiveJob(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	svc := NewService(store, q, zerolog.Nop())

	job, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)
	q.jobs[job.ID].State = queue.StateActive

	// simulate the worker having marked the record processing
	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	rec.SetStatus(model.StatusProcessing, "model analysis started")
	require.NoError(t, store.Save(context.Background(), rec))

	for i := 0; i < 2; i++ { // concurrent polls see the same view
		view, err := svc.Status(context.Background(), "scan-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, view.Status)
		require.NotNil(t, view.Job)
		assert.Equal(t, queue.StateActive, view.Job.State)
	}
}

func TestStatusReconcilesCompletedJob(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	svc := NewService(store, q, zerolog.Nop())

	job, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)

	// the job completed but the worker-side persist never landed
	result := &model.Result{
		Kind:     model.ScanTypeBrain,
		Brain:    &model.BrainFindings{TumorPresent: false},
		Metadata: model.ResultMetadata{ModelVersion: "2.1.0"},
	}
	data, err := json.Marshal(result)
	require.NoError(t, err)
	q.jobs[job.ID].State = queue.StateCompleted
	q.jobs[job.ID].Result = data

	view, err := svc.Status(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Status)

	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Result, "the job's return value is pulled onto the record")
	assert.Equal(t, "2.1.0", rec.Result.Metadata.ModelVersion)

	// terminal idempotence: repeated polls return the same status and do not
	// grow the history
	historyLen := len(rec.ProcessingHistory)
	for i := 0; i < 3; i++ {
		view, err := svc.Status(context.Background(), "scan-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, view.Status)
	}
	rec, err = store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Len(t, rec.ProcessingHistory, historyLen)
}

func TestStatusReconcilesFailedJob(t *testing.T) {
	store := storage.NewMemoryStore()
	seedScan(t, store)
	q := newFakeQueue()
	svc := NewService(store, q, zerolog.Nop())

	job, err := svc.Start(context.Background(), "scan-1")
	require.NoError(t, err)
	q.jobs[job.ID].State = queue.StateFailed
	q.jobs[job.ID].FailedReason = "scan not found"

	view, err := svc.Status(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, view.Status)
	require.NotNil(t, view.Job)
	assert.Equal(t, "scan not found", view.Job.FailedReason)

	rec, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	last := rec.ProcessingHistory[len(rec.ProcessingHistory)-1]
	assert.Equal(t, "scan not found", last.Message)
}

func TestStatusDegradesWhenQueueUnreachable(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := seedScan(t, store)
	rec.AnalysisJobID = "job-gone"
	require.NoError(t, store.Save(context.Background(), rec))

	svc := NewService(store, newFakeQueue(), zerolog.Nop())

	view, err := svc.Status(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, view.Status)
	assert.Nil(t, view.Job)
}
