package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemedix/imagemedix/internal/model"
)

func brainRecord() *model.ScanRecord {
	return &model.ScanRecord{
		ID:        "scan-1",
		PatientID: "patient-1",
		Type:      model.ScanTypeBrain,
		ScanDate:  time.Now().UTC(),
	}
}

func TestClassifyBrainSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/brain/analyze", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"scan_id": "scan-1",
			"predictions": {
				"tumor_present": true,
				"tumor_type": "glioma",
				"tumor_grade": "II",
				"tumor_probability": 0.85,
				"class_probabilities": {"glioma": 0.85, "meningioma": 0.10, "pituitary": 0.05}
			},
			"location": {
				"bounding_box": [100, 100, 200, 200],
				"dimensions": [50, 50, 30],
				"volume": 75000,
				"heatmap": "data"
			},
			"confidence_metrics": {"model_confidence": 0.92, "prediction_stability": 0.88},
			"metadata": {"processing_time": 1.5, "model_version": "2.1.0"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "http://unused", "secret-key", 5*time.Second)
	res, err := c.Classify(context.Background(), brainRecord(), "http://storage/scan.png")
	require.NoError(t, err)

	assert.Equal(t, model.ScanTypeBrain, res.Kind)
	require.NotNil(t, res.Brain)
	assert.True(t, res.Brain.TumorPresent)
	assert.Equal(t, "glioma", res.Brain.TumorType)
	assert.InDelta(t, 0.85, res.Brain.TumorProbability, 1e-9)
	require.NotNil(t, res.Brain.Location)
	assert.Equal(t, []int{100, 100, 200, 200}, res.Brain.Location.BoundingBox)
	assert.InDelta(t, 0.92, res.Confidence.ModelConfidence, 1e-9)
	assert.Equal(t, "2.1.0", res.Metadata.ModelVersion)
	assert.Nil(t, res.Chest)
}

func TestClassifyChestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chest/analyze", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"scan_id": "scan-2",
			"condition": "pneumonia",
			"confidence": 0.81,
			"explanation": "Opacity in the lower left lobe.",
			"processing_time": 0.9,
			"model_version": "1.4.2"
		}`))
	}))
	defer srv.Close()

	rec := brainRecord()
	rec.Type = model.ScanTypeChest
	c := NewClient("http://unused", srv.URL, "", 5*time.Second)
	res, err := c.Classify(context.Background(), rec, "http://storage/scan.png")
	require.NoError(t, err)

	assert.Equal(t, model.ScanTypeChest, res.Kind)
	require.NotNil(t, res.Chest)
	assert.Equal(t, "pneumonia", res.Chest.Condition)
	assert.InDelta(t, 0.81, res.Chest.Probability, 1e-9)
	assert.Nil(t, res.Brain)
}

func TestClassifyNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "", 5*time.Second)
	_, err := c.Classify(context.Background(), brainRecord(), "http://storage/scan.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClassifyMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions": `)) // truncated
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "", 5*time.Second)
	_, err := c.Classify(context.Background(), brainRecord(), "http://storage/scan.png")
	require.Error(t, err)
}

func TestClassifyMissingModelVersionIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions": {"tumor_present": false}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "", 5*time.Second)
	_, err := c.Classify(context.Background(), brainRecord(), "http://storage/scan.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestClassifyTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, srv.URL, "", 50*time.Millisecond)
	start := time.Now()
	_, err := c.Classify(context.Background(), brainRecord(), "http://storage/scan.png")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "the call is bounded by the configured timeout")
}

func TestClassifyUnknownScanType(t *testing.T) {
	c := NewClient("http://unused", "http://unused", "", time.Second)
	rec := brainRecord()
	rec.Type = model.ScanType("retina")
	_, err := c.Classify(context.Background(), rec, "http://storage/scan.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scan type")
}
