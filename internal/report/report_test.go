package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemedix/imagemedix/internal/model"
)

func TestGenerateBrainReport(t *testing.T) {
	rec := &model.ScanRecord{
		ID:          "scan-1",
		PatientID:   "patient-9",
		PatientName: "Jane Doe",
		Type:        model.ScanTypeBrain,
		ScanDate:    time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Result: &model.Result{
			Kind: model.ScanTypeBrain,
			Brain: &model.BrainFindings{
				TumorPresent:       true,
				TumorType:          "glioma",
				TumorGrade:         "II",
				TumorProbability:   0.85,
				ClassProbabilities: map[string]float64{"glioma": 0.85, "meningioma": 0.10},
			},
			Confidence:  model.ConfidenceMetrics{ModelConfidence: 0.92},
			Metadata:    model.ResultMetadata{ModelVersion: "2.1.0"},
			ProcessedAt: time.Now().UTC(),
		},
	}
	rec.SetStatus(model.StatusCompleted, "model analysis completed")

	body, err := Generate(rec)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "Brain MRI Classification Report")
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "patient-9")
	assert.Contains(t, text, "glioma")
	assert.Contains(t, text, "2025-03-14")
	assert.Contains(t, text, "2.1.0")
	assert.Contains(t, text, "Processing history")
}

func TestGenerateChestReport(t *testing.T) {
	rec := &model.ScanRecord{
		ID:          "scan-2",
		PatientID:   "patient-3",
		PatientName: "John Roe",
		Type:        model.ScanTypeChest,
		ScanDate:    time.Now().UTC(),
		Result: &model.Result{
			Kind:        model.ScanTypeChest,
			Chest:       &model.ChestFindings{Condition: "normal", Probability: 0.97},
			ProcessedAt: time.Now().UTC(),
		},
	}

	body, err := Generate(rec)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Chest X-Ray Classification Report")
	assert.Contains(t, string(body), "normal")
}

func TestGenerateWithoutResult(t *testing.T) {
	rec := &model.ScanRecord{ID: "scan-3", Type: model.ScanTypeBrain}
	_, err := Generate(rec)
	assert.ErrorIs(t, err, ErrNoResult)
}
