package model

import "time"

// Result is the classification payload attached to a completed scan. It is a
// tagged union: Kind selects which findings branch is populated.
type Result struct {
	Kind        ScanType          `json:"kind"`
	Brain       *BrainFindings    `json:"brain,omitempty"`
	Chest       *ChestFindings    `json:"chest,omitempty"`
	Confidence  ConfidenceMetrics `json:"confidenceMetrics"`
	Metadata    ResultMetadata    `json:"metadata"`
	ProcessedAt time.Time         `json:"processedAt"`
}

// BrainFindings carries the MRI tumor classification output.
type BrainFindings struct {
	TumorPresent       bool               `json:"tumorPresent"`
	TumorType          string             `json:"tumorType"`
	TumorGrade         string             `json:"tumorGrade"`
	TumorProbability   float64            `json:"tumorProbability"`
	ClassProbabilities map[string]float64 `json:"classProbabilities"`
	Location           *TumorLocation     `json:"location,omitempty"`
}

// TumorLocation localizes a detected tumor within the scan volume.
type TumorLocation struct {
	BoundingBox []int   `json:"boundingBox"`
	Dimensions  []int   `json:"dimensions"`
	VolumeMM3   float64 `json:"volumeMm3"`
	Heatmap     string  `json:"heatmap,omitempty"`
}

// ChestFindings carries the X-ray pneumonia classification output.
type ChestFindings struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Explanation string  `json:"explanation,omitempty"`
}

// ConfidenceMetrics is shared by both findings branches.
type ConfidenceMetrics struct {
	ModelConfidence     float64 `json:"modelConfidence"`
	PredictionStability float64 `json:"predictionStability"`
}

// ResultMetadata describes how the result was produced.
type ResultMetadata struct {
	ProcessingTime float64 `json:"processingTime"`
	ModelVersion   string  `json:"modelVersion"`
}

// Findings returns the populated branch as a non-nil marker, used to verify
// the union is well formed.
func (r *Result) Findings() any {
	switch r.Kind {
	case ScanTypeBrain:
		if r.Brain != nil {
			return r.Brain
		}
	case ScanTypeChest:
		if r.Chest != nil {
			return r.Chest
		}
	}
	return nil
}
