// Package inference calls the external ML classification services over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/imagemedix/imagemedix/internal/model"
)

// Classifier is the seam the worker drives. Implementations must honor the
// context deadline.
type Classifier interface {
	Classify(ctx context.Context, rec *model.ScanRecord, imageURL string) (*model.Result, error)
}

// Client talks to the brain and chest model services.
type Client struct {
	httpClient *http.Client
	brainURL   string
	chestURL   string
	apiKey     string
	timeout    time.Duration
}

// NewClient constructs a Client. The timeout bounds every Classify call so a
// hung model service cannot hold a worker slot indefinitely.
func NewClient(brainURL, chestURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		brainURL:   brainURL,
		chestURL:   chestURL,
		apiKey:     apiKey,
		timeout:    timeout,
	}
}

// analyzeRequest is the wire format both model services accept.
type analyzeRequest struct {
	ImageURL  string          `json:"image_url"`
	ScanID    string          `json:"scan_id"`
	PatientID string          `json:"patient_id"`
	Metadata  analyzeMetadata `json:"metadata"`
}

type analyzeMetadata struct {
	ScanType string    `json:"scan_type"`
	ScanDate time.Time `json:"scan_date"`
}

// brainResponse mirrors the brain service's JSON output.
type brainResponse struct {
	ScanID      string `json:"scan_id"`
	Predictions struct {
		TumorPresent       bool               `json:"tumor_present"`
		TumorType          string             `json:"tumor_type"`
		TumorGrade         string             `json:"tumor_grade"`
		TumorProbability   float64            `json:"tumor_probability"`
		ClassProbabilities map[string]float64 `json:"class_probabilities"`
	} `json:"predictions"`
	Location *struct {
		BoundingBox []int   `json:"bounding_box"`
		Dimensions  []int   `json:"dimensions"`
		Volume      float64 `json:"volume"`
		Heatmap     string  `json:"heatmap"`
	} `json:"location"`
	ConfidenceMetrics struct {
		ModelConfidence     float64 `json:"model_confidence"`
		PredictionStability float64 `json:"prediction_stability"`
	} `json:"confidence_metrics"`
	Metadata struct {
		ProcessingTime float64 `json:"processing_time"`
		ModelVersion   string  `json:"model_version"`
	} `json:"metadata"`
}

// chestResponse mirrors the chest service's JSON output.
type chestResponse struct {
	ScanID         string  `json:"scan_id"`
	Condition      string  `json:"condition"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation"`
	ProcessingTime float64 `json:"processing_time"`
	ModelVersion   string  `json:"model_version"`
}

// Classify sends the scan to the model service matching its type and maps the
// response into the tagged result union.
func (c *Client) Classify(ctx context.Context, rec *model.ScanRecord, imageURL string) (*model.Result, error) {
	var endpoint string
	switch rec.Type {
	case model.ScanTypeBrain:
		endpoint = c.brainURL + "/api/brain/analyze"
	case model.ScanTypeChest:
		endpoint = c.chestURL + "/api/chest/analyze"
	default:
		return nil, fmt.Errorf("unsupported scan type %q", rec.Type)
	}

	body, err := json.Marshal(analyzeRequest{
		ImageURL:  imageURL,
		ScanID:    rec.ID,
		PatientID: rec.PatientID,
		Metadata: analyzeMetadata{
			ScanType: string(rec.Type),
			ScanDate: rec.ScanDate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	switch rec.Type {
	case model.ScanTypeBrain:
		return decodeBrain(resp.Body)
	default:
		return decodeChest(resp.Body)
	}
}

func decodeBrain(r io.Reader) (*model.Result, error) {
	var out brainResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode brain response: %w", err)
	}
	res := &model.Result{
		Kind: model.ScanTypeBrain,
		Brain: &model.BrainFindings{
			TumorPresent:       out.Predictions.TumorPresent,
			TumorType:          out.Predictions.TumorType,
			TumorGrade:         out.Predictions.TumorGrade,
			TumorProbability:   out.Predictions.TumorProbability,
			ClassProbabilities: out.Predictions.ClassProbabilities,
		},
		Confidence: model.ConfidenceMetrics{
			ModelConfidence:     out.ConfidenceMetrics.ModelConfidence,
			PredictionStability: out.ConfidenceMetrics.PredictionStability,
		},
		Metadata: model.ResultMetadata{
			ProcessingTime: out.Metadata.ProcessingTime,
			ModelVersion:   out.Metadata.ModelVersion,
		},
	}
	if out.Location != nil {
		res.Brain.Location = &model.TumorLocation{
			BoundingBox: out.Location.BoundingBox,
			Dimensions:  out.Location.Dimensions,
			VolumeMM3:   out.Location.Volume,
			Heatmap:     out.Location.Heatmap,
		}
	}
	if res.Metadata.ModelVersion == "" {
		return nil, fmt.Errorf("malformed brain response: missing model version")
	}
	return res, nil
}

func decodeChest(r io.Reader) (*model.Result, error) {
	var out chestResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chest response: %w", err)
	}
	if out.Condition == "" {
		return nil, fmt.Errorf("malformed chest response: missing condition")
	}
	return &model.Result{
		Kind: model.ScanTypeChest,
		Chest: &model.ChestFindings{
			Condition:   out.Condition,
			Probability: out.Confidence,
			Explanation: out.Explanation,
		},
		Confidence: model.ConfidenceMetrics{
			ModelConfidence:     out.Confidence,
			PredictionStability: out.Confidence,
		},
		Metadata: model.ResultMetadata{
			ProcessingTime: out.ProcessingTime,
			ModelVersion:   out.ModelVersion,
		},
	}, nil
}
