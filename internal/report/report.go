// Package report renders the textual analysis report for a completed scan.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/imagemedix/imagemedix/internal/model"
)

// ErrNoResult is returned when a report is requested before analysis produced
// a result.
var ErrNoResult = fmt.Errorf("scan has no analysis result")

// Generate renders the report body for the scan.
func Generate(rec *model.ScanRecord) ([]byte, error) {
	if rec.Result == nil {
		return nil, ErrNoResult
	}
	var b strings.Builder

	title := "Brain MRI Classification Report"
	if rec.Type == model.ScanTypeChest {
		title = "Chest X-Ray Classification Report"
	}
	writeHeader(&b, title, rec)
	writePatientInfo(&b, rec)
	writeScanInfo(&b, rec)
	writeResults(&b, rec.Result)
	writeHistory(&b, rec.ProcessingHistory)

	b.WriteString("\nThis report was generated automatically and must be reviewed by a clinician.\n")
	return []byte(b.String()), nil
}

func writeHeader(b *strings.Builder, title string, rec *model.ScanRecord) {
	fmt.Fprintf(b, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	fmt.Fprintf(b, "Report ID:    %s\n", rec.ID)
	fmt.Fprintf(b, "Generated on: %s\n\n", time.Now().UTC().Format(time.RFC1123))
}

func writePatientInfo(b *strings.Builder, rec *model.ScanRecord) {
	b.WriteString("Patient\n-------\n")
	fmt.Fprintf(b, "Name:       %s\n", rec.PatientName)
	fmt.Fprintf(b, "Patient ID: %s\n\n", rec.PatientID)
}

func writeScanInfo(b *strings.Builder, rec *model.ScanRecord) {
	b.WriteString("Scan\n----\n")
	fmt.Fprintf(b, "Type:      %s\n", rec.Type)
	fmt.Fprintf(b, "Scan date: %s\n", rec.ScanDate.Format("2006-01-02"))
	fmt.Fprintf(b, "Status:    %s\n\n", rec.Status)
}

func writeResults(b *strings.Builder, res *model.Result) {
	b.WriteString("Findings\n--------\n")
	switch res.Kind {
	case model.ScanTypeBrain:
		brain := res.Brain
		fmt.Fprintf(b, "Tumor present:     %t\n", brain.TumorPresent)
		if brain.TumorPresent {
			fmt.Fprintf(b, "Tumor type:        %s (grade %s)\n", brain.TumorType, brain.TumorGrade)
			fmt.Fprintf(b, "Tumor probability: %.2f\n", brain.TumorProbability)
		}
		if len(brain.ClassProbabilities) > 0 {
			b.WriteString("Class probabilities:\n")
			classes := make([]string, 0, len(brain.ClassProbabilities))
			for class := range brain.ClassProbabilities {
				classes = append(classes, class)
			}
			sort.Strings(classes)
			for _, class := range classes {
				fmt.Fprintf(b, "  %-12s %.2f\n", class, brain.ClassProbabilities[class])
			}
		}
		if brain.Location != nil {
			fmt.Fprintf(b, "Estimated volume:  %.0f mm3\n", brain.Location.VolumeMM3)
		}
	case model.ScanTypeChest:
		chest := res.Chest
		fmt.Fprintf(b, "Condition:   %s\n", chest.Condition)
		fmt.Fprintf(b, "Probability: %.2f\n", chest.Probability)
		if chest.Explanation != "" {
			fmt.Fprintf(b, "Notes:       %s\n", chest.Explanation)
		}
	}
	fmt.Fprintf(b, "\nModel confidence: %.2f\n", res.Confidence.ModelConfidence)
	fmt.Fprintf(b, "Model version:    %s\n", res.Metadata.ModelVersion)
	fmt.Fprintf(b, "Processed at:     %s\n\n", res.ProcessedAt.Format(time.RFC1123))
}

func writeHistory(b *strings.Builder, history []model.HistoryEntry) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Processing history\n------------------\n")
	for _, entry := range history {
		fmt.Fprintf(b, "%s  %-12s %s\n", entry.Timestamp.Format(time.RFC3339), entry.Status, entry.Message)
	}
}
