// Package ai streams structured commentary on a single operation from a
// language model and tracks each request as a small state machine.
package ai

import (
	"github.com/ggagosh/argus/internal/analyzer"
	"github.com/ggagosh/argus/pkg/models"
)

// OperationPayload is what the model is asked to comment on
type OperationPayload struct {
	Namespace     string          `json:"namespace"`
	OperationKind string          `json:"operationKind"`
	DurationMs    float64         `json:"durationMs"`
	Filter        models.Document `json:"filter"`
	Command       models.Document `json:"command,omitempty"`
	DocsExamined  float64         `json:"docsExamined"`
	KeysExamined  float64         `json:"keysExamined"`
	NReturned     float64         `json:"nreturned"`
	ScanRatio     *float64        `json:"scanRatio"`
	PlanSummary   string          `json:"planSummary,omitempty"`
}

// PayloadFromEntry builds the payload for the entry at position index of a log
func PayloadFromEntry(index int, entry models.LogEntry) OperationPayload {
	op := analyzer.Normalize(index, entry)
	return OperationPayload{
		Namespace:     op.Namespace,
		OperationKind: op.OperationKind,
		DurationMs:    op.DurationMs,
		Filter:        op.Filter,
		Command:       entry.Command().Clone(),
		DocsExamined:  entry.DocsExamined(),
		KeysExamined:  entry.KeysExamined(),
		NReturned:     entry.NReturned(),
		ScanRatio:     analyzer.ScanRatio(entry),
		PlanSummary:   op.PlanSummary,
	}
}

// IndexAdvice is one index proposed by the model
type IndexAdvice struct {
	IndexDefinitionText string `json:"indexDefinitionText"`
	RationaleMessage    string `json:"rationaleMessage"`
}

// Commentary is the structured response of the model. While streaming,
// any field may be missing or incomplete.
type Commentary struct {
	PerformanceAnalysis []models.Finding `json:"performanceAnalysis"`
	SuggestedIndexes    []IndexAdvice    `json:"suggestedIndexes"`
	SuggestedQueryText  string           `json:"suggestedQueryText"`
}
