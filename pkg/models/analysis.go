package models

// Severity grades a finding about a single operation
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Finding is one observation about an operation's performance
type Finding struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
}

// NormalizedOperation is the uniform view of one LogEntry, derived fresh on every analysis
type NormalizedOperation struct {
	Index         int      `json:"index" yaml:"index"`
	Namespace     string   `json:"namespace" yaml:"namespace"`
	Database      string   `json:"database" yaml:"database"`
	Collection    string   `json:"collection" yaml:"collection"`
	OperationKind string   `json:"operationKind" yaml:"operationKind"`
	DurationMs    float64  `json:"durationMs" yaml:"durationMs"`
	Filter        Document `json:"filter" yaml:"filter"`
	PlanSummary   string   `json:"planSummary,omitempty" yaml:"planSummary,omitempty"`
	DisplayText   string   `json:"displayText" yaml:"displayText"`
}

// IndexDefinition is a synthesized index for a set of filter fields
type IndexDefinition struct {
	Collection string   `json:"collection" yaml:"collection"`
	Fields     []string `json:"fields" yaml:"fields"`
	Keys       Document `json:"keys" yaml:"keys"`
	Definition string   `json:"definition" yaml:"definition"`
	Command    string   `json:"command" yaml:"command"`
}

// IndexSuggestion is a ranked missing-index candidate
type IndexSuggestion struct {
	Namespace           string           `json:"namespace" yaml:"namespace"`
	FilterFields        []string         `json:"filterFields" yaml:"filterFields"`
	Filter              Document         `json:"filter" yaml:"filter"`
	DurationMs          float64          `json:"durationMs" yaml:"durationMs"`
	DocsExamined        float64          `json:"docsExamined" yaml:"docsExamined"`
	NReturned           float64          `json:"nreturned" yaml:"nreturned"`
	ScanRatio           *float64         `json:"scanRatio" yaml:"scanRatio"`
	PlanSummary         string           `json:"planSummary" yaml:"planSummary"`
	RecommendationScore int              `json:"recommendationScore" yaml:"recommendationScore"`
	SuggestedIndex      *IndexDefinition `json:"suggestedIndexDefinition" yaml:"suggestedIndexDefinition"`
}

// NamespaceShare is a namespace's share of a pattern group
type NamespaceShare struct {
	Namespace  string `json:"namespace" yaml:"namespace"`
	Count      int    `json:"count" yaml:"count"`
	Percentage int    `json:"percentage" yaml:"percentage"`
}

// QueryPatternGroup aggregates operations sharing one filter fingerprint
type QueryPatternGroup struct {
	PatternKey         string                `json:"patternKey" yaml:"patternKey"`
	OccurrenceCount    int                   `json:"occurrenceCount" yaml:"occurrenceCount"`
	TotalDurationMs    float64               `json:"totalDurationMs" yaml:"totalDurationMs"`
	AvgDurationMs      float64               `json:"avgDurationMs" yaml:"avgDurationMs"`
	MaxDurationMs      float64               `json:"maxDurationMs" yaml:"maxDurationMs"`
	TopNamespaces      []NamespaceShare      `json:"topNamespaces" yaml:"topNamespaces"`
	QueryTypes         map[string]int        `json:"queryTypes" yaml:"queryTypes"`
	ExampleOperations  []NormalizedOperation `json:"exampleOperations" yaml:"exampleOperations"`
	UsesCollectionScan bool                  `json:"usesCollectionScan" yaml:"usesCollectionScan"`
}

// GroupStats holds count and timing for one collection or operation kind
type GroupStats struct {
	Name            string  `json:"name" yaml:"name"`
	Count           int     `json:"count" yaml:"count"`
	TotalDurationMs float64 `json:"totalDurationMs" yaml:"totalDurationMs"`
	AvgDurationMs   float64 `json:"avgDurationMs" yaml:"avgDurationMs"`
}

// Summary is the baseline statistics over a whole log
type Summary struct {
	TotalOperations int          `json:"totalOperations" yaml:"totalOperations"`
	TotalDurationMs float64      `json:"totalDurationMs" yaml:"totalDurationMs"`
	AvgDurationMs   float64      `json:"avgDurationMs" yaml:"avgDurationMs"`
	MaxDurationMs   float64      `json:"maxDurationMs" yaml:"maxDurationMs"`
	ByCollection    []GroupStats `json:"byCollection" yaml:"byCollection"`
	ByOperationKind []GroupStats `json:"byOperationKind" yaml:"byOperationKind"`
}

// AnalysisResult is the root output of one analysis pass
type AnalysisResult struct {
	Summary          `yaml:",inline"`
	IndexSuggestions []IndexSuggestion   `json:"indexSuggestions" yaml:"indexSuggestions"`
	PatternGroups    []QueryPatternGroup `json:"patternGroups" yaml:"patternGroups"`
}
