package analyzer

import (
	"sort"
	"strings"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	// SlowQueryThresholdMs marks an operation as slow
	SlowQueryThresholdMs = 100
	// HighScanRatio is the docsExamined/nreturned ratio above which an index is suspected missing
	HighScanRatio = 10

	maxIndexFields     = 3
	largeCollscanDocs  = 10000
	collscanScore      = 40
	largeCollscanScore = 30
)

// RecommendIndexes ranks query-shaped operations that look slow, scan far
// more documents than they return, or run a collection scan. The result is
// ordered by descending score; equal scores keep log order.
func RecommendIndexes(entries []models.LogEntry) []models.IndexSuggestion {
	suggestions := make([]models.IndexSuggestion, 0)
	for _, entry := range entries {
		if !qualifiesForIndex(entry) {
			continue
		}

		filter := NormalizeFilter(entry)
		fields := ExtractFields(filter)
		ratio := ScanRatio(entry)

		suggestions = append(suggestions, models.IndexSuggestion{
			Namespace:           entry.Namespace(),
			FilterFields:        fields,
			Filter:              models.Document(filter),
			DurationMs:          entry.Millis(),
			DocsExamined:        entry.DocsExamined(),
			NReturned:           entry.NReturned(),
			ScanRatio:           ratio,
			PlanSummary:         entry.PlanSummary(),
			RecommendationScore: RecommendationScore(entry, ratio),
			SuggestedIndex:      SuggestIndex(entry.Namespace(), fields),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].RecommendationScore > suggestions[j].RecommendationScore
	})
	return suggestions
}

// ScanRatio is docsExamined/nreturned, or nil when nothing was returned
func ScanRatio(entry models.LogEntry) *float64 {
	returned := entry.NReturned()
	if returned == 0 {
		return nil
	}
	ratio := entry.DocsExamined() / returned
	return &ratio
}

// RecommendationScore adds independent penalties for duration, scan ratio
// and collection scans. Thresholds are exclusive cut points.
func RecommendationScore(entry models.LogEntry, ratio *float64) int {
	score := 0

	switch millis := entry.Millis(); {
	case millis > 1000:
		score += 100
	case millis > 500:
		score += 50
	case millis > SlowQueryThresholdMs:
		score += 20
	}

	if ratio != nil {
		switch r := *ratio; {
		case r > 1000:
			score += 50
		case r > 100:
			score += 30
		case r > HighScanRatio:
			score += 10
		}
	}

	if entry.UsesCollectionScan() {
		score += collscanScore
		if entry.DocsExamined() > largeCollscanDocs {
			score += largeCollscanScore
		}
	}
	return score
}

// SuggestIndex builds an ascending index on the first three fields, or nil
// when the filter has no candidate fields.
func SuggestIndex(namespace string, fields []string) *models.IndexDefinition {
	if len(fields) == 0 {
		return nil
	}
	_, collection := models.SplitNamespace(namespace)
	if len(fields) > maxIndexFields {
		fields = fields[:maxIndexFields]
	}

	keys := make(bson.D, 0, len(fields))
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: int32(1)})
		pairs = append(pairs, quote(f)+": 1")
	}
	indexFields := append([]string(nil), fields...)

	return &models.IndexDefinition{
		Collection: collection,
		Fields:     indexFields,
		Keys:       models.Document(keys),
		Definition: "{ " + strings.Join(pairs, ", ") + " }",
		Command:    shellCollection(collection) + ".createIndex(" + models.RenderJSON(keys) + ")",
	}
}

func qualifiesForIndex(entry models.LogEntry) bool {
	switch OperationKind(entry) {
	case KindQuery, KindFind:
	case KindAggregate:
		if _, ok := mergedMatch(entry.Command()); !ok {
			return false
		}
	default:
		return false
	}

	if entry.Millis() > SlowQueryThresholdMs {
		return true
	}
	docs, returned := entry.DocsExamined(), entry.NReturned()
	if returned > 0 && docs > 0 && docs/returned > HighScanRatio {
		return true
	}
	return entry.UsesCollectionScan()
}
