package analyzer

import (
	"regexp"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Operation kinds produced by OperationKind
const (
	KindQuery     = "query"
	KindFind      = "find"
	KindAggregate = "aggregate"
	KindUnknown   = "unknown"
)

var shellIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NormalizeFilter derives the effective filter of an entry from whichever
// encoding is present: the legacy query, a find command's filter, or the
// merged $match stages of an aggregation. On key conflicts between $match
// stages the later stage wins. Missing or malformed structures yield an
// empty filter. The result never aliases the entry.
func NormalizeFilter(entry models.LogEntry) bson.D {
	if q, ok := entry.Query(); ok {
		return models.CloneValue(q).(bson.D)
	}

	cmd := entry.Command()
	if v, ok := cmd.Get("filter"); ok {
		if filter, ok := models.AsDocument(v); ok {
			return models.CloneValue(filter).(bson.D)
		}
	}

	if merged, ok := mergedMatch(cmd); ok {
		return merged
	}
	return bson.D{}
}

// OperationKind classifies an entry: query and find stay as they are,
// aggregate commands become "aggregate", a command wrapping find becomes
// "find", anything else keeps its raw op (or "unknown").
func OperationKind(entry models.LogEntry) string {
	op := entry.Op()
	switch op {
	case KindQuery, KindFind:
		return op
	case "command":
		cmd := entry.Command()
		if isAggregation(cmd) {
			return KindAggregate
		}
		if v, _ := cmd.Get("find"); models.Truthy(v) {
			return KindFind
		}
	}
	if op == "" {
		return KindUnknown
	}
	return op
}

// Normalize builds the NormalizedOperation for the entry at position index
func Normalize(index int, entry models.LogEntry) models.NormalizedOperation {
	ns := entry.Namespace()
	db, coll := models.SplitNamespace(ns)
	kind := OperationKind(entry)
	filter := NormalizeFilter(entry)

	return models.NormalizedOperation{
		Index:         index,
		Namespace:     ns,
		Database:      db,
		Collection:    coll,
		OperationKind: kind,
		DurationMs:    entry.Millis(),
		Filter:        models.Document(filter),
		PlanSummary:   entry.PlanSummary(),
		DisplayText:   displayText(entry, kind, coll, filter),
	}
}

// NormalizeAll normalizes every entry of a log
func NormalizeAll(entries []models.LogEntry) []models.NormalizedOperation {
	ops := make([]models.NormalizedOperation, len(entries))
	for i, entry := range entries {
		ops[i] = Normalize(i, entry)
	}
	return ops
}

func isAggregation(cmd models.Document) bool {
	agg, _ := cmd.Get("aggregate")
	if !models.Truthy(agg) {
		return false
	}
	_, ok := pipeline(cmd)
	return ok
}

func pipeline(cmd models.Document) (bson.A, bool) {
	v, ok := cmd.Get("pipeline")
	if !ok {
		return nil, false
	}
	stages, ok := v.(bson.A)
	return stages, ok
}

// mergedMatch shallow-merges the bodies of all $match stages, last write wins.
func mergedMatch(cmd models.Document) (bson.D, bool) {
	if !isAggregation(cmd) {
		return nil, false
	}
	stages, _ := pipeline(cmd)

	merged := models.Document{}
	found := false
	for _, stage := range stages {
		doc, ok := models.AsDocument(stage)
		if !ok {
			continue
		}
		v, ok := models.Document(doc).Get("$match")
		if !ok {
			continue
		}
		body, ok := models.AsDocument(v)
		if !ok {
			continue
		}
		found = true
		for _, e := range body {
			merged = merged.Set(e.Key, models.CloneValue(e.Value))
		}
	}
	return bson.D(merged), found
}

// stageNames lists the first key of every pipeline stage
func stageNames(cmd models.Document) []string {
	stages, _ := pipeline(cmd)
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		doc, ok := models.AsDocument(stage)
		if !ok || len(doc) == 0 {
			names = append(names, "unknown")
			continue
		}
		names = append(names, doc[0].Key)
	}
	return names
}

func displayText(entry models.LogEntry, kind, collection string, filter bson.D) string {
	switch kind {
	case KindQuery, KindFind:
		return shellCollection(collection) + ".find(" + models.RenderJSON(filter) + ")"
	case KindAggregate:
		stages, _ := pipeline(entry.Command())
		return shellCollection(collection) + ".aggregate(" + models.RenderJSON(stages) + ")"
	}
	if ns := entry.Namespace(); ns != "" {
		return kind + " " + ns
	}
	return kind
}

func shellCollection(collection string) string {
	if collection == "" {
		collection = "collection"
	}
	if shellIdentifier.MatchString(collection) {
		return "db." + collection
	}
	return "db.getCollection(" + quote(collection) + ")"
}
