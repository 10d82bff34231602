package ingest

import (
	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultMaxInArrayLength is the default cap for $in, $nin and $all arrays
const DefaultMaxInArrayLength = 10

var (
	arrayOperators = map[string]bool{"$in": true, "$nin": true, "$all": true}
	logicalKeys    = map[string]bool{"$and": true, "$or": true, "$nor": true}
)

// TruncateLargeArrays returns a copy of entries where every $in, $nin and
// $all array found in query, command.filter or a pipeline $match body is
// cut to limit elements. It also returns the longest such array seen before
// cutting. A limit of zero or less only measures. The input is not modified.
func TruncateLargeArrays(entries []models.LogEntry, limit int) ([]models.LogEntry, int) {
	out := make([]models.LogEntry, len(entries))
	longest := 0
	for i, entry := range entries {
		e := entry.Clone()
		for _, body := range filterBodies(e) {
			if n := truncateDoc(body, limit); n > longest {
				longest = n
			}
		}
		out[i] = e
	}
	return out, longest
}

func filterBodies(e models.LogEntry) []bson.D {
	var bodies []bson.D
	cmd := e.Command()

	if v, ok := cmd.Get("pipeline"); ok {
		if stages, ok := v.(bson.A); ok {
			for _, stage := range stages {
				if doc, ok := models.AsDocument(stage); ok {
					if match, ok := models.Document(doc).Doc("$match"); ok {
						bodies = append(bodies, bson.D(match))
					}
				}
			}
		}
	}
	if q, ok := e.Query(); ok {
		bodies = append(bodies, q)
	}
	if filter, ok := cmd.Doc("filter"); ok {
		bodies = append(bodies, bson.D(filter))
	}
	return bodies
}

// truncateDoc cuts arrays in place; callers pass a private copy.
func truncateDoc(doc bson.D, limit int) int {
	longest := 0
	for i, e := range doc {
		var n int
		arr, isArray := e.Value.(bson.A)
		switch {
		case logicalKeys[e.Key] && isArray:
			for _, cond := range arr {
				n = max(n, truncateValue(cond, limit))
			}
		case arrayOperators[e.Key] && isArray:
			n = len(arr)
			if limit > 0 && len(arr) > limit {
				doc[i].Value = append(bson.A(nil), arr[:limit]...)
			}
		default:
			n = truncateValue(e.Value, limit)
		}
		longest = max(longest, n)
	}
	return longest
}

func truncateValue(v interface{}, limit int) int {
	if doc, ok := models.AsDocument(v); ok {
		return truncateDoc(doc, limit)
	}
	longest := 0
	if arr, ok := v.(bson.A); ok {
		for _, item := range arr {
			longest = max(longest, truncateValue(item, limit))
		}
	}
	return longest
}
