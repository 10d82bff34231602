package ingest

import (
	"strings"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

const slowQueryMessage = "Slow query"

// counters copied as-is from a slow query's attr to the profiler entry
var slowQueryCounters = []string{"planSummary", "keysExamined", "docsExamined", "nreturned", "nMatched", "nModified", "numYields"}

// FromMongodLine converts one line of a mongod 4.4+ structured log into
// profiler shape. Only "Slow query" messages convert; other well-formed
// lines return ok=false. A "db.$cmd" namespace resolves to the command's
// target collection.
func FromMongodLine(line []byte) (models.LogEntry, bool, error) {
	raw, err := ParseLine(line)
	if err != nil {
		return models.LogEntry{}, false, err
	}
	if raw.String("msg") != slowQueryMessage {
		return models.LogEntry{}, false, nil
	}
	attr, ok := raw.Doc("attr")
	if !ok {
		return models.LogEntry{}, false, nil
	}
	cmd, _ := attr.Doc("command")

	op := attr.String("type")
	if op == "" {
		op = "command"
	}

	out := models.Document{{Key: "op", Value: op}}
	if ns := attr.String("ns"); ns != "" {
		out = append(out, bson.E{Key: "ns", Value: resolveNamespace(ns, cmd)})
	}
	if v, ok := attr.Get("durationMillis"); ok {
		out = append(out, bson.E{Key: "millis", Value: v})
	}
	if v, ok := raw.Get("t"); ok {
		out = append(out, bson.E{Key: "ts", Value: v})
	}
	if cmd != nil {
		out = append(out, bson.E{Key: "command", Value: bson.D(cmd)})
	}
	for _, key := range slowQueryCounters {
		if v, ok := attr.Get(key); ok {
			out = append(out, bson.E{Key: key, Value: v})
		}
	}
	if app := attr.String("appName"); app != "" {
		out = append(out, bson.E{Key: "appName", Value: app})
	}
	return models.LogEntry{Document: out}, true, nil
}

// resolveNamespace maps "db.$cmd" to "db.<target>" where the target is the
// string value of the command's first key, e.g. {aggregate: "orders"}.
func resolveNamespace(ns string, cmd models.Document) string {
	db, coll := models.SplitNamespace(ns)
	if coll != "$cmd" || len(cmd) == 0 {
		return ns
	}
	target, ok := cmd[0].Value.(string)
	if !ok || target == "" || strings.HasPrefix(cmd[0].Key, "$") {
		return ns
	}
	return db + "." + target
}
