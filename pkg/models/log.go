package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// LogEntry is one profiled operation as exported from system.profile.
// The record is loosely shaped; accessors coerce missing or mistyped
// fields to zero values instead of failing.
type LogEntry struct {
	Document
}

// NewLogEntry wraps a decoded object
func NewLogEntry(doc bson.D) LogEntry {
	return LogEntry{Document: Document(doc)}
}

// Op returns the raw operation kind (query, find, update, command, ...)
func (e LogEntry) Op() string {
	return e.String("op")
}

// Namespace returns the "database.collection" namespace
func (e LogEntry) Namespace() string {
	return e.String("ns")
}

// Millis returns the operation duration; absent or negative values count as 0.
func (e LogEntry) Millis() float64 {
	return e.counter("millis")
}

// DocsExamined returns the number of documents scanned
func (e LogEntry) DocsExamined() float64 {
	return e.counter("docsExamined")
}

// NReturned returns the number of documents returned
func (e LogEntry) NReturned() float64 {
	return e.counter("nreturned")
}

// KeysExamined returns the number of index keys scanned
func (e LogEntry) KeysExamined() float64 {
	return e.counter("keysExamined")
}

// PlanSummary returns the execution plan text, e.g. "COLLSCAN" or "IXSCAN { a: 1 }"
func (e LogEntry) PlanSummary() string {
	return e.String("planSummary")
}

// UsesCollectionScan reports whether the plan summary mentions COLLSCAN
func (e LogEntry) UsesCollectionScan() bool {
	return strings.Contains(e.PlanSummary(), "COLLSCAN")
}

// Query returns the legacy query filter
func (e LogEntry) Query() (bson.D, bool) {
	v, ok := e.Get("query")
	if !ok {
		return nil, false
	}
	return AsDocument(v)
}

// Command returns the command document, or nil
func (e LogEntry) Command() Document {
	cmd, _ := e.Doc("command")
	return cmd
}

// Timestamp parses ts given either as an ISO string or as {"$date": string|number}.
func (e LogEntry) Timestamp() (time.Time, bool) {
	v, ok := e.Get("ts")
	if !ok {
		return time.Time{}, false
	}
	if doc, ok := AsDocument(v); ok {
		v, _ = Document(doc).Get("$date")
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		if ms, ok := ToFloat(t); ok {
			return time.UnixMilli(int64(ms)).UTC(), true
		}
	}
	return time.Time{}, false
}

// HasProfilerFields reports whether the entry carries op, ns or millis
func (e LogEntry) HasProfilerFields() bool {
	for _, key := range []string{"millis", "op", "ns"} {
		if _, ok := e.Get(key); ok {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (e LogEntry) Clone() LogEntry {
	return LogEntry{Document: e.Document.Clone()}
}

func (e LogEntry) counter(key string) float64 {
	v, _ := e.Get(key)
	f, ok := ToFloat(v)
	if !ok || f < 0 {
		return 0
	}
	return f
}

// SplitNamespace splits "db.collection" at the first dot. Collection names may contain dots.
func SplitNamespace(ns string) (database, collection string) {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i], ns[i+1:]
	}
	return ns, ""
}

// LogBatch carries profiler entries shipped by a watcher
type LogBatch struct {
	Source  string     `json:"source"`
	Entries []LogEntry `json:"entries"`
}

// FileState tracks the reading position of a watched file
type FileState struct {
	Offset   int64     `json:"offset"`
	Lines    int64     `json:"lines"`
	LastRead time.Time `json:"last_read"`
}
