package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNormalizeFilter(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		expected bson.D
	}{
		{
			name:     "legacy query",
			entry:    `{"op":"query","query":{"status":"A"}}`,
			expected: bson.D{{Key: "status", Value: "A"}},
		},
		{
			name:     "query wins over command filter",
			entry:    `{"op":"query","query":{"a":1},"command":{"filter":{"b":2}}}`,
			expected: bson.D{{Key: "a", Value: int64(1)}},
		},
		{
			name:     "command filter",
			entry:    `{"op":"command","command":{"find":"users","filter":{"age":{"$gt":21}}}}`,
			expected: bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: int64(21)}}}},
		},
		{
			name:     "aggregation merges match stages",
			entry:    `{"op":"command","command":{"aggregate":"c","pipeline":[{"$match":{"x":1}},{"$project":{"x":1}},{"$match":{"y":2}}]}}`,
			expected: bson.D{{Key: "x", Value: int64(1)}, {Key: "y", Value: int64(2)}},
		},
		{
			name:     "later match stage wins",
			entry:    `{"op":"command","command":{"aggregate":"c","pipeline":[{"$match":{"x":1,"y":1}},{"$match":{"x":3}}]}}`,
			expected: bson.D{{Key: "x", Value: int64(3)}, {Key: "y", Value: int64(1)}},
		},
		{
			name:     "aggregation without match",
			entry:    `{"op":"command","command":{"aggregate":"c","pipeline":[{"$group":{"_id":"$a"}}]}}`,
			expected: bson.D{},
		},
		{
			name:     "pipeline not an array",
			entry:    `{"op":"command","command":{"aggregate":"c","pipeline":{"$match":{"x":1}}}}`,
			expected: bson.D{},
		},
		{
			name:     "malformed query",
			entry:    `{"op":"query","query":"status=A"}`,
			expected: bson.D{},
		},
		{
			name:     "nothing present",
			entry:    `{"op":"insert","ns":"db.c"}`,
			expected: bson.D{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeFilter(entry(t, tt.entry)))
		})
	}
}

func TestNormalizeFilter_DoesNotAliasEntry(t *testing.T) {
	e := entry(t, `{"op":"query","query":{"status":{"$in":["A","B"]}}}`)
	original := e.Clone()

	filter := NormalizeFilter(e)
	filter[0].Value.(bson.D)[0].Value.(bson.A)[0] = "changed"
	filter[0].Key = "other"

	assert.Equal(t, original, e)
}

func TestOperationKind(t *testing.T) {
	tests := []struct {
		entry    string
		expected string
	}{
		{`{"op":"query"}`, KindQuery},
		{`{"op":"find"}`, KindFind},
		{`{"op":"command","command":{"aggregate":"c","pipeline":[]}}`, KindAggregate},
		{`{"op":"command","command":{"aggregate":"c"}}`, "command"},
		{`{"op":"command","command":{"find":"users","filter":{}}}`, KindFind},
		{`{"op":"update"}`, "update"},
		{`{}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			assert.Equal(t, tt.expected, OperationKind(entry(t, tt.entry)))
		})
	}
}

func TestNormalize(t *testing.T) {
	op := Normalize(4, entry(t, `{"op":"query","ns":"shop.users","millis":12,"planSummary":"COLLSCAN","query":{"status":"A"}}`))

	assert.Equal(t, 4, op.Index)
	assert.Equal(t, "shop.users", op.Namespace)
	assert.Equal(t, "shop", op.Database)
	assert.Equal(t, "users", op.Collection)
	assert.Equal(t, KindQuery, op.OperationKind)
	assert.Equal(t, 12.0, op.DurationMs)
	assert.Equal(t, "COLLSCAN", op.PlanSummary)

	require.True(t, strings.HasPrefix(op.DisplayText, "db.users.find("))
	require.True(t, strings.HasSuffix(op.DisplayText, ")"))
	assert.JSONEq(t, `{"status":"A"}`, strings.TrimSuffix(strings.TrimPrefix(op.DisplayText, "db.users.find("), ")"))
}

func TestNormalize_DisplayText(t *testing.T) {
	tests := []struct {
		name   string
		entry  string
		prefix string
	}{
		{"aggregate", `{"op":"command","ns":"shop.orders","command":{"aggregate":"orders","pipeline":[{"$match":{"a":1}}]}}`, "db.orders.aggregate(["},
		{"odd collection name", `{"op":"find","ns":"shop.my-orders","query":{}}`, `db.getCollection("my-orders").find(`},
		{"missing namespace", `{"op":"find","query":{}}`, "db.collection.find("},
		{"other operation", `{"op":"insert","ns":"shop.orders"}`, "insert shop.orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Normalize(0, entry(t, tt.entry))
			assert.True(t, strings.HasPrefix(op.DisplayText, tt.prefix), op.DisplayText)
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	ops := NormalizeAll(entries(t, `{"op":"query","ns":"a.b"}`, `{"op":"update","ns":"a.c"}`))
	require.Len(t, ops, 2)
	assert.Equal(t, 0, ops[0].Index)
	assert.Equal(t, 1, ops[1].Index)
	assert.Equal(t, "c", ops[1].Collection)
}
