package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

func TestDecodeOrdered(t *testing.T) {
	v, err := DecodeOrdered([]byte(`{"z":1,"a":{"y":2.5,"b":[true,null,"s"]},"m":1e3}`))
	require.NoError(t, err)

	assert.Equal(t, bson.D{
		{Key: "z", Value: int64(1)},
		{Key: "a", Value: bson.D{
			{Key: "y", Value: 2.5},
			{Key: "b", Value: bson.A{true, nil, "s"}},
		}},
		{Key: "m", Value: 1000.0},
	}, v)
}

func TestDecodeOrdered_DuplicateKeys(t *testing.T) {
	v, err := DecodeOrdered([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "a", Value: int64(3)}, {Key: "b", Value: int64(2)}}, v)
}

func TestDecodeOrdered_Errors(t *testing.T) {
	tests := []string{
		`{"a":`,
		`{"a":1} {"b":2}`,
		`{"a" 1}`,
		``,
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := DecodeOrdered([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestDocument_JSONRoundTripKeepsOrder(t *testing.T) {
	var d Document
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"x","mid":{"q":true,"b":false}}`), &d))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, d.Keys())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":"x","mid":{"q":true,"b":false}}`, string(out))
	assert.Less(t, strings.Index(string(out), "zeta"), strings.Index(string(out), "alpha"))
}

func TestDocument_UnmarshalRejectsNonObject(t *testing.T) {
	var d Document
	assert.ErrorIs(t, json.Unmarshal([]byte(`[1,2]`), &d), ErrNotDocument)
}

func TestDocument_MarshalNil(t *testing.T) {
	out, err := json.Marshal(struct {
		Filter Document `json:"filter"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"filter":{}}`, string(out))
}

func TestDocument_MarshalYAML(t *testing.T) {
	d := Document{{Key: "b", Value: int64(1)}, {Key: "a", Value: bson.A{"x", 2.5}}, {Key: "n", Value: nil}}
	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "b: 1\na:\n    - x\n    - 2.5\nn: null\n", string(out))
}

func TestDocument_SetAndClone(t *testing.T) {
	d := Document{{Key: "a", Value: int64(1)}}
	d = d.Set("b", int64(2))
	d = d.Set("a", int64(3))
	assert.Equal(t, Document{{Key: "a", Value: int64(3)}, {Key: "b", Value: int64(2)}}, d)

	nested := Document{{Key: "sub", Value: bson.D{{Key: "x", Value: bson.A{int64(1)}}}}}
	clone := nested.Clone()
	clone[0].Value.(bson.D)[0].Value.(bson.A)[0] = int64(9)
	assert.Equal(t, int64(1), nested[0].Value.(bson.D)[0].Value.(bson.A)[0])
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(int64(0)))
	assert.True(t, Truthy("orders"))
	assert.True(t, Truthy(int64(1)))
	assert.True(t, Truthy(bson.A{}))
}

func TestRenderJSON(t *testing.T) {
	assert.Equal(t, `"a<b"`, RenderJSON("a<b"))
	assert.Equal(t, `[1,"x"]`, RenderJSON(bson.A{int64(1), "x"}))
	assert.JSONEq(t, `{"a":[1,{"b":null}]}`, RenderJSON(bson.D{{Key: "a", Value: bson.A{int64(1), bson.D{{Key: "b", Value: nil}}}}}))
}

func TestLogEntry_Accessors(t *testing.T) {
	var d Document
	require.NoError(t, json.Unmarshal([]byte(`{
		"op":"query","ns":"shop.orders.archive","millis":12.5,"docsExamined":-4,
		"nreturned":"many","keysExamined":3,"planSummary":"IXSCAN { a: 1 }",
		"query":{"a":1},"command":{"find":"orders"}
	}`), &d))
	e := LogEntry{Document: d}

	assert.Equal(t, "query", e.Op())
	assert.Equal(t, "shop.orders.archive", e.Namespace())
	assert.Equal(t, 12.5, e.Millis())
	assert.Equal(t, 0.0, e.DocsExamined())
	assert.Equal(t, 0.0, e.NReturned())
	assert.Equal(t, 3.0, e.KeysExamined())
	assert.False(t, e.UsesCollectionScan())
	assert.True(t, e.HasProfilerFields())

	q, ok := e.Query()
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "a", Value: int64(1)}}, q)
	assert.Equal(t, "orders", e.Command().String("find"))

	db, coll := SplitNamespace(e.Namespace())
	assert.Equal(t, "shop", db)
	assert.Equal(t, "orders.archive", coll)
}

func TestLogEntry_Timestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"iso string", `{"ts":"2024-03-01T12:00:00Z"}`, true},
		{"date string", `{"ts":{"$date":"2024-03-01T12:00:00Z"}}`, true},
		{"date millis", `{"ts":{"$date":1709294400000}}`, true},
		{"garbage", `{"ts":"yesterday"}`, false},
		{"missing", `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Document
			require.NoError(t, json.Unmarshal([]byte(tt.input), &d))
			ts, ok := LogEntry{Document: d}.Timestamp()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(ts), ts.String())
			}
		})
	}
}

func TestLogEntry_JSON(t *testing.T) {
	var batch LogBatch
	require.NoError(t, json.Unmarshal([]byte(`{"source":"primary","entries":[{"op":"query","ns":"a.b"}]}`), &batch))
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, "primary", batch.Source)
	assert.Equal(t, "a.b", batch.Entries[0].Namespace())
}
