package analyzer

import (
	"testing"

	"github.com/ggagosh/argus/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Equal(t, 0, s.TotalOperations)
	assert.Equal(t, 0.0, s.TotalDurationMs)
	assert.Equal(t, 0.0, s.AvgDurationMs)
	assert.Equal(t, 0.0, s.MaxDurationMs)
	assert.NotNil(t, s.ByCollection)
	assert.Empty(t, s.ByCollection)
	assert.NotNil(t, s.ByOperationKind)
	assert.Empty(t, s.ByOperationKind)
}

func TestSummarize(t *testing.T) {
	s := Summarize(entries(t,
		`{"op":"query","ns":"db.a","millis":10}`,
		`{"op":"query","ns":"db.a","millis":20}`,
		`{"op":"query","ns":"db.b","millis":5}`,
		`{"op":"update","ns":"db.c","millis":100}`,
		`{"op":"update","ns":"db.c","millis":-3}`,
		`{"millis":"fast"}`,
	))

	assert.Equal(t, 6, s.TotalOperations)
	assert.Equal(t, 135.0, s.TotalDurationMs)
	assert.Equal(t, 22.5, s.AvgDurationMs)
	assert.Equal(t, 100.0, s.MaxDurationMs)

	assert.Equal(t, []models.GroupStats{
		{Name: "db.c", Count: 2, TotalDurationMs: 100, AvgDurationMs: 50},
		{Name: "db.a", Count: 2, TotalDurationMs: 30, AvgDurationMs: 15},
		{Name: "db.b", Count: 1, TotalDurationMs: 5, AvgDurationMs: 5},
		{Name: "unknown", Count: 1, TotalDurationMs: 0, AvgDurationMs: 0},
	}, s.ByCollection)

	assert.Equal(t, []models.GroupStats{
		{Name: "query", Count: 3, TotalDurationMs: 35, AvgDurationMs: 11.67},
		{Name: "update", Count: 2, TotalDurationMs: 100, AvgDurationMs: 50},
		{Name: "unknown", Count: 1, TotalDurationMs: 0, AvgDurationMs: 0},
	}, s.ByOperationKind)
}

func TestAverage(t *testing.T) {
	assert.Equal(t, 0.0, average(10, 0))
	assert.Equal(t, 3.33, average(10, 3))
	assert.Equal(t, 2.5, average(5, 2))
}
