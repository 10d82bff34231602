package analyzer

import (
	"testing"

	"github.com/ggagosh/argus/pkg/models"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func doc(t *testing.T, text string) bson.D {
	t.Helper()
	v, err := models.DecodeOrdered([]byte(text))
	require.NoError(t, err)
	d, ok := v.(bson.D)
	require.True(t, ok, "expected an object: %s", text)
	return d
}

func entry(t *testing.T, text string) models.LogEntry {
	t.Helper()
	return models.NewLogEntry(doc(t, text))
}

func entries(t *testing.T, texts ...string) []models.LogEntry {
	t.Helper()
	out := make([]models.LogEntry, len(texts))
	for i, text := range texts {
		out[i] = entry(t, text)
	}
	return out
}
