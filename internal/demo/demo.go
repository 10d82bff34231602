// Package demo provides a small bookstore profiler export for trying out
// the analyzer without a database.
package demo

import (
	_ "embed"

	"github.com/ggagosh/argus/internal/ingest"
	"github.com/ggagosh/argus/pkg/models"
)

//go:embed sample.json
var sample []byte

// Entries parses the embedded dataset. Each call returns fresh entries.
func Entries() ([]models.LogEntry, error) {
	return ingest.ParseBytes(sample)
}
