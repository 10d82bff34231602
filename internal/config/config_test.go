package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddress)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Ingest.MaxInArrayLength)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.Empty(t, cfg.AI.APIKey)
	assert.False(t, cfg.MTLS.Enabled)
}

func TestLoadServerConfig_FileAndEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "secret")
	path := writeConfig(t, `
server:
  listen_address: 127.0.0.1:9000
storage:
  driver: mongodb
  mongodb:
    uri: mongodb://localhost:27017
    ttl_days: 1
ingest:
  max_in_array_length: 3
log_format: console
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddress)
	assert.Equal(t, StorageMongoDB, cfg.Storage.Driver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, "snapshots", cfg.Storage.MongoDB.Collection)
	assert.Equal(t, 1, cfg.Storage.MongoDB.TTLDays)
	assert.Equal(t, 3, cfg.Ingest.MaxInArrayLength)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"mongodb without uri", "storage:\n  driver: mongodb\n", "storage.mongodb.uri is required"},
		{"unknown driver", "storage:\n  driver: redis\n", "unknown storage.driver"},
		{"negative array limit", "ingest:\n  max_in_array_length: -1\n", "must not be negative"},
		{"mtls without certs", "mtls:\n  enabled: true\n", "mTLS certificates are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadServerConfig_MissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadWatcherConfig(t *testing.T) {
	path := writeConfig(t, `
source_name: db-1
server:
  url: http://localhost:8080
log_files:
  - path: /var/log/mongodb/profile.ndjson
    enabled: true
  - path: /var/log/mongodb/mongod.log
    enabled: true
    format: mongod
`)

	cfg, err := LoadWatcherConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "db-1", cfg.SourceName)
	assert.Equal(t, 100, cfg.Batching.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Batching.MaxWait)
	require.Len(t, cfg.LogFiles, 2)
	assert.Equal(t, FormatProfile, cfg.LogFiles[0].Format)
	assert.Equal(t, FormatMongod, cfg.LogFiles[1].Format)
}

func TestLoadWatcherConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"no server", "log_files:\n  - path: a.log\n", "server.url is required"},
		{"no files", "server:\n  url: http://x\n", "at least one log file"},
		{"no path", "server:\n  url: http://x\nlog_files:\n  - enabled: true\n", "path is required"},
		{"bad format", "server:\n  url: http://x\nlog_files:\n  - path: a.log\n    format: csv\n", "unknown format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWatcherConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadServerConfig_NestedEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("STORAGE_DRIVER", "mongodb")
	t.Setenv("STORAGE_MONGODB_URI", "mongodb://db.internal:27017")
	t.Setenv("STORAGE_MONGODB_TTL_DAYS", "3")
	t.Setenv("SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, StorageMongoDB, cfg.Storage.Driver)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, 3, cfg.Storage.MongoDB.TTLDays)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddress)
}

func TestLoadWatcherConfig_NestedEnv(t *testing.T) {
	t.Setenv("SERVER_URL", "https://argus.internal:8443")
	t.Setenv("BATCHING_MAX_SIZE", "25")
	path := writeConfig(t, "log_files:\n  - path: /var/log/mongodb/profile.ndjson\n    enabled: true\n")

	cfg, err := LoadWatcherConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://argus.internal:8443", cfg.Server.URL)
	assert.Equal(t, 25, cfg.Batching.MaxSize)
}
