package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Log line formats understood by the watcher
const (
	FormatProfile = "profile"
	FormatMongod  = "mongod"
)

// LogFileConfig represents a single log file to tail
type LogFileConfig struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"`
}

// UpstreamServerConfig holds server connection settings
type UpstreamServerConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// BatchingConfig holds batching configuration
type BatchingConfig struct {
	MaxSize   int           `mapstructure:"max_size"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
	QueueSize int           `mapstructure:"queue_size"`
}

// MTLSConfig holds client-side mTLS configuration
type MTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ClientCert string `mapstructure:"client_cert"`
	ClientKey  string `mapstructure:"client_key"`
	ServerName string `mapstructure:"server_name"`
}

// WatcherConfig represents the complete watcher configuration
type WatcherConfig struct {
	SourceName string               `mapstructure:"source_name"`
	LogFiles   []LogFileConfig      `mapstructure:"log_files"`
	Server     UpstreamServerConfig `mapstructure:"server"`
	Batching   BatchingConfig       `mapstructure:"batching"`
	MTLS       MTLSConfig           `mapstructure:"mtls"`
	StateFile  string               `mapstructure:"state_file"`
	LogLevel   string               `mapstructure:"log_level"`
	LogFormat  string               `mapstructure:"log_format"`
}

// LoadWatcherConfig loads the watcher configuration from a file
func LoadWatcherConfig(configPath string) (*WatcherConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("source_name", getHostname())
	v.SetDefault("server.url", "")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("server.max_retries", 5)
	v.SetDefault("batching.max_size", 100)
	v.SetDefault("batching.max_wait", "5s")
	v.SetDefault("batching.queue_size", 1000)
	v.SetDefault("mtls.enabled", false)
	v.SetDefault("mtls.ca_cert", "")
	v.SetDefault("mtls.client_cert", "")
	v.SetDefault("mtls.client_key", "")
	v.SetDefault("mtls.server_name", "")
	v.SetDefault("state_file", "/var/lib/argus/watcher-state.json")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config WatcherConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	if len(config.LogFiles) == 0 {
		return nil, fmt.Errorf("at least one log file must be configured")
	}
	for i := range config.LogFiles {
		f := &config.LogFiles[i]
		if f.Path == "" {
			return nil, fmt.Errorf("log_files[%d].path is required", i)
		}
		switch f.Format {
		case "":
			f.Format = FormatProfile
		case FormatProfile, FormatMongod:
		default:
			return nil, fmt.Errorf("log_files[%d]: unknown format %q", i, f.Format)
		}
	}
	if config.MTLS.Enabled {
		if config.MTLS.CACert == "" || config.MTLS.ClientCert == "" || config.MTLS.ClientKey == "" {
			return nil, fmt.Errorf("mTLS certificates are required when mTLS is enabled")
		}
	}

	return &config, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
