package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers
const (
	StorageMemory  = "memory"
	StorageMongoDB = "mongodb"
)

// HTTPServerConfig holds HTTP server settings
type HTTPServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI                string `mapstructure:"uri"`
	Database           string `mapstructure:"database"`
	Collection         string `mapstructure:"collection"`
	CertificateKeyFile string `mapstructure:"certificate_key_file"`
	MaxPoolSize        int    `mapstructure:"max_pool_size"`
	TTLDays            int    `mapstructure:"ttl_days"`
}

// StorageConfig selects where the current snapshot lives
type StorageConfig struct {
	Driver  string        `mapstructure:"driver"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
}

// AIConfig holds the commentary model settings. An empty APIKey disables commentary.
type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IngestConfig holds upload preprocessing settings
type IngestConfig struct {
	MaxInArrayLength int `mapstructure:"max_in_array_length"`
}

// ServerMTLSConfig holds mTLS configuration for the server
type ServerMTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ServerCert string `mapstructure:"server_cert"`
	ServerKey  string `mapstructure:"server_key"`
	ClientAuth string `mapstructure:"client_auth"` // require, request, or none
}

// ServerConfig represents the complete server configuration
type ServerConfig struct {
	Server    HTTPServerConfig `mapstructure:"server"`
	Storage   StorageConfig    `mapstructure:"storage"`
	AI        AIConfig         `mapstructure:"ai"`
	Ingest    IngestConfig     `mapstructure:"ingest"`
	MTLS      ServerMTLSConfig `mapstructure:"mtls"`
	LogLevel  string           `mapstructure:"log_level"`
	LogFormat string           `mapstructure:"log_format"`
}

// LoadServerConfig loads the server configuration from a file. An empty
// path uses defaults and the environment only.
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	// storage.mongodb.uri is read from STORAGE_MONGODB_URI
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ai.api_key", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.mongodb.uri", "")
	v.SetDefault("storage.mongodb.certificate_key_file", "")
	v.SetDefault("storage.mongodb.database", "argus")
	v.SetDefault("storage.mongodb.collection", "snapshots")
	v.SetDefault("storage.mongodb.max_pool_size", 10)
	v.SetDefault("storage.mongodb.ttl_days", 7)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ingest.max_in_array_length", 10)
	v.SetDefault("mtls.enabled", false)
	v.SetDefault("mtls.ca_cert", "")
	v.SetDefault("mtls.server_cert", "")
	v.SetDefault("mtls.server_key", "")
	v.SetDefault("mtls.client_auth", "require")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch config.Storage.Driver {
	case StorageMemory:
	case StorageMongoDB:
		if config.Storage.MongoDB.URI == "" {
			return nil, fmt.Errorf("storage.mongodb.uri is required for the mongodb driver")
		}
	default:
		return nil, fmt.Errorf("unknown storage.driver %q", config.Storage.Driver)
	}
	if config.Ingest.MaxInArrayLength < 0 {
		return nil, fmt.Errorf("ingest.max_in_array_length must not be negative")
	}
	if config.MTLS.Enabled {
		if config.MTLS.CACert == "" || config.MTLS.ServerCert == "" || config.MTLS.ServerKey == "" {
			return nil, fmt.Errorf("mTLS certificates are required when mTLS is enabled")
		}
	}

	return &config, nil
}

// loadDotEnv reads .env from the working directory when it exists. Variables
// already set in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}
