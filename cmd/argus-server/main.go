package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggagosh/argus/internal/ai"
	"github.com/ggagosh/argus/internal/config"
	"github.com/ggagosh/argus/internal/demo"
	"github.com/ggagosh/argus/internal/logging"
	"github.com/ggagosh/argus/internal/server"
	"github.com/ggagosh/argus/pkg/mtls"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting argus-server",
		zap.String("listen", cfg.Server.ListenAddress),
		zap.String("storage", cfg.Storage.Driver))

	store, err := newStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to create storage", zap.Error(err))
	}

	commentator, err := ai.NewGeminiCommentator(context.Background(), ai.GeminiConfig{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create AI commentator", zap.Error(err))
	}

	handler := server.NewHandler(server.Options{
		Store:            store,
		Commentator:      commentator,
		Demo:             demo.Entries,
		MaxInArrayLength: cfg.Ingest.MaxInArrayLength,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		Logger:           logger,
	})
	requireClientCert := cfg.MTLS.Enabled && cfg.MTLS.ClientAuth == mtls.ClientAuthRequire

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      server.NewRouter(handler, logger, requireClientCert),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.MTLS.Enabled {
		tlsConfig, err := mtls.LoadServerTLSConfig(
			cfg.MTLS.CACert,
			cfg.MTLS.ServerCert,
			cfg.MTLS.ServerKey,
			cfg.MTLS.ClientAuth,
		)
		if err != nil {
			logger.Fatal("Failed to load TLS config", zap.Error(err))
		}
		httpServer.TLSConfig = tlsConfig
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting",
			zap.String("addr", cfg.Server.ListenAddress),
			zap.Bool("tls", cfg.MTLS.Enabled),
			zap.Bool("ai_enabled", commentator.Enabled()))

		if cfg.MTLS.Enabled {
			serverErrors <- httpServer.ListenAndServeTLS("", "") // certs come from TLSConfig
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("Server error", zap.Error(err))

	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
			httpServer.Close()
		}
		if err := store.Close(ctx); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}

		logger.Info("Server stopped gracefully")
	}
}

func newStore(cfg config.StorageConfig, logger *zap.Logger) (server.SnapshotStore, error) {
	if cfg.Driver != config.StorageMongoDB {
		return server.NewMemoryStore(), nil
	}
	return server.NewMongoStore(server.MongoStoreConfig{
		URI:                cfg.MongoDB.URI,
		Database:           cfg.MongoDB.Database,
		Collection:         cfg.MongoDB.Collection,
		CertificateKeyFile: cfg.MongoDB.CertificateKeyFile,
		MaxPoolSize:        cfg.MongoDB.MaxPoolSize,
		TTLDays:            cfg.MongoDB.TTLDays,
	}, logger)
}
