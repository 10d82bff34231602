package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggagosh/argus/internal/config"
	"github.com/ggagosh/argus/internal/logging"
	"github.com/ggagosh/argus/internal/watcher"
	"github.com/ggagosh/argus/pkg/mtls"
	"go.uber.org/zap"
)

const forcedShutdownAfter = 30 * time.Second

func main() {
	configPath := flag.String("config", "/etc/argus/watcher.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadWatcherConfig(*configPath)
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

	logger.Info("Starting argus-watcher",
		zap.String("source", cfg.SourceName),
		zap.Int("log_files", len(cfg.LogFiles)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		time.Sleep(forcedShutdownAfter)
		logger.Error("Forced shutdown after timeout")
		os.Exit(1)
	}()

	var tlsConfig *tls.Config
	if cfg.MTLS.Enabled {
		tlsConfig, err = mtls.LoadClientTLSConfig(
			cfg.MTLS.CACert,
			cfg.MTLS.ClientCert,
			cfg.MTLS.ClientKey,
			cfg.MTLS.ServerName,
		)
		if err != nil {
			logger.Fatal("Failed to load mTLS config", zap.Error(err))
		}
	}

	client := watcher.NewClient(
		cfg.Server.URL,
		tlsConfig,
		cfg.Server.Timeout,
		cfg.Server.MaxRetries,
		logger,
	)

	batcher := watcher.NewBatcher(
		cfg.Batching.MaxSize,
		cfg.Batching.MaxWait,
		cfg.Batching.QueueSize,
		logger,
		client,
	)

	var files []watcher.File
	for _, lf := range cfg.LogFiles {
		if lf.Enabled {
			files = append(files, watcher.File{Path: lf.Path, Format: lf.Format, Source: cfg.SourceName})
		}
	}
	if len(files) == 0 {
		logger.Fatal("No enabled log files configured")
	}

	w := watcher.NewWatcher(files, cfg.StateFile, logger, batcher.Records())

	batcherDone := make(chan struct{})
	go func() {
		defer close(batcherDone)
		if err := batcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Batcher failed", zap.Error(err))
		}
	}()

	// blocks until ctx is cancelled
	if err := w.Start(ctx); err != nil {
		logger.Error("Watcher failed", zap.Error(err))
		os.Exit(1)
	}
	<-batcherDone

	logger.Info("Watcher stopped gracefully")
}
