// Package watcher tails profiler and mongod log files and ships the
// converted operations to the argus server in batches.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ggagosh/argus/internal/config"
	"github.com/ggagosh/argus/internal/ingest"
	"github.com/ggagosh/argus/pkg/models"
	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

const (
	stateSaveInterval = 10 * time.Second
	sendTimeout       = 5 * time.Second
)

// File is one log file to follow
type File struct {
	Path   string
	Format string // config.FormatProfile or config.FormatMongod
	Source string
}

// Watcher tails log files and sends converted records to a channel
type Watcher struct {
	files     []File
	stateFile string
	logger    *zap.Logger
	records   chan<- Record
	state     map[string]*models.FileState
	stateMu   sync.RWMutex
}

// NewWatcher creates a new log file watcher
func NewWatcher(files []File, stateFile string, logger *zap.Logger, records chan<- Record) *Watcher {
	return &Watcher{
		files:     files,
		stateFile: stateFile,
		logger:    logger,
		records:   records,
		state:     make(map[string]*models.FileState),
	}
}

// Start tails all files until ctx is done. Offsets are saved periodically
// and once more on exit.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.loadState(); err != nil {
		w.logger.Warn("Failed to load state, starting fresh", zap.Error(err))
	}

	go w.stateSaver(ctx)

	var wg sync.WaitGroup
	for _, f := range w.files {
		wg.Add(1)
		go func(f File) {
			defer wg.Done()
			if err := w.tailFile(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Error tailing file", zap.String("file", f.Path), zap.Error(err))
			}
		}(f)
	}
	wg.Wait()

	if err := w.saveState(); err != nil {
		w.logger.Error("Failed to save final state", zap.Error(err))
	}
	return nil
}

func (w *Watcher) tailFile(ctx context.Context, f File) error {
	w.logger.Info("Starting to tail file",
		zap.String("file", f.Path),
		zap.String("format", f.Format))

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	}

	var lines int64
	w.stateMu.RLock()
	if state, exists := w.state[f.Path]; exists {
		cfg.Location = &tail.SeekInfo{Offset: state.Offset, Whence: io.SeekStart}
		lines = state.Lines
		w.logger.Info("Resuming from saved position",
			zap.String("file", f.Path),
			zap.Int64("offset", state.Offset))
	}
	w.stateMu.RUnlock()

	t, err := tail.TailFile(f.Path, cfg)
	if err != nil {
		return fmt.Errorf("failed to tail file %s: %w", f.Path, err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping tail of file", zap.String("file", f.Path))
			return ctx.Err()

		case line, ok := <-t.Lines:
			if !ok {
				w.logger.Warn("Tail channel closed", zap.String("file", f.Path))
				return t.Err()
			}
			if line.Err != nil {
				w.logger.Error("Error reading line", zap.String("file", f.Path), zap.Error(line.Err))
				continue
			}
			lines++

			entry, ok, err := convertLine(f.Format, line.Text)
			switch {
			case err != nil:
				w.logger.Warn("Skipping unparseable line",
					zap.String("file", f.Path),
					zap.Int64("line_number", lines),
					zap.Error(err))
			case ok:
				if err := w.enqueue(ctx, Record{Source: f.Source, Entry: entry}, f.Path, lines); err != nil {
					return err
				}
			}

			// the offset only moves past lines that reached the batcher
			if offset, err := t.Tell(); err == nil {
				w.updateState(f.Path, offset, lines)
			}
		}
	}
}

// enqueue blocks until the batcher accepts rec or ctx is done. A full queue
// holds the tail back rather than dropping lines.
func (w *Watcher) enqueue(ctx context.Context, rec Record, path string, line int64) error {
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	for {
		select {
		case w.records <- rec:
			return nil
		case <-timer.C:
			w.logger.Warn("Batcher queue is full, waiting",
				zap.String("file", path),
				zap.Int64("line_number", line))
			timer.Reset(sendTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// convertLine turns one log line into a profiler entry. ok is false for
// blank lines and mongod lines that are not slow-query reports.
func convertLine(format, text string) (models.LogEntry, bool, error) {
	if strings.TrimSpace(text) == "" {
		return models.LogEntry{}, false, nil
	}
	switch format {
	case config.FormatMongod:
		return ingest.FromMongodLine([]byte(text))
	default:
		entry, err := ingest.ParseLine([]byte(text))
		if err != nil {
			return models.LogEntry{}, false, err
		}
		return entry, true, nil
	}
}

func (w *Watcher) updateState(path string, offset, lines int64) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	w.state[path] = &models.FileState{
		Offset:   offset,
		Lines:    lines,
		LastRead: time.Now(),
	}
}

func (w *Watcher) stateSaver(ctx context.Context) {
	ticker := time.NewTicker(stateSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.saveState(); err != nil {
				w.logger.Error("Failed to save state", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) saveState() error {
	w.stateMu.RLock()
	data, err := json.MarshalIndent(w.state, "", "  ")
	w.stateMu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(w.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	w.logger.Debug("State saved", zap.String("state_file", w.stateFile))
	return nil
}

func (w *Watcher) loadState() error {
	data, err := os.ReadFile(w.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if err := json.Unmarshal(data, &w.state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	w.logger.Info("State loaded", zap.String("state_file", w.stateFile), zap.Int("files", len(w.state)))
	return nil
}
