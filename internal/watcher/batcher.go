package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ggagosh/argus/pkg/models"
	"go.uber.org/zap"
)

const (
	// finalFlushTimeout bounds the flush performed after the batcher is stopped
	finalFlushTimeout = 10 * time.Second

	// maxPendingBatches caps how many batches worth of entries a source keeps
	// while the server is failing
	maxPendingBatches = 10
)

// Record is one converted log line and the source it is reported under
type Record struct {
	Source string
	Entry  models.LogEntry
}

// BatchSender delivers a batch to the server
type BatchSender interface {
	SendBatch(ctx context.Context, batch models.LogBatch) error
}

// Batcher accumulates records per source and sends them when a batch is
// full or the wait time elapses
type Batcher struct {
	maxSize int
	maxWait time.Duration
	logger  *zap.Logger
	sender  BatchSender

	records chan Record
	mu      sync.Mutex
	batches map[string][]models.LogEntry // source -> entries
}

// NewBatcher creates a new batcher
func NewBatcher(maxSize int, maxWait time.Duration, queueSize int, logger *zap.Logger, sender BatchSender) *Batcher {
	return &Batcher{
		maxSize: maxSize,
		maxWait: maxWait,
		logger:  logger,
		sender:  sender,
		records: make(chan Record, queueSize),
		batches: make(map[string][]models.LogEntry),
	}
}

// Records returns the channel the watcher writes to
func (b *Batcher) Records() chan<- Record {
	return b.records
}

// Start batches records until ctx is done, then flushes what is left
func (b *Batcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(b.maxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := b.flush(flushCtx); err != nil {
				b.logger.Error("Failed to flush final batch", zap.Error(err))
			}
			cancel()
			return ctx.Err()

		case rec := <-b.records:
			full := b.add(rec)

			if full {
				if err := b.flushSource(ctx, rec.Source); err != nil {
					b.logger.Error("Failed to flush batch", zap.Error(err), zap.String("source", rec.Source))
				}
				ticker.Reset(b.maxWait)
			}

		case <-ticker.C:
			if err := b.flush(ctx); err != nil {
				b.logger.Error("Failed to flush batch on timer", zap.Error(err))
			}
		}
	}
}

func (b *Batcher) add(rec Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches[rec.Source] = append(b.batches[rec.Source], rec.Entry)
	return len(b.batches[rec.Source]) >= b.maxSize
}

// drain moves records still queued in the channel into the pending batches
func (b *Batcher) drain() {
	for {
		select {
		case rec := <-b.records:
			b.add(rec)
		default:
			return
		}
	}
}

// flush sends every pending batch, in source order
func (b *Batcher) flush(ctx context.Context) error {
	b.mu.Lock()
	sources := make([]string, 0, len(b.batches))
	for source := range b.batches {
		sources = append(sources, source)
	}
	b.mu.Unlock()
	sort.Strings(sources)

	var firstErr error
	for _, source := range sources {
		if err := b.flushSource(ctx, source); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushSource sends the pending batch of one source. A batch that fails to
// send goes back in front of the pending entries and is sent again with the
// next flush.
func (b *Batcher) flushSource(ctx context.Context, source string) error {
	b.mu.Lock()
	pending := b.batches[source]
	if len(pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := models.LogBatch{
		Source:  source,
		Entries: make([]models.LogEntry, len(pending)),
	}
	copy(batch.Entries, pending)
	b.batches[source] = nil
	b.mu.Unlock()

	b.logger.Debug("Flushing batch",
		zap.Int("size", len(batch.Entries)),
		zap.String("source", source))

	if err := b.sender.SendBatch(ctx, batch); err != nil {
		b.logger.Error("Failed to send batch",
			zap.Error(err),
			zap.Int("size", len(batch.Entries)),
			zap.String("source", source))
		b.requeue(source, batch.Entries)
		return err
	}

	b.logger.Info("Batch sent successfully",
		zap.Int("size", len(batch.Entries)),
		zap.String("source", source))
	return nil
}

// requeue puts a failed batch back ahead of the entries that arrived while it
// was in flight, dropping the oldest entries beyond the pending limit
func (b *Batcher) requeue(source string, failed []models.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := append(failed, b.batches[source]...)
	limit := b.maxSize * maxPendingBatches
	if dropped := len(pending) - limit; dropped > 0 {
		b.logger.Warn("Pending entries over limit, dropping oldest",
			zap.String("source", source),
			zap.Int("dropped", dropped),
			zap.Int("limit", limit))
		pending = pending[dropped:]
	}
	b.batches[source] = pending
}
