package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggagosh/argus/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu      sync.Mutex
	batches []models.LogBatch
	err     error
}

func (f *fakeSender) SendBatch(ctx context.Context, batch models.LogBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return f.err
}

func (f *fakeSender) sent() []models.LogBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LogBatch(nil), f.batches...)
}

func record(source string, millis int64) Record {
	return Record{Source: source, Entry: models.NewLogEntry(bson.D{{Key: "op", Value: "query"}, {Key: "millis", Value: millis}})}
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	sender := &fakeSender{}
	b := NewBatcher(2, time.Hour, 10, zap.NewNop(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	b.Records() <- record("db-1", 1)
	b.Records() <- record("db-1", 2)

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, 5*time.Millisecond)
	batch := sender.sent()[0]
	assert.Equal(t, "db-1", batch.Source)
	require.Len(t, batch.Entries, 2)
	assert.Equal(t, 2.0, batch.Entries[1].Millis())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBatcher_FlushesOnTimerPerSource(t *testing.T) {
	sender := &fakeSender{}
	b := NewBatcher(100, 20*time.Millisecond, 10, zap.NewNop(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Start(ctx) }()

	b.Records() <- record("b", 1)
	b.Records() <- record("a", 2)

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
	sent := sender.sent()
	assert.Equal(t, "a", sent[0].Source)
	assert.Equal(t, "b", sent[1].Source)
}

func TestBatcher_FlushesRemainderOnStop(t *testing.T) {
	sender := &fakeSender{}
	b := NewBatcher(100, time.Hour, 10, zap.NewNop(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	b.Records() <- record("db-1", 1)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.batches["db-1"]) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Len(t, sender.sent(), 1)
	assert.Len(t, sender.sent()[0].Entries, 1)
}

func TestBatcher_DrainsQueueOnStop(t *testing.T) {
	sender := &fakeSender{}
	b := NewBatcher(100, time.Hour, 10, zap.NewNop(), sender)

	for i := int64(1); i <= 3; i++ {
		b.Records() <- record("db-1", i)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Start(ctx), context.Canceled)

	sent := sender.sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Entries, 3)
	assert.Equal(t, 3.0, sent[0].Entries[2].Millis())
}

func TestBatcher_RetainsFailedBatch(t *testing.T) {
	sender := &fakeSender{err: errors.New("down")}
	b := NewBatcher(2, time.Hour, 10, zap.NewNop(), sender)

	b.batches["s"] = []models.LogEntry{record("s", 1).Entry, record("s", 2).Entry}
	err := b.flushSource(context.Background(), "s")
	assert.EqualError(t, err, "down")
	require.Len(t, b.batches["s"], 2)

	b.add(record("s", 3))
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	require.NoError(t, b.flushSource(context.Background(), "s"))

	sent := sender.sent()
	require.Len(t, sent, 2)
	require.Len(t, sent[1].Entries, 3)
	assert.Equal(t, 1.0, sent[1].Entries[0].Millis())
	assert.Equal(t, 3.0, sent[1].Entries[2].Millis())
	assert.Empty(t, b.batches["s"])
}

func TestBatcher_RetainedEntriesAreCapped(t *testing.T) {
	sender := &fakeSender{err: errors.New("down")}
	b := NewBatcher(1, time.Hour, 10, zap.NewNop(), sender)

	for i := int64(1); i <= maxPendingBatches+5; i++ {
		b.add(record("s", i))
	}
	assert.Error(t, b.flushSource(context.Background(), "s"))

	pending := b.batches["s"]
	require.Len(t, pending, maxPendingBatches)
	assert.Equal(t, 6.0, pending[0].Millis())
	assert.Equal(t, float64(maxPendingBatches+5), pending[len(pending)-1].Millis())
}
