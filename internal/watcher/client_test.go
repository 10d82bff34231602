package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggagosh/argus/pkg/models"
	"github.com/ggagosh/argus/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func testClient(url string) *Client {
	c := NewClient(url+"/", nil, time.Second, 2, zap.NewNop())
	c.retryConfig = retry.Config{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2}
	return c
}

func testBatch() models.LogBatch {
	return models.LogBatch{
		Source:  "db-1",
		Entries: []models.LogEntry{models.NewLogEntry(bson.D{{Key: "op", Value: "query"}, {Key: "ns", Value: "a.b"}})},
	}
}

func TestClient_SendBatch(t *testing.T) {
	var got models.LogBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, IngestPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).SendBatch(context.Background(), testBatch()))
	assert.Equal(t, "db-1", got.Source)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "a.b", got.Entries[0].Namespace())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).SendBatch(context.Background(), testBatch()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"Invalid batch"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	err := c.SendBatch(context.Background(), testBatch())

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "Invalid batch")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, c.circuitBreaker.failures)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.circuitBreaker = NewCircuitBreaker(2, time.Minute)

	for i := 0; i < 2; i++ {
		assert.EqualError(t, c.SendBatch(context.Background(), testBatch()), "server error: 500")
	}
	assert.ErrorIs(t, c.SendBatch(context.Background(), testBatch()), ErrCircuitOpen)
}

func TestCircuitBreaker_ResetsAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.recordFailure()
	assert.True(t, cb.isOpen())

	time.Sleep(15 * time.Millisecond)
	assert.False(t, cb.isOpen())

	cb.recordFailure()
	cb.recordSuccess()
	assert.False(t, cb.isOpen())
}
