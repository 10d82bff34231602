package watcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggagosh/argus/pkg/models"
	"github.com/ggagosh/argus/pkg/retry"
	"go.uber.org/zap"
)

// IngestPath is the server endpoint batches are posted to
const IngestPath = "/v1/profile/ingest"

// ErrCircuitOpen is returned while the circuit breaker blocks requests
var ErrCircuitOpen = errors.New("circuit breaker is open, server may be down")

// Client sends batches to the server over HTTP
type Client struct {
	endpoint       string
	httpClient     *http.Client
	logger         *zap.Logger
	retryConfig    retry.Config
	circuitBreaker *CircuitBreaker
}

// CircuitBreaker stops sending after repeated failures until a cool-down passes
type CircuitBreaker struct {
	failures    int
	lastFailure time.Time
	threshold   int
	timeout     time.Duration
	mu          sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

func (cb *CircuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures >= cb.threshold && time.Since(cb.lastFailure) < cb.timeout {
		return true
	}
	if time.Since(cb.lastFailure) >= cb.timeout {
		cb.failures = 0
	}
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
}

// NewClient creates a client for the server at serverURL. tlsConfig may be nil.
func NewClient(serverURL string, tlsConfig *tls.Config, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxRetries = maxRetries

	return &Client{
		endpoint:       strings.TrimRight(serverURL, "/") + IngestPath,
		httpClient:     httpClient,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(5, 60*time.Second),
	}
}

// SendBatch posts a batch, retrying server errors with backoff. Client
// errors are not retried and do not trip the circuit breaker.
func (c *Client) SendBatch(ctx context.Context, batch models.LogBatch) error {
	if c.circuitBreaker.isOpen() {
		return ErrCircuitOpen
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.sendRequest(ctx, batch)
	})
	var rejected *RejectedError
	switch {
	case err == nil:
		c.circuitBreaker.recordSuccess()
	case errors.As(err, &rejected):
	default:
		c.circuitBreaker.recordFailure()
	}
	return err
}

// RejectedError reports a batch the server refused with a 4xx status
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected batch: %d %s", e.StatusCode, e.Body)
}

func (c *Client) sendRequest(ctx context.Context, batch models.LogBatch) error {
	jsonData, err := json.Marshal(batch)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Request failed", zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Client error, not retrying",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("batch_size", len(batch.Entries)))
		return retry.Permanent(&RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.logger.Debug("Batch delivered",
		zap.Int("status_code", resp.StatusCode),
		zap.Int("batch_size", len(batch.Entries)))
	return nil
}
