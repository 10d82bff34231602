package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrDisabled is returned when commentary is requested without a configured API key
var ErrDisabled = errors.New("AI commentary is disabled: no API key configured")

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 60 * time.Second
)

// Commentator streams commentary for one operation. onChunk receives the
// raw response text piece by piece; returning an error from it aborts
// the stream.
type Commentator interface {
	Enabled() bool
	Stream(ctx context.Context, op OperationPayload, onChunk func(string) error) error
}

// GeminiConfig configures the Gemini commentator
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiCommentator asks Gemini for JSON matching the Commentary schema
type GeminiCommentator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiCommentator creates a commentator. Without an API key it is
// returned disabled rather than failing, since commentary is optional.
func NewGeminiCommentator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiCommentator, error) {
	c := &GeminiCommentator{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		logger.Info("AI commentary disabled: no API key")
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.client = client
	logger.Info("AI commentary enabled", zap.String("model", c.model))
	return c, nil
}

// Enabled reports whether an API key was configured
func (c *GeminiCommentator) Enabled() bool {
	return c.client != nil
}

// Stream sends the prompt and forwards every text chunk of the response
func (c *GeminiCommentator) Stream(ctx context.Context, op OperationPayload, onChunk func(string) error) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	prompt, err := BuildPrompt(op)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	start := time.Now()
	chunks := 0
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		if err := onChunk(text); err != nil {
			return err
		}
	}

	c.logger.Debug("Commentary streamed",
		zap.String("namespace", op.Namespace),
		zap.Int("chunks", chunks),
		zap.Duration("duration", time.Since(start)))
	return nil
}
