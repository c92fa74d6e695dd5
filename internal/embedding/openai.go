package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/mattes337/logsink/internal/cache"
	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/embeddings"
	maxRetries      = 3
	cacheTTL        = 24 * time.Hour
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// OpenAIClient implements Client against any OpenAI-compatible embeddings
// endpoint, with retry, a circuit breaker, and a result cache keyed by the
// SHA-256 of the input text.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	cache    cache.Cache
	logger   observability.Logger
}

// NewOpenAIClient creates a client from configuration. The cache is
// optional.
func NewOpenAIClient(cfg config.EmbeddingConfig, resultCache cache.Cache, logger observability.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.client")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Embedding circuit breaker state change", map[string]any{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		http:     &http.Client{Timeout: timeout},
		breaker:  breaker,
		cache:    resultCache,
		logger:   logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Embed computes an embedding, consulting the cache first and retrying
// transient provider failures with exponential backoff.
func (c *OpenAIClient) Embed(ctx context.Context, text string) (models.Vector, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: embedding input is empty", models.ErrInvalidInput)
	}

	key := c.cacheKey(text)
	if c.cache != nil {
		var cached models.Vector
		if err := c.cache.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	var vector models.Vector
	operation := func() error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.callProvider(ctx, text)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: embedding provider circuit open", models.ErrUnavailable))
			}
			return err
		}
		vector = result.(models.Vector)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, vector, cacheTTL); err != nil {
			c.logger.Debug("Failed to cache embedding", map[string]any{"error": err.Error()})
		}
	}
	return vector, nil
}

func (c *OpenAIClient) callProvider(ctx context.Context, text string) (models.Vector, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding API returned no vectors")
	}
	return models.Vector(parsed.Data[0].Embedding), nil
}

func (c *OpenAIClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}
