// Package reasoning obtains trading intents from hosted language models.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tradeloop/internal/config"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

var ErrNoProvider = errors.New("reasoning: provider not configured")

// ProviderError is any failure reported by a model provider. Retryable is
// set for rate limiting and overload statuses only.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("reasoning: %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("reasoning: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}

// Completer performs one model call and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

type Request struct {
	Provider string
	Model    string
	System   string
	User     string
}

type Response struct {
	Intent   Intent `json:"intent"`
	Raw      string `json:"raw"`
	Attempts int    `json:"attempts"`
}

type Client struct {
	Config config.ReasoningConfig
	Logger *zap.Logger
	// OnRetry is called before each retry.
	OnRetry func(provider string, err error)

	// NewBackend builds the SDK client for a provider; tests replace it.
	NewBackend func(name string, p config.ProviderConfig, apiKey string) (Completer, error)

	mu       sync.Mutex
	backends map[string]Completer
}

func New(cfg config.ReasoningConfig, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

// SystemPrompt appends the response contract to a strategy prompt.
func SystemPrompt(strategyPrompt string) string {
	p := strings.TrimSpace(strategyPrompt)
	if p == "" {
		return ResponseContract
	}
	return p + "\n\n" + ResponseContract
}

// Decide calls the provider with retry and parses the intent.
func (c *Client) Decide(ctx context.Context, req Request) (Response, error) {
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	if name == "" {
		name = c.Config.DefaultProvider
	}
	backend, err := c.backend(name)
	if err != nil {
		return Response{}, err
	}

	var (
		text     string
		attempts int
	)
	op := func() error {
		attempts++
		callCtx := ctx
		if c.Config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.Config.Timeout)
			defer cancel()
		}
		out, err := backend.Complete(callCtx, req.Model, req.System, req.User)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.Retryable {
				return err
			}
			return backoff.Permanent(err)
		}
		text = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if c.Logger != nil {
			c.Logger.Warn("reasoning: retrying",
				zap.String("provider", name),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
		if c.OnRetry != nil {
			c.OnRetry(name, err)
		}
	}
	if err := backoff.RetryNotify(op, c.policy(ctx), notify); err != nil {
		return Response{Attempts: attempts}, err
	}

	intent, err := ParseIntent(text)
	if err != nil {
		return Response{Raw: text, Attempts: attempts}, err
	}
	return Response{Intent: intent, Raw: text, Attempts: attempts}, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Config.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = c.Config.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = 20 * time.Second
	}
	b.MaxElapsedTime = 0
	retries := c.Config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (c *Client) backend(name string) (Completer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backends[name]; ok {
		return b, nil
	}
	p, ok := c.Config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	key := strings.TrimSpace(p.APIKey)
	if key == "" && p.APIKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %q has no api key", ErrNoProvider, name)
	}
	build := c.NewBackend
	if build == nil {
		build = c.defaultBackend
	}
	b, err := build(name, p, key)
	if err != nil {
		return nil, err
	}
	if c.backends == nil {
		c.backends = map[string]Completer{}
	}
	c.backends[name] = b
	return b, nil
}

func (c *Client) defaultBackend(name string, p config.ProviderConfig, apiKey string) (Completer, error) {
	maxTokens := int64(c.Config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	switch strings.ToLower(p.Kind) {
	case KindAnthropic:
		return newAnthropicBackend(name, p.BaseURL, apiKey, maxTokens), nil
	case KindOpenAI, "":
		return newOpenAIBackend(name, p.BaseURL, apiKey, maxTokens), nil
	}
	return nil, fmt.Errorf("reasoning: provider %q has unknown kind %q", name, p.Kind)
}
