package reasoning

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tradeloop/internal/config"
)

func TestParseIntent(t *testing.T) {
	cases := []struct {
		name string
		text string
		bias string
		conf float64
	}{
		{"plain", `{"bias":"long","confidence":0.72,"reasoning":"trend"}`, BiasLong, 0.72},
		{"wrapped", "Here you go:\n```json\n{\"bias\": \"SELL\", \"confidence\": 81, \"reasoning\": \"x\"}\n```", BiasShort, 0.81},
		{"string confidence", `{"bias":"buy","confidence":"0.6"}`, BiasLong, 0.6},
		{"clamped", `{"bias":"hold","confidence":-3}`, BiasHold, 0},
		{"over hundred", `{"bias":"neutral","confidence":250}`, BiasNeutral, 1},
		{"action alias", `{"action":"close","confidence":0.9} trailing text {"bias":"long"}`, BiasClose, 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseIntent(tc.text)
			if err != nil {
				t.Fatalf("ParseIntent: %v", err)
			}
			if got.Bias != tc.bias || got.Confidence != tc.conf {
				t.Fatalf("got=%+v want bias=%s conf=%v", got, tc.bias, tc.conf)
			}
		})
	}
	for _, bad := range []string{"no json here", `{"bias":"moon"}`, `{"bias":`} {
		if _, err := ParseIntent(bad); err == nil {
			t.Fatalf("ParseIntent(%q) expected error", bad)
		}
	}
}

func TestParseIntentLeverage(t *testing.T) {
	got, err := ParseIntent(`{"bias":"short","confidence":0.7,"reasoning":"r","leverage":2.5}`)
	if err != nil {
		t.Fatalf("ParseIntent: %v", err)
	}
	if got.Leverage == nil || *got.Leverage != 2.5 {
		t.Fatalf("leverage=%v", got.Leverage)
	}
}

type scripted struct {
	calls int32
	errs  []error
	text  string
}

func (s *scripted) Complete(context.Context, string, string, string) (string, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if int(n) <= len(s.errs) {
		return "", s.errs[n-1]
	}
	return s.text, nil
}

func testClient(backend Completer, retries int) *Client {
	c := New(config.ReasoningConfig{
		DefaultProvider: "test",
		MaxRetries:      retries,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		Providers:       map[string]config.ProviderConfig{"test": {Kind: KindOpenAI, APIKey: "k"}},
	}, nil)
	c.NewBackend = func(string, config.ProviderConfig, string) (Completer, error) { return backend, nil }
	return c
}

func TestDecideRetriesRetryableErrors(t *testing.T) {
	backend := &scripted{
		errs: []error{
			&ProviderError{Provider: "test", StatusCode: 429, Retryable: true},
			&ProviderError{Provider: "test", StatusCode: 529, Retryable: true},
		},
		text: `{"bias":"long","confidence":0.8,"reasoning":"breakout"}`,
	}
	var retries int32
	c := testClient(backend, 3)
	c.OnRetry = func(string, error) { atomic.AddInt32(&retries, 1) }

	resp, err := c.Decide(context.Background(), Request{Model: "m", System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Intent.Bias != BiasLong || resp.Attempts != 3 || retries != 2 {
		t.Fatalf("resp=%+v retries=%d", resp, retries)
	}
}

func TestDecideStopsOnPermanentError(t *testing.T) {
	backend := &scripted{errs: []error{&ProviderError{Provider: "test", StatusCode: 401}}}
	_, err := testClient(backend, 3).Decide(context.Background(), Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 401 {
		t.Fatalf("err=%v want ProviderError 401", err)
	}
	if backend.calls != 1 {
		t.Fatalf("calls=%d want=1", backend.calls)
	}
}

func TestDecideGivesUpAfterMaxRetries(t *testing.T) {
	overloaded := &ProviderError{Provider: "test", StatusCode: 503, Retryable: true}
	backend := &scripted{errs: []error{overloaded, overloaded, overloaded, overloaded}}
	_, err := testClient(backend, 2).Decide(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if backend.calls != 3 {
		t.Fatalf("calls=%d want=3", backend.calls)
	}
}

func TestDecideUnknownProvider(t *testing.T) {
	c := New(config.ReasoningConfig{Providers: map[string]config.ProviderConfig{"nokey": {Kind: KindOpenAI}}}, nil)
	if _, err := c.Decide(context.Background(), Request{Provider: "missing"}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err=%v want ErrNoProvider", err)
	}
	if _, err := c.Decide(context.Background(), Request{Provider: "nokey"}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err=%v want ErrNoProvider", err)
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504, 529} {
		if !RetryableStatus(code) {
			t.Fatalf("%d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 404, 500} {
		if RetryableStatus(code) {
			t.Fatalf("%d should not be retryable", code)
		}
	}
}

func TestOpenAIBackendOverHTTP(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"bias\":\"short\",\"confidence\":0.7,\"reasoning\":\"overbought\"}"}}]}`))
	}))
	defer srv.Close()

	c := New(config.ReasoningConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Providers:      map[string]config.ProviderConfig{"deepseek": {Kind: KindOpenAI, BaseURL: srv.URL + "/v1", APIKey: "k"}},
	}, nil)
	resp, err := c.Decide(context.Background(), Request{Provider: "deepseek", Model: "deepseek-chat", System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Intent.Bias != BiasShort || resp.Attempts != 2 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestAnthropicBackendOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[{"type":"text","text":"{\"bias\":\"hold\",\"confidence\":0.4,\"reasoning\":\"chop\"}"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := New(config.ReasoningConfig{
		Providers: map[string]config.ProviderConfig{"anthropic": {Kind: KindAnthropic, BaseURL: srv.URL, APIKey: "k"}},
	}, nil)
	resp, err := c.Decide(context.Background(), Request{Provider: "anthropic", Model: "claude", System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Intent.Bias != BiasHold || resp.Intent.Confidence != 0.4 {
		t.Fatalf("intent=%+v", resp.Intent)
	}
}

func TestSystemPromptAppendsContract(t *testing.T) {
	got := SystemPrompt("  Trade BTC momentum. ")
	if !strings.HasPrefix(got, "Trade BTC momentum.") || !strings.HasSuffix(got, ResponseContract) {
		t.Fatalf("prompt=%q", got)
	}
}
