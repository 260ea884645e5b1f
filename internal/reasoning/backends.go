package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
)

type openAIBackend struct {
	name      string
	client    openai.Client
	maxTokens int64
}

// newOpenAIBackend serves OpenAI and every OpenAI-compatible endpoint
// (deepseek, openrouter, xai, qwen).
func newOpenAIBackend(name, baseURL, apiKey string, maxTokens int64) *openAIBackend {
	opts := []oaoption.RequestOption{
		oaoption.WithAPIKey(apiKey),
		oaoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(withSlash(baseURL)))
	}
	return &openAIBackend{name: name, client: openai.NewClient(opts...), maxTokens: maxTokens}
}

func (b *openAIBackend) Complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens: openai.Int(b.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: b.name, StatusCode: apiErr.StatusCode, Retryable: RetryableStatus(apiErr.StatusCode), Err: err}
		}
		return "", &ProviderError{Provider: b.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: b.name, Err: fmt.Errorf("empty choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicBackend struct {
	name      string
	client    anthropic.Client
	maxTokens int64
}

func newAnthropicBackend(name, baseURL, apiKey string, maxTokens int64) *anthropicBackend {
	opts := []antoption.RequestOption{
		antoption.WithAPIKey(apiKey),
		antoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, antoption.WithBaseURL(withSlash(baseURL)))
	}
	return &anthropicBackend{name: name, client: anthropic.NewClient(opts...), maxTokens: maxTokens}
}

func (b *anthropicBackend) Complete(ctx context.Context, model, system, user string) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: b.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: b.name, StatusCode: apiErr.StatusCode, Retryable: RetryableStatus(apiErr.StatusCode), Err: err}
		}
		return "", &ProviderError{Provider: b.name, Err: err}
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: b.name, Err: fmt.Errorf("no text content")}
	}
	return sb.String(), nil
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
