// Package provider adapts OpenAI-compatible chat-completion endpoints to
// domain.Provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

const (
	DefaultAPIBase = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// ErrMalformedResponse is returned when the endpoint answers without a
// usable choice.
var ErrMalformedResponse = errors.New("provider returned no choices")

// APIError is a non-2xx answer from the endpoint.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %d: %s", e.StatusCode, e.Detail)
}

// OpenAI implements domain.Provider on top of the official SDK. Any
// endpoint speaking the chat completions API works.
type OpenAI struct {
	client openai.Client
	name   string
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	Name       string // label used in logs; defaults to "openai"
	APIKey     string
	APIBase    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.APIBase, "/")),
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		name:   cfg.Name,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

// Healthy lists models, which checks both reachability and the key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		if apiErr := asAPIError(err); apiErr != nil {
			return fmt.Errorf("%s: %w", o.name, apiErr)
		}
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	return nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toParams(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	metrics.LLMRequests.Inc()
	start := time.Now()
	completion, err := o.client.Chat.Completions.New(ctx, params)
	elapsed := time.Since(start)
	metrics.LLMLatency.Observe(elapsed.Seconds())
	if err != nil {
		metrics.LLMErrors.Inc()
		if apiErr := asAPIError(err); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	if len(completion.Choices) == 0 {
		metrics.LLMErrors.Inc()
		return nil, ErrMalformedResponse
	}

	choice := completion.Choices[0]
	o.logger.Debug("chat completion",
		"provider", o.name,
		"model", model,
		"finish_reason", choice.FinishReason,
		"total_tokens", completion.Usage.TotalTokens,
		"latency_ms", elapsed.Milliseconds(),
	)
	return &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		LatencyMs:    elapsed.Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}, nil
}

func toParams(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if m.Parts == nil {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch p.Kind {
				case domain.PartText:
					parts = append(parts, openai.TextContentPart(p.Text))
				case domain.PartImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: p.ImageURL,
					}))
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func asAPIError(err error) *APIError {
	var oaiErr *openai.Error
	if !errors.As(err, &oaiErr) {
		return nil
	}
	detail := strings.TrimSpace(oaiErr.Message)
	if detail == "" {
		detail = http.StatusText(oaiErr.StatusCode)
	}
	return &APIError{StatusCode: oaiErr.StatusCode, Detail: detail}
}
