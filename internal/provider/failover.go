package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatsum/internal/domain"
)

// FailoverProvider asks each endpoint in turn until one answers. Built when
// llm.fallbacks is configured.
type FailoverProvider struct {
	chain  []domain.Provider
	logger *slog.Logger
}

// NewFailoverProvider builds a chain; the first provider is the primary.
func NewFailoverProvider(chain []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{chain: chain, logger: logger}
}

func (f *FailoverProvider) Name() string {
	var b strings.Builder
	b.WriteString("failover(")
	for i, p := range f.chain {
		if i > 0 {
			b.WriteString("→")
		}
		b.WriteString(p.Name())
	}
	b.WriteString(")")
	return b.String()
}

// Healthy succeeds as soon as one endpoint in the chain is reachable.
func (f *FailoverProvider) Healthy(ctx context.Context) error {
	errs := make([]error, 0, len(f.chain))
	for _, p := range f.chain {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy endpoint: %w", errors.Join(errs...))
}

// Chat returns the first successful response. The model in req only
// applies to the primary; fallbacks use their own. Cancellation ends the
// chain early. The final error wraps the last endpoint's error so
// *APIError stays matchable.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(f.chain) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range f.chain {
		attempt := req
		if i > 0 {
			attempt.Model = ""
		}
		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			if i > 0 {
				f.logger.Info("answered by fallback endpoint", "endpoint", p.Name(), "position", i)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.logger.Warn("endpoint failed", "endpoint", p.Name(), "position", i, "err", err)
	}
	return nil, fmt.Errorf("all %d endpoints failed: %w", len(f.chain), lastErr)
}
