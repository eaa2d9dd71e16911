package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

// Budget bounds the attempts made to resolve one container.
type Budget struct {
	Attempts  int
	BaseDelay time.Duration
}

var (
	// TopLevelBudget applies to the container the user replied to.
	TopLevelBudget = Budget{Attempts: 3, BaseDelay: time.Second}
	// NestedBudget applies to containers found while flattening. It is
	// cheaper so latency stays bounded under deep nesting.
	NestedBudget = Budget{Attempts: 2, BaseDelay: 500 * time.Millisecond}
)

// ErrEmptyContainer marks a response that came back without any entries.
var ErrEmptyContainer = errors.New("forward container has no messages")

// FetchError is returned once every attempt to resolve a container failed.
type FetchError struct {
	Ref      domain.ContainerRef
	Attempts int
	Err      error // last error seen
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("resolve forward %s: failed after %d attempts: %v", e.Ref, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ContainerSource is the single external call the fetcher wraps.
type ContainerSource interface {
	GetForward(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error)
}

// Fetcher resolves containers with bounded retries and linear backoff.
type Fetcher struct {
	source ContainerSource
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewFetcher(source ContainerSource, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Fetch calls the source up to b.Attempts times. Retry i (1-based) waits
// i*b.BaseDelay first. Only a container with at least one entry counts as
// success.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.ContainerRef, b Budget) (*domain.ForwardContainer, error) {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * b.BaseDelay
			f.logger.Debug("retrying forward fetch", "ref", ref, "attempt", attempt+1, "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, &FetchError{Ref: ref, Attempts: attempt, Err: err}
			}
		}

		metrics.FetchAttempts.Inc()
		container, err := f.source.GetForward(ctx, ref)
		if err != nil {
			lastErr = err
			f.logger.Warn("forward fetch failed", "ref", ref, "attempt", attempt+1, "err", err)
			if strings.Contains(err.Error(), "coreInfo") {
				f.logger.Error("coreInfo error from host runtime; this usually happens after a long uptime, restart the bot or retry later")
			}
			continue
		}
		if container == nil || len(container.Entries) == 0 {
			// An earlier host error wins over an empty result.
			if lastErr == nil {
				lastErr = ErrEmptyContainer
			}
			f.logger.Warn("forward fetch returned no messages", "ref", ref, "attempt", attempt+1)
			continue
		}

		if container.Ref == "" {
			container.Ref = ref
		}
		f.logger.Debug("forward fetched", "ref", ref, "attempt", attempt+1, "entries", len(container.Entries))
		return container, nil
	}

	metrics.FetchFailures.Inc()
	return nil, &FetchError{Ref: ref, Attempts: attempts, Err: lastErr}
}

// WithBudget binds a budget, producing a Resolver for the extractor.
func (f *Fetcher) WithBudget(b Budget) Resolver {
	return ResolverFunc(func(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
		return f.Fetch(ctx, ref, b)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
