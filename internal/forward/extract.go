package forward

import (
	"context"
	"log/slog"
	"strings"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

// MaxDepth is the deepest nesting level that still contributes content.
const MaxDepth = 10

// Resolver resolves a nested container reference.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error)

func (fn ResolverFunc) Resolve(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
	return fn(ctx, ref)
}

// ExtractorConfig holds the dependencies of an Extractor.
type ExtractorConfig struct {
	Resolver Resolver // nested container lookups, usually Fetcher.WithBudget(NestedBudget)
	MaxDepth int      // defaults to MaxDepth
	Logger   *slog.Logger
}

// Extractor flattens transcript entries into content items.
type Extractor struct {
	resolver Resolver
	maxDepth int
	logger   *slog.Logger
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = MaxDepth
	}
	return &Extractor{
		resolver: cfg.Resolver,
		maxDepth: cfg.MaxDepth,
		logger:   cfg.Logger,
	}
}

// Extract walks entries in order and returns their text and image items.
// Nested forward references are resolved and spliced in place. Past the
// maximum depth the result is empty; a nested container that cannot be
// resolved is skipped.
func (e *Extractor) Extract(ctx context.Context, entries []domain.TranscriptEntry, depth int) []domain.ContentItem {
	if depth > e.maxDepth {
		return nil
	}

	var out []domain.ContentItem
	for _, entry := range entries {
		for _, seg := range entry.Content {
			switch {
			case seg.Kind == domain.KindText:
				if strings.TrimSpace(seg.Text) == "" {
					continue
				}
				out = append(out, domain.Text(seg.Text))

			case seg.Kind == domain.KindImage:
				if url, ok := seg.Image.Resolve(); ok {
					out = append(out, domain.ImageRef(url))
				}

			case seg.Kind.IsForwardCandidate():
				out = append(out, e.nested(ctx, seg, depth)...)
			}
		}
	}
	return out
}

func (e *Extractor) nested(ctx context.Context, seg domain.Segment, depth int) []domain.ContentItem {
	ref, ok := Identify(seg)
	if !ok {
		return nil
	}
	if depth+1 > e.maxDepth {
		// The nested call would return nothing; skip the fetch.
		e.logger.Debug("nested forward beyond max depth", "ref", ref, "depth", depth+1)
		return nil
	}
	if e.resolver == nil {
		return nil
	}

	container, err := e.resolver.Resolve(ctx, ref)
	if err != nil {
		metrics.NestedSkipped.Inc()
		e.logger.Error("skipping nested forward", "ref", ref, "depth", depth+1, "err", err)
		return nil
	}
	if container == nil {
		return nil
	}
	return e.Extract(ctx, container.Entries, depth+1)
}
