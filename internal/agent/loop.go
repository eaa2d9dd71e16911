// Package agent turns inbound trigger messages into summarize and identify
// flows.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

const defaultConcurrency = 4

// HandlerFunc runs one command for one event.
type HandlerFunc func(ctx context.Context, ev *domain.MessageEvent) error

// LoopConfig holds all dependencies and tuning parameters of the loop.
type LoopConfig struct {
	Bus         domain.MessageBus
	Router      *Router
	Handlers    map[Command]HandlerFunc
	UserLimiter *UserLimiter // optional
	Concurrency int          // max parallel triggers (default 4)
	Logger      *slog.Logger
}

// Loop consumes the bus and dispatches triggers with bounded concurrency.
type Loop struct {
	bus         domain.MessageBus
	router      *Router
	handlers    map[Command]HandlerFunc
	userLimiter *UserLimiter
	concurrency int
	logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		bus:         cfg.Bus,
		router:      cfg.Router,
		handlers:    cfg.Handlers,
		userLimiter: cfg.UserLimiter,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes inbound events until ctx is done or the bus closes. It waits
// for in-flight triggers before returning.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	defer func() {
		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			cmd := l.router.Route(ev)
			if cmd == CommandNone {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(ev *domain.MessageEvent) {
				defer func() { <-sem }()
				_ = l.Dispatch(ctx, cmd, ev)
			}(ev)
		}
	}
}

// Dispatch runs cmd for ev synchronously. Panics are recovered and returned
// as errors. Declines are logged at debug level.
func (l *Loop) Dispatch(ctx context.Context, cmd Command, ev *domain.MessageEvent) (err error) {
	handler, ok := l.handlers[cmd]
	if !ok {
		return nil
	}
	if l.userLimiter != nil && !l.userLimiter.Allow(ev.UserID) {
		metrics.RateLimited.Inc()
		l.logger.Info("trigger rate limited", "user", ev.UserID, "command", cmd)
		return nil
	}

	switch cmd {
	case CommandSummarize:
		metrics.SummarizeTotal.Inc()
	case CommandIdentify:
		metrics.IdentifyTotal.Inc()
	}
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", cmd, r)
			l.logger.Error("handler panicked", "command", cmd, "message_id", ev.MessageID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	l.logger.Debug("dispatching trigger", "command", cmd, "message_id", ev.MessageID,
		"user", ev.UserID, "group", ev.GroupID)

	err = handler(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDeclined):
		metrics.DeclinedTotal.Inc()
		l.logger.Debug("trigger declined", "command", cmd, "message_id", ev.MessageID, "reason", err)
	case errors.Is(err, ErrEmptyContent):
		l.logger.Info("transcript empty", "command", cmd, "message_id", ev.MessageID)
	default:
		l.logger.Error("trigger failed", "command", cmd, "message_id", ev.MessageID, "err", err)
	}
	return err
}
