package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatsum/internal/bus"
	"chatsum/internal/domain"
)

func TestRouter_ExactMatch(t *testing.T) {
	r := NewRouter("总结", "看看这是谁")
	tests := []struct {
		text string
		want Command
	}{
		{"总结", CommandSummarize},
		{"  总结\n", CommandSummarize},
		{"看看这是谁", CommandIdentify},
		{"总结一下", CommandNone},
		{"请总结", CommandNone},
		{"", CommandNone},
	}
	for _, tt := range tests {
		if got := r.Route(trigger(tt.text, "1")); got != tt.want {
			t.Fatalf("Route(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestRouter_EmptyTriggerIgnored(t *testing.T) {
	r := NewRouter("", "识别")
	if got := r.Route(trigger("", "1")); got != CommandNone {
		t.Fatalf("empty text must not trigger, got %s", got)
	}
	if got := r.Route(trigger("识别", "1")); got != CommandIdentify {
		t.Fatalf("expected identify, got %s", got)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	l := NewLoop(LoopConfig{
		Router: NewRouter("总结", "看看这是谁"),
		Handlers: map[Command]HandlerFunc{
			CommandSummarize: func(ctx context.Context, ev *domain.MessageEvent) error { panic("boom") },
		},
		Logger: testLogger(),
	})
	err := l.Dispatch(context.Background(), CommandSummarize, trigger("总结", "1"))
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
}

func TestDispatch_UserLimiter(t *testing.T) {
	var calls atomic.Int32
	l := NewLoop(LoopConfig{
		Router: NewRouter("总结", ""),
		Handlers: map[Command]HandlerFunc{
			CommandSummarize: func(ctx context.Context, ev *domain.MessageEvent) error {
				calls.Add(1)
				return nil
			},
		},
		UserLimiter: NewUserLimiter(1, 1.0),
		Logger:      testLogger(),
	})
	ev := trigger("总结", "1")
	for i := 0; i < 3; i++ {
		if err := l.Dispatch(context.Background(), CommandSummarize, ev); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 handler call, got %d", calls.Load())
	}
}

func TestDispatch_PassesDeclineThrough(t *testing.T) {
	l := NewLoop(LoopConfig{
		Router: NewRouter("总结", ""),
		Handlers: map[Command]HandlerFunc{
			CommandSummarize: func(ctx context.Context, ev *domain.MessageEvent) error { return ErrDeclined },
		},
		Logger: testLogger(),
	})
	if err := l.Dispatch(context.Background(), CommandSummarize, trigger("总结", "")); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestLoop_RunBoundsConcurrency(t *testing.T) {
	b := bus.New(16, testLogger())
	defer b.Close()

	var (
		mu      sync.Mutex
		running int
		peak    int
		done    sync.WaitGroup
	)
	release := make(chan struct{})
	done.Add(4)

	l := NewLoop(LoopConfig{
		Bus:    b,
		Router: NewRouter("总结", ""),
		Handlers: map[Command]HandlerFunc{
			CommandSummarize: func(ctx context.Context, ev *domain.MessageEvent) error {
				defer done.Done()
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				<-release
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			},
		},
		Concurrency: 2,
		Logger:      testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	b.Publish(trigger("not a trigger", ""))
	for i := 0; i < 4; i++ {
		ev := trigger("总结", "1")
		ev.UserID = int64(i)
		b.Publish(ev)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	waitTimeout(t, &done, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, saw %d", peak)
	}
	if peak == 0 {
		t.Fatal("handlers never ran")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers")
	}
}
