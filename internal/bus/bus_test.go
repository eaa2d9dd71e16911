package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"chatsum/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(&domain.MessageEvent{MessageID: 1})
	b.Publish(&domain.MessageEvent{MessageID: 2})

	for _, want := range []int64{1, 2} {
		select {
		case ev := <-b.Subscribe():
			if ev.MessageID != want {
				t.Fatalf("expected message %d, got %d", want, ev.MessageID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestInMemoryBus_DropsWhenFull(t *testing.T) {
	b := New(1, testLogger())
	b.timeout = 10 * time.Millisecond

	b.Publish(&domain.MessageEvent{MessageID: 1})
	start := time.Now()
	b.Publish(&domain.MessageEvent{MessageID: 2})
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("publish to a full bus should wait before dropping")
	}

	if ev := <-b.Subscribe(); ev.MessageID != 1 {
		t.Fatalf("expected first event to survive, got %d", ev.MessageID)
	}
	select {
	case ev := <-b.Subscribe():
		t.Fatalf("expected second event to be dropped, got %d", ev.MessageID)
	default:
	}
}

func TestInMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()
	b.Publish(&domain.MessageEvent{MessageID: 1})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}
