package forward

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"chatsum/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

func text(s string) domain.Segment {
	return domain.Segment{Kind: domain.KindText, Type: "text", Text: s}
}

func image(url string) domain.Segment {
	return domain.Segment{Kind: domain.KindImage, Type: "image", Image: domain.ImageSource{URL: url}}
}

func forwardSeg(id string) domain.Segment {
	return domain.Segment{Kind: domain.KindForward, Type: "forward", Payload: id}
}

func entry(segs ...domain.Segment) domain.TranscriptEntry {
	return domain.TranscriptEntry{Sender: domain.Sender{UserID: 1, Nickname: "tester"}, Content: segs}
}

// mapSource serves containers from a map and counts lookups per ref.
type mapSource struct {
	mu         sync.Mutex
	containers map[domain.ContainerRef]*domain.ForwardContainer
	failing    map[domain.ContainerRef]error
	calls      map[domain.ContainerRef]int
}

func newMapSource() *mapSource {
	return &mapSource{
		containers: make(map[domain.ContainerRef]*domain.ForwardContainer),
		failing:    make(map[domain.ContainerRef]error),
		calls:      make(map[domain.ContainerRef]int),
	}
}

func (m *mapSource) add(ref string, entries ...domain.TranscriptEntry) {
	m.containers[domain.ContainerRef(ref)] = &domain.ForwardContainer{Entries: entries}
}

func (m *mapSource) GetForward(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[ref]++
	if err, ok := m.failing[ref]; ok {
		return nil, err
	}
	c, ok := m.containers[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (m *mapSource) Resolve(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
	return m.GetForward(ctx, ref)
}
