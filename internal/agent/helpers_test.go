package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"chatsum/internal/domain"
	"chatsum/internal/forward"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

var noDelay = forward.Budget{Attempts: 3}

func seg(kind domain.SegmentKind, payload string) domain.Segment {
	return domain.Segment{Kind: kind, Payload: payload}
}

func textSeg(s string) domain.Segment {
	return domain.Segment{Kind: domain.KindText, Type: "text", Text: s}
}

func imageSeg(url string) domain.Segment {
	return domain.Segment{Kind: domain.KindImage, Type: "image", Image: domain.ImageSource{URL: url}}
}

// trigger builds a group event replying to message replyTo.
func trigger(text string, replyTo string) *domain.MessageEvent {
	ev := &domain.MessageEvent{
		MessageID:   1000,
		MessageType: domain.MessageTypeGroup,
		UserID:      42,
		GroupID:     7,
		Time:        time.Unix(1700000000, 0),
	}
	if replyTo != "" {
		ev.Segments = append(ev.Segments, seg(domain.KindReply, replyTo))
	}
	ev.Segments = append(ev.Segments, textSeg(text))
	return ev
}

// fakeSource serves stored messages and forward containers from maps.
type fakeSource struct {
	mu       sync.Mutex
	messages map[int64]*domain.StoredMessage
	forwards map[domain.ContainerRef]*domain.ForwardContainer
	msgErr   error
	fwdErr   error
	fwdErrs  []error // per call, before the maps are consulted; nil entries fall through
	fwdCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[int64]*domain.StoredMessage),
		forwards: make(map[domain.ContainerRef]*domain.ForwardContainer),
	}
}

func (f *fakeSource) GetMessage(ctx context.Context, id int64) (*domain.StoredMessage, error) {
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	return f.messages[id], nil
}

func (f *fakeSource) GetForward(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.fwdCalls
	f.fwdCalls++
	if call < len(f.fwdErrs) && f.fwdErrs[call] != nil {
		return nil, f.fwdErrs[call]
	}
	if f.fwdErr != nil {
		return nil, f.fwdErr
	}
	c, ok := f.forwards[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []domain.Reply
}

func (f *fakeReplier) Reply(ctx context.Context, ev *domain.MessageEvent, r domain.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r)
	return nil
}

func (f *fakeReplier) all() []domain.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Reply(nil), f.replies...)
}

type fakeProvider struct {
	mu      sync.Mutex
	content string
	err     error
	reqs    []domain.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) Healthy(ctx context.Context) error { return nil }

type fakeRenderer struct {
	png       []byte
	err       error
	templates []string
	data      []domain.RenderData
}

func (f *fakeRenderer) Render(ctx context.Context, template string, data domain.RenderData) ([]byte, error) {
	f.templates = append(f.templates, template)
	f.data = append(f.data, data)
	if f.err != nil {
		return nil, f.err
	}
	return f.png, nil
}

type fixture struct {
	source   *fakeSource
	replier  *fakeReplier
	provider *fakeProvider
	renderer *fakeRenderer
	handlers *Handlers
}

func newFixture() *fixture {
	fx := &fixture{
		source:   newFakeSource(),
		replier:  &fakeReplier{},
		provider: &fakeProvider{content: "## 总结\n内容\nRELATED_IMAGES: a.png"},
		renderer: &fakeRenderer{png: []byte("png")},
	}
	fx.handlers = fx.build(fx.renderer)
	return fx
}

func (fx *fixture) build(r domain.Renderer) *Handlers {
	logger := testLogger()
	fetcher := forward.NewFetcher(fx.source, logger)
	return NewHandlers(HandlersConfig{
		Source:   fx.source,
		Replier:  fx.replier,
		Provider: fx.provider,
		Renderer: r,
		Fetcher:  fetcher,
		Extractor: forward.NewExtractor(forward.ExtractorConfig{
			Resolver: fetcher.WithBudget(forward.Budget{Attempts: 2}),
			Logger:   logger,
		}),
		TopLevel:    noDelay,
		Model:       "test-model",
		Persona:     "persona",
		Instruction: "who is this",
		Logger:      logger,
	})
}

func (fx *fixture) storeForwardMessage(id int64, ref string) {
	fx.source.messages[id] = &domain.StoredMessage{
		MessageID: id,
		Segments:  []domain.Segment{seg(domain.KindForward, ref)},
	}
}

func (fx *fixture) addForward(ref string, segs ...domain.Segment) {
	fx.source.forwards[domain.ContainerRef(ref)] = &domain.ForwardContainer{
		Entries: []domain.TranscriptEntry{{Sender: domain.Sender{UserID: 1, Nickname: "a"}, Content: segs}},
	}
}
