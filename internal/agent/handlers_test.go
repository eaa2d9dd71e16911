package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatsum/internal/domain"
	"chatsum/internal/forward"
	"chatsum/internal/provider"
	"chatsum/internal/render"
)

func TestSummarize_DeliversRenderedImage(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "fw-1")
	fx.addForward("fw-1", textSeg("hello"), imageSeg("https://img/1.png"), textSeg("bye"))

	if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	replies := fx.replier.all()
	if len(replies) != 2 {
		t.Fatalf("expected notice + result, got %d replies", len(replies))
	}
	if replies[0].Text != msgSummarizing {
		t.Fatalf("expected progress notice, got %q", replies[0].Text)
	}
	last := replies[1]
	if string(last.Image) != "png" || !last.Quote || !last.Mention {
		t.Fatalf("unexpected final reply %+v", last)
	}

	if fx.renderer.templates[0] != render.TemplateSummary {
		t.Fatalf("expected summary template, got %q", fx.renderer.templates[0])
	}
	if md := fx.renderer.data[0].Markdown; md != "## 总结\n内容" {
		t.Fatalf("RELATED_IMAGES should be stripped, got %q", md)
	}

	req := fx.provider.reqs[0]
	if req.Model != "test-model" || req.Temperature != 0.7 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Messages[0].Role != domain.RoleSystem || req.Messages[0].Content != "persona" {
		t.Fatalf("expected persona system message, got %+v", req.Messages[0])
	}
	parts := req.Messages[1].Parts
	if len(parts) != 2 || parts[0].Text != "hello\nbye" || parts[1].ImageURL != "https://img/1.png" {
		t.Fatalf("unexpected user parts %+v", parts)
	}
}

func TestSummarize_NestedForwardSpliced(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "outer")
	fx.addForward("outer", textSeg("a"), seg(domain.KindForward, "inner"), textSeg("c"))
	fx.addForward("inner", textSeg("b"))

	if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err != nil {
		t.Fatal(err)
	}
	if got := fx.provider.reqs[0].Messages[1].Parts[0].Text; got != "a\nb\nc" {
		t.Fatalf("expected nested text in place, got %q", got)
	}
}

func TestSummarize_RenderFailureFallsBackToText(t *testing.T) {
	fx := newFixture()
	fx.renderer.err = errors.New("no chrome")
	fx.storeForwardMessage(5, "fw-1")
	fx.addForward("fw-1", textSeg("hello"))

	if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err != nil {
		t.Fatalf("render failure must not fail the flow: %v", err)
	}
	last := fx.replier.all()[1]
	if last.Image != nil || last.Text != "\n## 总结\n内容" || !last.Quote || !last.Mention {
		t.Fatalf("unexpected fallback reply %+v", last)
	}
}

func TestSummarize_NilRendererSendsText(t *testing.T) {
	fx := newFixture()
	h := fx.build(nil)
	fx.storeForwardMessage(5, "fw-1")
	fx.addForward("fw-1", textSeg("hello"))

	if err := h.Summarize(context.Background(), trigger("总结", "5")); err != nil {
		t.Fatal(err)
	}
	if last := fx.replier.all()[1]; !strings.HasPrefix(last.Text, "\n") {
		t.Fatalf("expected text reply, got %+v", last)
	}
}

func TestSummarize_Declines(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fx *fixture)
		ev    *domain.MessageEvent
	}{
		{"no reply", func(fx *fixture) {}, trigger("总结", "")},
		{"message missing", func(fx *fixture) {}, trigger("总结", "5")},
		{"no forward in message", func(fx *fixture) {
			fx.source.messages[5] = &domain.StoredMessage{Segments: []domain.Segment{textSeg("plain")}}
		}, trigger("总结", "5")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			tt.setup(fx)
			err := fx.handlers.Summarize(context.Background(), tt.ev)
			if !errors.Is(err, ErrDeclined) {
				t.Fatalf("expected ErrDeclined, got %v", err)
			}
			if n := len(fx.replier.all()); n != 0 {
				t.Fatalf("decline must be silent, got %d replies", n)
			}
			if len(fx.provider.reqs) != 0 {
				t.Fatal("provider must not be called")
			}
		})
	}
}

func TestSummarize_GetMessageError(t *testing.T) {
	fx := newFixture()
	fx.source.msgErr = errors.New("timeout")

	err := fx.handlers.Summarize(context.Background(), trigger("总结", "5"))
	if err == nil || errors.Is(err, ErrDeclined) {
		t.Fatalf("expected a real error, got %v", err)
	}
	if got := fx.replier.all()[0].Text; got != "错误: timeout" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestSummarize_TopLevelFetchFailure(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "fw-1")
	fx.source.fwdErr = errors.New("coreInfo missing")

	err := fx.handlers.Summarize(context.Background(), trigger("总结", "5"))
	var fe *forward.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fx.source.fwdCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fx.source.fwdCalls)
	}
	replies := fx.replier.all()
	if len(replies) != 1 {
		t.Fatalf("expected a single failure reply, got %d", len(replies))
	}
	want := "无法获取转发消息内容\n错误：coreInfo missing\n提示：如果机器人已长时间运行，建议重启后重试"
	if replies[0].Text != want {
		t.Fatalf("unexpected reply %q", replies[0].Text)
	}
}

func TestSummarize_TopLevelAlwaysEmpty(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "fw-1")
	fx.source.forwards["fw-1"] = &domain.ForwardContainer{}

	if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err == nil {
		t.Fatal("expected an error")
	}
	if got := fx.replier.all()[0].Text; got != msgFetchRetry {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestSummarize_HostErrorThenEmptyKeepsErrorText(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "fw-1")
	fx.source.forwards["fw-1"] = &domain.ForwardContainer{}
	fx.source.fwdErrs = []error{errors.New("coreInfo boom")}

	if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err == nil {
		t.Fatal("expected an error")
	}
	if fx.source.fwdCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fx.source.fwdCalls)
	}
	want := "无法获取转发消息内容\n错误：coreInfo boom\n提示：如果机器人已长时间运行，建议重启后重试"
	if got := fx.replier.all()[0].Text; got != want {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestSummarize_EmptyContent(t *testing.T) {
	fx := newFixture()
	fx.storeForwardMessage(5, "fw-1")
	fx.addForward("fw-1", textSeg("   "), seg(domain.KindUnsupported, ""))

	err := fx.handlers.Summarize(context.Background(), trigger("总结", "5"))
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	replies := fx.replier.all()
	if len(replies) != 1 || replies[0].Text != "转发消息内容为空" {
		t.Fatalf("unexpected replies %+v", replies)
	}
	if len(fx.provider.reqs) != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestSummarize_ProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api error", &provider.APIError{StatusCode: 429, Detail: "slow down"}, "错误: API 请求失败: 429 slow down"},
		{"malformed", provider.ErrMalformedResponse, "错误: API 返回格式错误"},
		{"other", errors.New("boom"), "错误: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			fx.provider.err = tt.err
			fx.storeForwardMessage(5, "fw-1")
			fx.addForward("fw-1", textSeg("hello"))

			if err := fx.handlers.Summarize(context.Background(), trigger("总结", "5")); err == nil {
				t.Fatal("expected error")
			}
			replies := fx.replier.all()
			if got := replies[len(replies)-1].Text; got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if len(fx.renderer.templates) != 0 {
				t.Fatal("nothing should be rendered")
			}
		})
	}
}

func TestIdentify_DeliversRenderedImage(t *testing.T) {
	fx := newFixture()
	fx.provider.content = "这是某人"
	fx.source.messages[9] = &domain.StoredMessage{Segments: []domain.Segment{
		textSeg("look"), imageSeg("https://img/face.jpg"), imageSeg("https://img/other.jpg"),
	}}

	if err := fx.handlers.Identify(context.Background(), trigger("看看这是谁", "9")); err != nil {
		t.Fatal(err)
	}
	replies := fx.replier.all()
	if replies[0].Text != msgIdentifying {
		t.Fatalf("expected progress notice, got %q", replies[0].Text)
	}
	if string(replies[1].Image) != "png" {
		t.Fatalf("expected image reply, got %+v", replies[1])
	}
	if fx.renderer.templates[0] != render.TemplateIdentify {
		t.Fatalf("expected identify template, got %q", fx.renderer.templates[0])
	}
	if d := fx.renderer.data[0]; d.ImageURL != "https://img/face.jpg" || d.Markdown != "这是某人" {
		t.Fatalf("unexpected render data %+v", d)
	}

	req := fx.provider.reqs[0]
	if len(req.Messages) != 1 || req.Messages[0].Role != domain.RoleUser {
		t.Fatalf("expected a single user message, got %+v", req.Messages)
	}
	parts := req.Messages[0].Parts
	if parts[0].Text != "who is this" || parts[1].ImageURL != "https://img/face.jpg" {
		t.Fatalf("unexpected parts %+v", parts)
	}
}

func TestIdentify_Declines(t *testing.T) {
	fx := newFixture()
	fx.source.messages[9] = &domain.StoredMessage{Segments: []domain.Segment{textSeg("no image")}}

	for _, ev := range []*domain.MessageEvent{trigger("看看这是谁", ""), trigger("看看这是谁", "9")} {
		if err := fx.handlers.Identify(context.Background(), ev); !errors.Is(err, ErrDeclined) {
			t.Fatalf("expected ErrDeclined, got %v", err)
		}
	}
	if n := len(fx.replier.all()); n != 0 {
		t.Fatalf("decline must be silent, got %d replies", n)
	}
}

func TestIdentify_ProviderError(t *testing.T) {
	fx := newFixture()
	fx.provider.err = &provider.APIError{StatusCode: 500, Detail: "oops"}
	fx.source.messages[9] = &domain.StoredMessage{Segments: []domain.Segment{imageSeg("https://img/face.jpg")}}

	if err := fx.handlers.Identify(context.Background(), trigger("看看这是谁", "9")); err == nil {
		t.Fatal("expected error")
	}
	replies := fx.replier.all()
	if got := replies[len(replies)-1].Text; got != "识别失败: API 请求失败: 500 oops" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestHandlers_LLMLimiterHonoursContext(t *testing.T) {
	fx := newFixture()
	fx.handlers.cfg.LLMLimiter = NewRateLimiter(1, 1.0)
	fx.handlers.cfg.LLMLimiter.Allow() // drain
	fx.source.messages[9] = &domain.StoredMessage{Segments: []domain.Segment{imageSeg("https://img/face.jpg")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fx.handlers.Identify(ctx, trigger("看看这是谁", "9"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fx.provider.reqs) != 0 {
		t.Fatal("provider must not be called while limited")
	}
}
