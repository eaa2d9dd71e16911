package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatsum/internal/domain"
	"chatsum/internal/forward"
	"chatsum/internal/metrics"
	"chatsum/internal/prompt"
	"chatsum/internal/provider"
	"chatsum/internal/render"
)

var (
	// ErrDeclined means a precondition was not met. Nothing is sent back.
	ErrDeclined = errors.New("trigger declined")
	// ErrEmptyContent means the transcript flattened to no items.
	ErrEmptyContent = errors.New("forward transcript has no content")
)

const (
	msgSummarizing   = "正在生成总结..."
	msgIdentifying   = "正在识别图片..."
	msgEmptyContent  = "转发消息内容为空"
	msgFetchRetry    = "无法获取转发消息内容，请稍后重试"
	msgFetchDetailed = "无法获取转发消息内容\n错误：%s\n提示：如果机器人已长时间运行，建议重启后重试"
)

// HandlersConfig holds the collaborators of the two flows.
type HandlersConfig struct {
	Source    domain.MessageSource
	Replier   domain.Replier
	Provider  domain.Provider
	Renderer  domain.Renderer // nil sends plain text
	Fetcher   *forward.Fetcher
	Extractor *forward.Extractor
	TopLevel  forward.Budget

	Model       string
	Persona     string
	Instruction string

	LLMLimiter *RateLimiter // optional
	Logger     *slog.Logger
}

// Handlers runs the summarize and identify flows. Each call is independent
// and safe to run concurrently.
type Handlers struct {
	cfg    HandlersConfig
	logger *slog.Logger
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.TopLevel.Attempts <= 0 {
		cfg.TopLevel = forward.TopLevelBudget
	}
	return &Handlers{cfg: cfg, logger: cfg.Logger}
}

// Summarize resolves the forward transcript the event replies to, asks the
// model for a summary and delivers it.
func (h *Handlers) Summarize(ctx context.Context, ev *domain.MessageEvent) error {
	replyID, ok := ev.ReplyID()
	if !ok {
		return fmt.Errorf("%w: no reply", ErrDeclined)
	}

	msg, err := h.cfg.Source.GetMessage(ctx, replyID)
	if err != nil {
		h.send(ctx, ev, domain.Reply{Text: "错误: " + err.Error()})
		return fmt.Errorf("get message %d: %w", replyID, err)
	}
	if msg == nil || len(msg.Segments) == 0 {
		return fmt.Errorf("%w: referenced message is empty", ErrDeclined)
	}
	ref, ok := forward.IdentifyFirst(msg.Segments)
	if !ok {
		return fmt.Errorf("%w: referenced message carries no forward", ErrDeclined)
	}

	h.logger.Info("summarizing forward", "message_id", ev.MessageID, "ref", ref)
	container, err := h.cfg.Fetcher.Fetch(ctx, ref, h.cfg.TopLevel)
	if err != nil {
		h.send(ctx, ev, domain.Reply{Text: fetchFailureText(err)})
		return err
	}

	items := h.cfg.Extractor.Extract(ctx, container.Entries, 0)
	metrics.ExtractedItems.Observe(float64(len(items)))
	if len(items) == 0 {
		h.send(ctx, ev, domain.Reply{Text: msgEmptyContent})
		return ErrEmptyContent
	}
	texts, images := prompt.Stats(items)
	h.logger.Debug("transcript flattened", "ref", ref, "texts", texts, "images", images)

	h.send(ctx, ev, domain.Reply{Text: msgSummarizing})

	resp, err := h.chat(ctx, prompt.BuildSummaryRequest(items, h.cfg.Persona, h.cfg.Model))
	if err != nil {
		h.send(ctx, ev, domain.Reply{Text: "错误: " + describeProviderError(err)})
		return fmt.Errorf("summarize %s: %w", ref, err)
	}

	text := prompt.Clean(resp.Content)
	return h.deliver(ctx, ev, render.TemplateSummary, domain.RenderData{Markdown: text}, text)
}

// Identify sends the first image of the referenced message to the model
// with the identification instruction.
func (h *Handlers) Identify(ctx context.Context, ev *domain.MessageEvent) error {
	replyID, ok := ev.ReplyID()
	if !ok {
		return fmt.Errorf("%w: no reply", ErrDeclined)
	}

	msg, err := h.cfg.Source.GetMessage(ctx, replyID)
	if err != nil {
		h.send(ctx, ev, domain.Reply{Text: "识别失败: " + err.Error()})
		return fmt.Errorf("get message %d: %w", replyID, err)
	}
	if msg == nil {
		return fmt.Errorf("%w: referenced message not found", ErrDeclined)
	}
	imageURL, ok := msg.FirstImage()
	if !ok {
		return fmt.Errorf("%w: referenced message has no image", ErrDeclined)
	}

	h.logger.Info("identifying image", "message_id", ev.MessageID, "reply_to", replyID)
	h.send(ctx, ev, domain.Reply{Text: msgIdentifying})

	resp, err := h.chat(ctx, prompt.BuildIdentifyRequest(imageURL, h.cfg.Instruction, h.cfg.Model))
	if err != nil {
		h.send(ctx, ev, domain.Reply{Text: "识别失败: " + describeProviderError(err)})
		return fmt.Errorf("identify: %w", err)
	}

	text := prompt.Clean(resp.Content)
	return h.deliver(ctx, ev, render.TemplateIdentify, domain.RenderData{Markdown: text, ImageURL: imageURL}, text)
}

func (h *Handlers) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if h.cfg.LLMLimiter != nil {
		if err := h.cfg.LLMLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return h.cfg.Provider.Chat(ctx, req)
}

// deliver renders text into an image reply. A render failure falls back to
// the plain text.
func (h *Handlers) deliver(ctx context.Context, ev *domain.MessageEvent, template string, data domain.RenderData, text string) error {
	if h.cfg.Renderer != nil {
		png, err := h.cfg.Renderer.Render(ctx, template, data)
		if err == nil {
			return h.cfg.Replier.Reply(ctx, ev, domain.Reply{Image: png, Quote: true, Mention: true})
		}
		h.logger.Warn("render failed, sending text", "template", template, "err", err)
	}
	return h.cfg.Replier.Reply(ctx, ev, domain.Reply{Text: "\n" + text, Quote: true, Mention: true})
}

// send delivers a notice. Failures are logged only.
func (h *Handlers) send(ctx context.Context, ev *domain.MessageEvent, reply domain.Reply) {
	if err := h.cfg.Replier.Reply(ctx, ev, reply); err != nil {
		h.logger.Warn("reply failed", "message_id", ev.MessageID, "err", err)
	}
}

func fetchFailureText(err error) string {
	var fe *forward.FetchError
	if errors.As(err, &fe) {
		if errors.Is(fe.Err, forward.ErrEmptyContainer) {
			return msgFetchRetry
		}
		if fe.Err != nil {
			return fmt.Sprintf(msgFetchDetailed, fe.Err.Error())
		}
	}
	return fmt.Sprintf(msgFetchDetailed, err.Error())
}

func describeProviderError(err error) string {
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr):
		return fmt.Sprintf("API 请求失败: %d %s", apiErr.StatusCode, apiErr.Detail)
	case errors.Is(err, provider.ErrMalformedResponse):
		return "API 返回格式错误"
	default:
		return err.Error()
	}
}
