package domain

import "context"

// Provider is the chat-completion collaborator. Implementations talk to an
// OpenAI-compatible endpoint.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartKind distinguishes the parts of a multimodal message.
type PartKind int

const (
	PartText PartKind = iota + 1
	PartImage
)

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Kind     PartKind
	Text     string
	ImageURL string
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart builds an image part.
func ImagePart(url string) ContentPart {
	return ContentPart{Kind: PartImage, ImageURL: url}
}

// Message is a chat message. When Parts is non-nil the message is sent as a
// list of parts and Content is ignored.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
