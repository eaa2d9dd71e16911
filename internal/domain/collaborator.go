package domain

import "context"

// MessageSource resolves messages and forward containers from the host
// runtime. Both calls may fail transiently.
type MessageSource interface {
	GetMessage(ctx context.Context, messageID int64) (*StoredMessage, error)
	GetForward(ctx context.Context, ref ContainerRef) (*ForwardContainer, error)
}

// Reply is an outbound answer to a triggering event. Image takes precedence
// over Text when both are set.
type Reply struct {
	Text    string
	Image   []byte // PNG
	Quote   bool   // quote the triggering message
	Mention bool   // @ the sender (group chats only)
}

// Replier delivers replies to the chat the event came from.
type Replier interface {
	Reply(ctx context.Context, ev *MessageEvent, reply Reply) error
}

// RenderData is the input of a render template.
type RenderData struct {
	Markdown string
	ImageURL string
}

// Renderer turns a template and its data into an image.
type Renderer interface {
	Render(ctx context.Context, template string, data RenderData) ([]byte, error)
}

// MessageBus carries inbound events from the transport to the dispatcher.
type MessageBus interface {
	Publish(ev *MessageEvent)
	Subscribe() <-chan *MessageEvent
	Close()
}
