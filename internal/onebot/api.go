package onebot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"chatsum/internal/domain"
)

var (
	_ domain.MessageSource = (*Client)(nil)
	_ domain.Replier       = (*Client)(nil)
)

// GetMessage looks a message up by id (get_msg).
func (c *Client) GetMessage(ctx context.Context, messageID int64) (*domain.StoredMessage, error) {
	var data storedMessage
	if err := c.Call(ctx, "get_msg", map[string]any{"message_id": messageID}, &data); err != nil {
		return nil, err
	}
	id, err := data.MessageID.Int64()
	if err != nil {
		id = messageID
	}
	return &domain.StoredMessage{
		MessageID: id,
		Sender:    data.Sender,
		Time:      unixTime(data.Time),
		Segments:  parseMessage(data.Message),
	}, nil
}

// GetForward resolves a forward container (get_forward_msg). An empty
// container is returned as is; the caller decides whether that is a
// failure.
func (c *Client) GetForward(ctx context.Context, ref domain.ContainerRef) (*domain.ForwardContainer, error) {
	var data forwardData
	if err := c.Call(ctx, "get_forward_msg", map[string]any{"id": string(ref)}, &data); err != nil {
		return nil, err
	}
	out := &domain.ForwardContainer{Ref: ref, Entries: make([]domain.TranscriptEntry, 0, len(data.Messages))}
	for _, m := range data.Messages {
		out.Entries = append(out.Entries, m.toDomain())
	}
	return out, nil
}

// Reply sends a message to the chat the event came from (send_msg).
func (c *Client) Reply(ctx context.Context, ev *domain.MessageEvent, reply domain.Reply) error {
	params := map[string]any{
		"message_type": ev.MessageType,
		"message":      replySegments(ev, reply),
	}
	if ev.MessageType == domain.MessageTypeGroup {
		params["group_id"] = ev.GroupID
	} else {
		params["message_type"] = domain.MessageTypePrivate
		params["user_id"] = ev.UserID
	}
	if err := c.Call(ctx, "send_msg", params, nil); err != nil {
		return fmt.Errorf("reply to %d: %w", ev.MessageID, err)
	}
	return nil
}

func replySegments(ev *domain.MessageEvent, reply domain.Reply) []outSegment {
	var segs []outSegment
	if reply.Quote && ev.MessageID != 0 {
		segs = append(segs, outSegment{Type: "reply", Data: map[string]any{"id": strconv.FormatInt(ev.MessageID, 10)}})
	}
	if reply.Mention && ev.MessageType == domain.MessageTypeGroup && ev.UserID != 0 {
		segs = append(segs, outSegment{Type: "at", Data: map[string]any{"qq": strconv.FormatInt(ev.UserID, 10)}})
	}
	if len(reply.Image) > 0 {
		segs = append(segs, outSegment{Type: "image", Data: map[string]any{
			"file": "base64://" + base64.StdEncoding.EncodeToString(reply.Image),
		}})
		return segs
	}
	segs = append(segs, outSegment{Type: "text", Data: map[string]any{"text": reply.Text}})
	return segs
}
