// Package onebot is a OneBot v11 client over a forward websocket. It
// publishes inbound message events to the bus and exposes the actions the
// handlers need as domain.MessageSource and domain.Replier.
package onebot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatsum/internal/domain"
)

// ErrNotConnected is returned by actions issued while no connection is up.
var ErrNotConnected = errors.New("onebot: not connected")

// ActionError is a failed action response (status "failed" or a non-zero
// retcode).
type ActionError struct {
	Action  string
	Status  string
	RetCode int
	Message string
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot %s: retcode %d: %s", e.Action, e.RetCode, e.Message)
	}
	return fmt.Sprintf("onebot %s: retcode %d (%s)", e.Action, e.RetCode, e.Status)
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

func (r *actionResponse) err(action string) error {
	if r.RetCode == 0 && r.Status != "failed" {
		return nil
	}
	msg := r.Wording
	if msg == "" {
		msg = r.Message
	}
	return &ActionError{Action: action, Status: r.Status, RetCode: r.RetCode, Message: msg}
}

// frame is decoded once to tell action responses from events.
type frame struct {
	Echo     string `json:"echo"`
	Status   string `json:"status"`
	PostType string `json:"post_type"`
}

type messageEvent struct {
	PostType    string            `json:"post_type"`
	MessageType string            `json:"message_type"`
	MessageID   domain.FlexString `json:"message_id"`
	SelfID      int64             `json:"self_id"`
	UserID      int64             `json:"user_id"`
	GroupID     int64             `json:"group_id"`
	RawMessage  string            `json:"raw_message"`
	Message     json.RawMessage   `json:"message"`
	Sender      domain.Sender     `json:"sender"`
	Time        int64             `json:"time"`
}

func (e *messageEvent) toDomain() *domain.MessageEvent {
	id, _ := e.MessageID.Int64()
	return &domain.MessageEvent{
		MessageID:   id,
		MessageType: e.MessageType,
		SelfID:      e.SelfID,
		UserID:      e.UserID,
		GroupID:     e.GroupID,
		Sender:      e.Sender,
		RawMessage:  e.RawMessage,
		Segments:    parseMessage(e.Message),
		Time:        unixTime(e.Time),
	}
}

// storedMessage is the data of a get_msg response.
type storedMessage struct {
	MessageID  domain.FlexString `json:"message_id"`
	Sender     domain.Sender     `json:"sender"`
	Time       int64             `json:"time"`
	Message    json.RawMessage   `json:"message"`
	RawMessage string            `json:"raw_message"`
}

// forwardData is the data of a get_forward_msg response.
type forwardData struct {
	Messages []forwardEntry `json:"messages"`
}

// forwardEntry carries its segments under "content" (go-cqhttp) or
// "message" (NapCat).
type forwardEntry struct {
	Sender  domain.Sender   `json:"sender"`
	Time    int64           `json:"time"`
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
}

func (e forwardEntry) toDomain() domain.TranscriptEntry {
	raw := e.Content
	if isEmptyJSON(raw) {
		raw = e.Message
	}
	return domain.TranscriptEntry{
		Sender:  e.Sender,
		Time:    unixTime(e.Time),
		Content: parseMessage(raw),
	}
}

// parseMessage accepts the array format and, for implementations
// configured with the string format, a plain string that becomes one text
// segment.
func parseMessage(raw json.RawMessage) []domain.Segment {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return nil
		}
		return []domain.Segment{{Kind: domain.KindText, Type: "text", Text: s}}
	}
	var segs []domain.RawSegment
	if err := json.Unmarshal(raw, &segs); err != nil {
		return nil
	}
	return domain.ParseMessage(segs)
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// outSegment is an outbound message segment.
type outSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}
