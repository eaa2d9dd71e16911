package domain

import (
	"regexp"
	"strconv"
	"time"
)

const (
	MessageTypeGroup   = "group"
	MessageTypePrivate = "private"
)

// MessageEvent is an inbound message delivered by the host runtime.
type MessageEvent struct {
	MessageID   int64
	MessageType string // group | private
	SelfID      int64
	UserID      int64
	GroupID     int64
	Sender      Sender
	RawMessage  string
	Segments    []Segment
	Time        time.Time
}

var cqReplyPattern = regexp.MustCompile(`\[CQ:reply,id=(-?\d+)\]`)

// ReplyID returns the id of the message this event replies to. A reply
// segment wins over a CQ code embedded in the raw message.
func (e *MessageEvent) ReplyID() (int64, bool) {
	for _, s := range e.Segments {
		if s.Kind != KindReply {
			continue
		}
		if id, err := FlexString(s.Payload).Int64(); err == nil {
			return id, true
		}
	}
	if m := cqReplyPattern.FindStringSubmatch(e.RawMessage); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// Text returns the plain text of the event with reply and mention segments
// ignored.
func (e *MessageEvent) Text() string {
	return PlainText(e.Segments)
}

// StoredMessage is a message looked up by id.
type StoredMessage struct {
	MessageID int64
	Sender    Sender
	Time      time.Time
	Segments  []Segment
}

// FirstImage returns the resolved URL of the first image segment.
func (m *StoredMessage) FirstImage() (string, bool) {
	for _, s := range m.Segments {
		if s.Kind == KindImage {
			return s.Image.Resolve()
		}
	}
	return "", false
}
