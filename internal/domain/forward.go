package domain

import "time"

// ContainerRef is the opaque id of a forward container. It is only ever
// extracted from a segment, never built by callers.
type ContainerRef string

// Sender describes the author of a transcript entry.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
}

// DisplayName prefers the group card over the nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// TranscriptEntry is one sub-message of a forward container.
type TranscriptEntry struct {
	Sender  Sender
	Time    time.Time
	Content []Segment
}

// ForwardContainer is a resolved forward container. It is fetched fresh for
// every request and never cached.
type ForwardContainer struct {
	Ref     ContainerRef
	Entries []TranscriptEntry
}
