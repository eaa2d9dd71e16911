package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SegmentKind classifies a message segment. The set is closed: every wire
// segment maps to exactly one kind when it is parsed.
type SegmentKind int

const (
	KindUnsupported SegmentKind = iota
	KindText
	KindImage
	KindJSON    // ark card; may embed a forward container reference
	KindXML     // legacy xml card; may embed a forward container reference
	KindForward // explicit forward reference
	KindReply
	KindAt
)

func (k SegmentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindJSON:
		return "json"
	case KindXML:
		return "xml"
	case KindForward:
		return "forward"
	case KindReply:
		return "reply"
	case KindAt:
		return "at"
	default:
		return "unsupported"
	}
}

// IsForwardCandidate reports whether the kind is one of the three encodings
// that can carry a forward container reference.
func (k SegmentKind) IsForwardCandidate() bool {
	return k == KindJSON || k == KindXML || k == KindForward
}

// ImageSource holds the candidate locations of an image, in the order they
// are probed.
type ImageSource struct {
	URL    string // data.url
	RawURL string // top-level url (flattened segments)
	File   string // data.file or top-level file
}

// Resolve returns the first non-empty location.
func (s ImageSource) Resolve() (string, bool) {
	for _, u := range []string{s.URL, s.RawURL, s.File} {
		if u = strings.TrimSpace(u); u != "" {
			return u, true
		}
	}
	return "", false
}

// Segment is a classified, read-only message segment.
type Segment struct {
	Kind  SegmentKind
	Type  string      // wire type as received
	Text  string      // KindText
	Image ImageSource // KindImage
	// Payload is the raw card document for KindJSON and KindXML, and the
	// referenced id for KindForward, KindReply and KindAt.
	Payload string
}

// RawSegment is the OneBot wire shape of a segment. Some implementations
// flatten the data fields onto the segment itself, so both are accepted.
type RawSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	Text string     `json:"text,omitempty"`
	URL  string     `json:"url,omitempty"`
	File string     `json:"file,omitempty"`
	ID   FlexString `json:"id,omitempty"`
}

type segmentData struct {
	Text string     `json:"text"`
	URL  string     `json:"url"`
	File string     `json:"file"`
	ID   FlexString `json:"id"`
	QQ   FlexString `json:"qq"`
	Data string     `json:"data"`
}

// ParseSegment classifies a wire segment. Malformed data degrades to empty
// fields rather than an error; the segment is still classified by type.
func ParseSegment(raw RawSegment) Segment {
	var data segmentData
	var dataString string
	if len(raw.Data) > 0 {
		// data is usually an object, but card segments may carry the
		// document directly as a string.
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			_ = json.Unmarshal(raw.Data, &dataString)
		}
	}

	seg := Segment{Type: raw.Type}
	switch strings.ToLower(raw.Type) {
	case "text":
		seg.Kind = KindText
		seg.Text = firstNonEmpty(data.Text, raw.Text)
	case "image":
		seg.Kind = KindImage
		seg.Image = ImageSource{
			URL:    data.URL,
			RawURL: raw.URL,
			File:   firstNonEmpty(data.File, raw.File),
		}
	case "json":
		seg.Kind = KindJSON
		seg.Payload = firstNonEmpty(data.Data, dataString)
	case "xml":
		seg.Kind = KindXML
		seg.Payload = firstNonEmpty(data.Data, dataString)
	case "forward":
		seg.Kind = KindForward
		seg.Payload = firstNonEmpty(string(data.ID), string(raw.ID))
	case "reply":
		seg.Kind = KindReply
		seg.Payload = firstNonEmpty(string(data.ID), string(raw.ID))
	case "at":
		seg.Kind = KindAt
		seg.Payload = string(data.QQ)
	default:
		seg.Kind = KindUnsupported
	}
	return seg
}

// ParseMessage classifies every segment of a message, preserving order.
func ParseMessage(raw []RawSegment) []Segment {
	out := make([]Segment, 0, len(raw))
	for _, r := range raw {
		out = append(out, ParseSegment(r))
	}
	return out
}

// PlainText concatenates the text segments of a message.
func PlainText(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		if s.Kind == KindText {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// FlexString unmarshals from a JSON string or number. OneBot
// implementations disagree on whether ids are strings or integers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Int64 parses the value as a signed integer id.
func (f FlexString) Int64() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
