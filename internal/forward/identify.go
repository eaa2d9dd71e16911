// Package forward resolves forward-message containers and flattens them into
// an ordered sequence of text and image items.
package forward

import (
	"encoding/json"
	"regexp"
	"strings"

	"chatsum/internal/domain"
)

var residPattern = regexp.MustCompile(`resid="([^"]+)"`)

// Identify extracts the container reference carried by a segment. A json
// card is probed for data.meta.detail.resid, an xml card for a resid
// attribute, and a forward segment carries the id directly. Parse errors
// are treated as no match.
func Identify(seg domain.Segment) (domain.ContainerRef, bool) {
	switch seg.Kind {
	case domain.KindJSON:
		return residFromJSON(seg.Payload)
	case domain.KindXML:
		if m := residPattern.FindStringSubmatch(seg.Payload); m != nil {
			return domain.ContainerRef(m[1]), true
		}
	case domain.KindForward:
		if id := strings.TrimSpace(seg.Payload); id != "" {
			return domain.ContainerRef(id), true
		}
	}
	return "", false
}

// IdentifyFirst returns the first container reference found in a message.
func IdentifyFirst(segs []domain.Segment) (domain.ContainerRef, bool) {
	for _, s := range segs {
		if ref, ok := Identify(s); ok {
			return ref, true
		}
	}
	return "", false
}

func residFromJSON(payload string) (domain.ContainerRef, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return "", false
	}
	// Wrapped cards nest the ark under "data"; bare multimsg arks do not.
	for _, path := range [][]string{
		{"data", "meta", "detail", "resid"},
		{"meta", "detail", "resid"},
	} {
		if s, ok := lookupString(doc, path...); ok && s != "" {
			return domain.ContainerRef(s), true
		}
	}
	return "", false
}

func lookupString(doc map[string]any, path ...string) (string, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[key]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
