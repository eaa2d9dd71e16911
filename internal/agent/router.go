package agent

import (
	"strings"

	"chatsum/internal/domain"
)

// Command is what a trigger asks for.
type Command int

const (
	CommandNone Command = iota
	CommandSummarize
	CommandIdentify
)

func (c Command) String() string {
	switch c {
	case CommandSummarize:
		return "summarize"
	case CommandIdentify:
		return "identify"
	default:
		return "none"
	}
}

// Router maps trigger phrases to commands. Matching is exact on the trimmed
// plain text of the message, so "总结一下" is not a trigger.
type Router struct {
	triggers map[string]Command
}

// NewRouter builds a router. Empty phrases are ignored.
func NewRouter(summarize, identify string) *Router {
	r := &Router{triggers: make(map[string]Command, 2)}
	if s := strings.TrimSpace(summarize); s != "" {
		r.triggers[s] = CommandSummarize
	}
	if s := strings.TrimSpace(identify); s != "" {
		r.triggers[s] = CommandIdentify
	}
	return r
}

// Route returns the command an event triggers, or CommandNone.
func (r *Router) Route(ev *domain.MessageEvent) Command {
	return r.triggers[strings.TrimSpace(ev.Text())]
}
