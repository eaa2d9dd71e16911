package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Paths use the YAML keys joined by dots, with sequence indexes as
// numbers: "retry.topLevel.attempts", "llm.fallbacks.0.model".

func toNode(cfg *Config) (*yaml.Node, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return &doc, nil
}

// child returns the node under key in a mapping or sequence node.
func child(n *yaml.Node, key string) (*yaml.Node, bool) {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				return n.Content[i+1], true
			}
		}
	case yaml.SequenceNode:
		idx, err := strconv.Atoi(key)
		if err == nil && idx >= 0 && idx < len(n.Content) {
			return n.Content[idx], true
		}
	}
	return nil, false
}

// GetByPath returns the value at path, decoded to plain Go values.
func GetByPath(cfg *Config, path string) (any, error) {
	n, err := toNode(cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range strings.Split(path, ".") {
		if n.Kind == yaml.ScalarNode {
			return nil, fmt.Errorf("%s: cannot descend into a scalar at %q", path, key)
		}
		next, ok := child(n, key)
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		n = next
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetByPath parses value as YAML and stores it at path. Missing mapping
// keys are created; the result must still decode into Config, so unknown
// keys and type mismatches are errors and cfg is left untouched.
func SetByPath(cfg *Config, path, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	root, err := toNode(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	parent := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := child(parent, key)
		if !ok {
			if parent.Kind != yaml.MappingNode {
				return fmt.Errorf("%s: no element %q", path, key)
			}
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			parent.Content = append(parent.Content, scalar(key), next)
		}
		if next.Kind == yaml.ScalarNode {
			return fmt.Errorf("%s: cannot descend into a scalar at %q", path, key)
		}
		parent = next
	}

	leaf := parseScalar(value)
	last := keys[len(keys)-1]
	if old, ok := child(parent, last); ok {
		*old = *leaf
	} else if parent.Kind == yaml.MappingNode {
		parent.Content = append(parent.Content, scalar(last), leaf)
	} else {
		return fmt.Errorf("%s: index %q out of range", path, last)
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var updated Config
	if err := dec.Decode(&updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

// parseScalar lets YAML pick the type: "8" is an int, "false" a bool,
// anything else a string.
func parseScalar(s string) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil || len(doc.Content) == 0 {
		return scalar(s)
	}
	return doc.Content[0]
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.LLM.Fallbacks = append([]EndpointConfig(nil), cfg.LLM.Fallbacks...)

	out.LLM.APIKey = maskString(out.LLM.APIKey)
	for i := range out.LLM.Fallbacks {
		out.LLM.Fallbacks[i].APIKey = maskString(out.LLM.Fallbacks[i].APIKey)
	}
	out.OneBot.AccessToken = maskString(out.OneBot.AccessToken)
	return &out
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	root, err := toNode(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	walk("", root, out)
	return out
}

func walk(prefix string, n *yaml.Node, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walk(prefix, c, out)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			walk(join(n.Content[i].Value), n.Content[i+1], out)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walk(join(strconv.Itoa(i)), c, out)
		}
	default:
		var v any
		if err := n.Decode(&v); err == nil {
			out[prefix] = v
		}
	}
}
