// Package prompt assembles chat-completion requests from flattened content
// and cleans the model's answer. Nothing here performs I/O.
package prompt

import (
	"strings"

	"chatsum/internal/domain"
)

// Temperature is the sampling temperature used for every request.
const Temperature = 0.7

// BuildSummaryRequest builds a two-message request: the persona as the
// system message, then one user message holding all text items joined by
// newlines followed by every image in order.
func BuildSummaryRequest(items []domain.ContentItem, persona, model string) domain.ChatRequest {
	var texts []string
	var images []string
	for _, it := range items {
		switch it.Kind {
		case domain.ContentText:
			texts = append(texts, it.Text)
		case domain.ContentImage:
			images = append(images, it.URL)
		}
	}

	parts := make([]domain.ContentPart, 0, 1+len(images))
	if len(texts) > 0 {
		parts = append(parts, domain.TextPart(strings.Join(texts, "\n")))
	}
	for _, u := range images {
		parts = append(parts, domain.ImagePart(u))
	}

	return domain.ChatRequest{
		Model:       model,
		Temperature: Temperature,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: persona},
			{Role: domain.RoleUser, Parts: parts},
		},
	}
}

// BuildIdentifyRequest builds a single user message: the instruction text
// followed by exactly one image.
func BuildIdentifyRequest(imageURL, instruction, model string) domain.ChatRequest {
	return domain.ChatRequest{
		Model:       model,
		Temperature: Temperature,
		Messages: []domain.Message{
			{
				Role: domain.RoleUser,
				Parts: []domain.ContentPart{
					domain.TextPart(instruction),
					domain.ImagePart(imageURL),
				},
			},
		},
	}
}

// Stats summarises what a summary request carries, for logging.
func Stats(items []domain.ContentItem) (texts, images int) {
	for _, it := range items {
		switch it.Kind {
		case domain.ContentText:
			texts++
		case domain.ContentImage:
			images++
		}
	}
	return texts, images
}
