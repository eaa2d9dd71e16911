// Package render turns markdown answers into PNG cards using headless
// Chrome.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"chatsum/internal/domain"
)

// Template names.
const (
	TemplateSummary  = "summary"
	TemplateIdentify = "identify"
)

// ErrUnknownTemplate is returned for a template name that is not embedded.
var ErrUnknownTemplate = errors.New("unknown render template")

//go:embed templates/*.html
var templateFS embed.FS

var (
	pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

	// Raw HTML in model output is dropped; goldmark escapes it unless
	// WithUnsafe is set.
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
)

type pageData struct {
	Body     template.HTML
	ImageURL string
	Footer   string
}

// Footer is printed at the bottom of every card.
var Footer = "chatsum"

// BuildPage renders the named template to a complete HTML document.
func BuildPage(name string, data domain.RenderData) (string, error) {
	switch name {
	case TemplateSummary, TemplateIdentify:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(data.Markdown), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	var out bytes.Buffer
	err := pages.ExecuteTemplate(&out, name, pageData{
		Body:     template.HTML(body.String()),
		ImageURL: data.ImageURL,
		Footer:   Footer,
	})
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return out.String(), nil
}
