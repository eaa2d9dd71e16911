package domain

// ContentKind distinguishes flattened content items.
type ContentKind int

const (
	ContentText ContentKind = iota + 1
	ContentImage
)

// ContentItem is the unit produced by flattening a transcript.
type ContentItem struct {
	Kind ContentKind
	Text string // ContentText
	URL  string // ContentImage
}

// Text builds a text content item.
func Text(s string) ContentItem {
	return ContentItem{Kind: ContentText, Text: s}
}

// ImageRef builds an image content item.
func ImageRef(url string) ContentItem {
	return ContentItem{Kind: ContentImage, URL: url}
}
