package prompt

import (
	"regexp"
	"strings"
)

// relatedImagesLine matches every whole line carrying the marker some
// providers append, including its line break.
var relatedImagesLine = regexp.MustCompile(`(?im)^.*RELATED_IMAGES:.*(?:\r?\n|$)`)

// Clean strips provider marker lines and surrounding whitespace. Applying
// it twice gives the same result as applying it once.
func Clean(raw string) string {
	return strings.TrimSpace(relatedImagesLine.ReplaceAllString(raw, ""))
}
