// Package richtext projects stored comment markup onto plain text.
package richtext

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	comments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	openBlocks    = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|ul|ol|tr|blockquote|pre|table)(\s[^>]*)?>`)
	closeBlocks   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|ul|ol|tr|blockquote|pre|table)>`)
	breaks        = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	multiNewlines = regexp.MustCompile(`\n{2,}`)
)

// ToPlainText strips markup from content and returns the readable text with
// one line per block. Plain input passes through with whitespace collapsed.
func ToPlainText(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return collapse(content)
	}

	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = comments.ReplaceAllString(content, "")
	content = openBlocks.ReplaceAllString(content, "\n")
	content = closeBlocks.ReplaceAllString(content, "\n")
	content = breaks.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	return collapse(content)
}

func collapse(content string) string {
	content = multiSpaces.ReplaceAllString(content, " ")
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return multiNewlines.ReplaceAllString(strings.Join(kept, "\n"), "\n")
}

// IsBlank reports whether content has no visible text.
func IsBlank(content string) bool {
	return ToPlainText(content) == ""
}

// Length counts characters of the trimmed raw content.
func Length(content string) int {
	return utf8.RuneCountInString(strings.TrimSpace(content))
}
