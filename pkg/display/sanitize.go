// Package display holds pure presentation helpers layered on top of the
// streaming core.
package display

import "strings"

// SanitizeForDisplay trims markdown constructs that are still open while a
// response streams, so partial text renders cleanly: unclosed code fences,
// unterminated bold markers, and dangling link brackets. It also repairs
// UTF-8 sequences split across chunk boundaries. The function is a cosmetic
// filter for rendering only; the aggregate kept by the stream session is
// never altered.
func SanitizeForDisplay(text string) string {
	s := strings.ToValidUTF8(text, "")

	if strings.Count(s, "```")%2 == 1 {
		s = s[:strings.LastIndex(s, "```")]
	}

	if strings.Count(s, "**")%2 == 1 {
		s = s[:strings.LastIndex(s, "**")]
	}

	// A '[' with no closing ']' after it is an unfinished link.
	if i := strings.LastIndex(s, "["); i >= 0 && !strings.Contains(s[i:], "]") {
		s = s[:i]
	}

	return strings.TrimRight(s, " \t")
}
