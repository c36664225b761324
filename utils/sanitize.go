package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer = bluemonday.UGCPolicy()
	stripper  = bluemonday.StrictPolicy()
)

// ExcerptLength is the maximum number of characters kept from the body before "...".
const ExcerptLength = 297

// Sanitize cleans HTML content to prevent XSS attacks.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// StripTags removes every HTML tag and returns plain text with collapsed whitespace.
func StripTags(input string) string {
	text := html.UnescapeString(stripper.Sanitize(input))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt returns the plain-text summary of an HTML body. Bodies longer than
// ExcerptLength runes are cut and suffixed with "...".
func Excerpt(body string) string {
	text := StripTags(body)
	if utf8.RuneCountInString(text) <= ExcerptLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:ExcerptLength])) + "..."
}
