// Package script turns a raw feed document into the narration script read by
// the speech synthesizer.
package script

import (
	"regexp"
	"strings"
)

// Regex patterns for script cleanup.
const (
	xmlDeclarationPattern = `<\?xml[^>]*\?>`
	whitespacePattern     = `\s+`
)

// Normalizer cleans transform output for speech.
type Normalizer struct {
	declarationPattern *regexp.Regexp
	whitespacePattern  *regexp.Regexp
}

// NewNormalizer creates a Normalizer with precompiled patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		declarationPattern: regexp.MustCompile(xmlDeclarationPattern),
		whitespacePattern:  regexp.MustCompile(whitespacePattern),
	}
}

// Normalize strips any XML declaration and collapses every run of whitespace
// to a single space. The result has no leading or trailing whitespace.
func (n *Normalizer) Normalize(text string) string {
	text = n.declarationPattern.ReplaceAllString(text, " ")
	text = n.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
