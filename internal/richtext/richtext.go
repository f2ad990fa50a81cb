// Package richtext derives plain text and document metrics from
// ProseMirror-style content trees.
package richtext

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// DefaultWordsPerPage is the page-count divisor used when no override is
// configured. Product constant, not a typographic truth.
const DefaultWordsPerPage = 500

// Metrics holds everything derivable from a document's canonical content.
type Metrics struct {
	DerivedText    string
	WordCount      int
	CharacterCount int
	PageCount      int
	SizeBytes      int64
}

// Compute derives text and metrics from raw ProseMirror JSON. A nil, empty,
// or JSON-null content yields the zero Metrics. wordsPerPage <= 0 falls back
// to DefaultWordsPerPage.
func Compute(content json.RawMessage, wordsPerPage int) Metrics {
	if wordsPerPage <= 0 {
		wordsPerPage = DefaultWordsPerPage
	}
	if isEmptyContent(content) {
		return Metrics{}
	}

	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		// Malformed trees contribute no text but still occupy storage.
		return Metrics{SizeBytes: int64(len(content))}
	}

	text := strings.TrimSpace(extractText(root))
	words := len(strings.Fields(text))

	pages := 0
	if words > 0 {
		pages = (words + wordsPerPage - 1) / wordsPerPage
		if pages < 1 {
			pages = 1
		}
	}

	return Metrics{
		DerivedText:    text,
		WordCount:      words,
		CharacterCount: utf8.RuneCountInString(text),
		PageCount:      pages,
		SizeBytes:      canonicalSize(root, content),
	}
}

// ExtractText returns the depth-first, left-to-right concatenation of all
// leaf text values with no separators. Unknown node shapes contribute "".
func ExtractText(content json.RawMessage) string {
	if isEmptyContent(content) {
		return ""
	}
	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		return ""
	}
	return strings.TrimSpace(extractText(root))
}

// Fingerprint hashes derived text for sync change-detection.
func Fingerprint(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func extractText(node any) string {
	switch n := node.(type) {
	case string:
		return n
	case map[string]any:
		var b strings.Builder
		if text, ok := n["text"].(string); ok {
			b.WriteString(text)
		}
		if children, ok := n["content"].([]any); ok {
			for _, child := range children {
				b.WriteString(extractText(child))
			}
		}
		return b.String()
	case []any:
		var b strings.Builder
		for _, child := range n {
			b.WriteString(extractText(child))
		}
		return b.String()
	default:
		return ""
	}
}

// canonicalSize measures the UTF-8 byte length of the canonical serialized
// form: compact JSON for structured trees, the raw value for plain strings.
func canonicalSize(root any, raw json.RawMessage) int64 {
	if s, ok := root.(string); ok {
		return int64(len(s))
	}
	compact, err := json.Marshal(root)
	if err != nil {
		return int64(len(raw))
	}
	return int64(len(compact))
}

func isEmptyContent(content json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(content))
	return trimmed == "" || trimmed == "null"
}
