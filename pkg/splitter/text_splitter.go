package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps the langchaingo text splitter
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter.
// Sizes are measured in runes.
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// Trim returns at most limit runes from the start of text. It prefers to cut
// on a paragraph, line or word boundary and falls back to a hard cut.
func Trim(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	chunks, err := NewRecursiveCharacterTextSplitter(limit, 0).SplitText(text)
	if err == nil && len(chunks) > 0 {
		first := chunks[0]
		n := utf8.RuneCountInString(first)
		// A boundary cut that throws away most of the budget is worse than a hard cut.
		if n > limit/2 && n <= limit && strings.HasPrefix(text, first) {
			return first
		}
	}

	return string([]rune(text)[:limit])
}
