package sampler

import "strings"

// expandToSentence grows [start,end) outward so the window never begins or
// ends mid-sentence. Sentence edges are terminal punctuation followed by
// whitespace, or a newline.
func expandToSentence(text string, start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}

	for start > 0 {
		if isSentenceEnd(text, start-1) || text[start-1] == '\n' {
			break
		}
		start--
	}
	for end < len(text) {
		if isSentenceEnd(text, end-1) || text[end-1] == '\n' {
			break
		}
		end++
	}
	return start, end
}

// expandToParagraph grows [start,end) to the nearest enclosing paragraph,
// bounded by blank lines or the document edges.
func expandToParagraph(text string, start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}

	if idx := strings.LastIndex(text[:start], "\n\n"); idx >= 0 {
		start = idx + 2
	} else {
		start = 0
	}
	if idx := strings.Index(text[end:], "\n\n"); idx >= 0 {
		end += idx
	} else {
		end = len(text)
	}

	// Trim leading blank lines left behind by consecutive separators.
	for start < end && (text[start] == '\n' || text[start] == '\r') {
		start++
	}
	return start, end
}

// isSentenceEnd reports whether position i ends a sentence: terminal
// punctuation followed by whitespace or end of text.
func isSentenceEnd(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return false
	}
	switch text[i] {
	case '.', '!', '?':
	default:
		return false
	}
	return i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t'
}
