package memory

import "strings"

// summarize derives a listing summary from full text, preferring a sentence
// boundary, then a word boundary, before hard-truncating at max runes. The
// boundary math stays in runes so multi-byte text keeps the same cut points.
func summarize(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := runes[:max]

	if i := lastSentenceEnd(cut); i >= max/3 {
		return strings.TrimSpace(string(cut[:i+1]))
	}
	if i := lastSpace(cut); i >= max/3 {
		return strings.TrimSpace(string(cut[:i]))
	}
	return strings.TrimSpace(string(cut))
}

func lastSentenceEnd(s []rune) int {
	end := -1
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			end = i
		}
	}
	return end
}

func lastSpace(s []rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}
