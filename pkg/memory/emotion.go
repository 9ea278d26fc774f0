package memory

import "strings"

// emotionLexicon is a small keyword lexicon for tagging memories when the
// caller supplies no emotion. It is intentionally coarse; a real sentiment
// model can overwrite the annotation at store time.
var emotionLexicon = map[string][]string{
	"happy":     {"happy", "glad", "great", "love", "loved", "loves", "excited", "wonderful", "joy", "amazing", "fun", "laughed"},
	"sad":       {"sad", "cried", "crying", "miss", "missed", "lonely", "upset", "heartbroken", "grief"},
	"angry":     {"angry", "furious", "annoyed", "hate", "hated", "mad", "frustrated"},
	"afraid":    {"afraid", "scared", "worried", "anxious", "nervous", "fear"},
	"surprised": {"surprised", "shocked", "unexpected", "unbelievable", "wow"},
}

// detectEmotion tags text with the dominant lexicon emotion. Texts with no
// hits read as calm with low confidence.
func detectEmotion(text string) (string, float64) {
	lower := strings.ToLower(text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	best, bestHits := "", 0
	for _, emotion := range []string{"happy", "sad", "angry", "afraid", "surprised"} {
		hits := 0
		for _, w := range emotionLexicon[emotion] {
			if present[w] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = emotion, hits
		}
	}
	if bestHits == 0 {
		return "calm", 0.35
	}
	confidence := 0.5 + 0.1*float64(bestHits)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return best, confidence
}
