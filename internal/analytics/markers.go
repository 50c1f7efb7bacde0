package analytics

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// fuzzyMinLen is the shortest word eligible for fuzzy matching. Short words
// produce too many accidental single-edit neighbours ("care" vs "core").
const fuzzyMinLen = 6

// markerSet is a vocabulary of linguistic markers. Phrases are matched as
// substrings of the lowercased text; words are matched per token, exactly or
// within Levenshtein distance 1 for longer words, so common ASR misspellings
// ("explaning", "diabetis") still count.
type markerSet struct {
	phrases []string
	words   []string
}

func (m markerSet) matches(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range m.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, tok := range tokenize(lower) {
		for _, w := range m.words {
			if tok == w {
				return true
			}
			if len(tok) >= fuzzyMinLen && len(w) >= fuzzyMinLen && matchr.Levenshtein(tok, w) <= 1 {
				return true
			}
		}
	}
	return false
}

// tokenize splits lowercased text into words, keeping apostrophes so
// contractions stay whole.
func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

var explanationMarkers = markerSet{
	phrases: []string{
		"this means", "in other words", "what happens is", "the reason",
		"to put it simply", "let me explain",
	},
	words: []string{
		"explain", "explains", "explained", "explaining", "because",
		"basically", "essentially", "means",
	},
}

var empathyMarkers = markerSet{
	phrases: []string{
		"i understand", "that must be", "i hear you", "i'm sorry",
		"i am sorry", "take your time", "it's okay",
	},
	words: []string{
		"understand", "concern", "concerns", "worried", "worry",
		"difficult", "feelings", "sorry",
	},
}

var positiveMarkers = markerSet{
	phrases: []string{"thank you", "sounds good", "that's great"},
	words: []string{
		"good", "great", "glad", "better", "helpful", "wonderful",
		"appreciate", "excellent", "reassuring",
	},
}

var clarityMarkers = markerSet{
	phrases: []string{
		"in other words", "to put it simply", "that means",
		"think of it as", "plain terms",
	},
	words: []string{"simply", "basically", "essentially"},
}

var jargonMarkers = markerSet{
	words: []string{
		"hypertension", "myocardial", "infarction", "idiopathic",
		"etiology", "prognosis", "bilateral", "contraindicated",
		"stenosis", "neuropathy", "tachycardia", "hemoglobin",
		"metastasis", "edema",
	},
}

var questionWords = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "should": true,
	"will": true, "would": true, "do": true, "does": true, "is": true,
	"are": true,
}

// isQuestion reports whether a segment's text reads as a question: an
// explicit question mark, or an opening interrogative word.
func isQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	toks := tokenize(strings.ToLower(text))
	return len(toks) > 0 && questionWords[toks[0]]
}
