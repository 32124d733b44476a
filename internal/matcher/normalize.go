package matcher

import (
	"strings"
	"unicode"
)

// Normalize reduces a thread name or viewer filename to a matchable key.
// The annotation tool displays the same screenshot under several spellings
// ("01. Header Issue" in the sidebar, "header-issue.png" in the viewer), so
// both sides are lowered, stripped of a trailing file extension, stripped of
// leading numeric index tokens, and collapsed to single-space-separated
// words. The transform is deterministic and idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = stripExtension(s)

	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	// Drop leading index tokens ("01", "2") but never down to nothing:
	// an all-numeric name is its own key.
	for len(words) > 1 && allDigits(words[0]) {
		words = words[1:]
	}

	return strings.Join(words, " ")
}

// stripExtension removes a trailing ".png"-style suffix: a final dot
// followed by 1-5 alphanumeric characters. Anything longer or containing
// separators is treated as part of the name.
func stripExtension(s string) string {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return s
	}
	ext := s[dot+1:]
	if len(ext) > 5 {
		return s
	}
	for _, r := range ext {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return s
		}
	}
	return s[:dot]
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Match strength returned by scoreMatch.
const (
	scoreNone      = 0
	scoreSubstring = 1
	scoreExact     = 2
)

// scoreMatch compares two normalized keys. Exact equality beats substring
// containment; containment is checked both directions because viewer
// filenames both truncate ("header" for "header issue") and decorate
// ("header issue final") thread names.
func scoreMatch(threadKey, imageKey string) int {
	if threadKey == "" || imageKey == "" {
		return scoreNone
	}
	if threadKey == imageKey {
		return scoreExact
	}
	if strings.Contains(imageKey, threadKey) || strings.Contains(threadKey, imageKey) {
		return scoreSubstring
	}
	return scoreNone
}
