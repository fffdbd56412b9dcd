package dialogue

import (
	"regexp"
	"strings"
)

var ordinalWords = map[string]int{
	"1": 1, "first": 1, "1st": 1,
	"2": 2, "two": 2, "second": 2, "2nd": 2,
	"3": 3, "three": 3, "third": 3, "3rd": 3,
}

// clockLike matches utterances that name a time or date rather than an option.
var clockLike = regexp.MustCompile(`(?i)\d{1,2}\s*[:.]\s*\d{2}|\d{1,2}\s*(am|pm|a\.m\.|p\.m\.)|\b(o'?clock|morning|afternoon|evening|tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday|january|february|march|april|june|july|august|september|october|november|december)\b`)

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

// parseSelection maps a reply to one of n presented options. It returns a
// zero-based index.
func parseSelection(text string, n int) (int, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" || n == 0 || clockLike.MatchString(text) {
		return 0, false
	}
	choice, one := 0, false
	for _, w := range wordSplit.Split(text, -1) {
		switch w {
		case "one":
			// "the second one" names option two; a bare "one" names option one.
			one = true
		case "last", "final":
			choice = n
		default:
			if v, ok := ordinalWords[w]; ok {
				if choice != 0 && choice != v {
					return 0, false
				}
				choice = v
			}
		}
	}
	if choice == 0 && one {
		choice = 1
	}
	if choice < 1 || choice > n {
		return 0, false
	}
	return choice - 1, true
}
