package memory

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	minWordsForStorage = 4
	minCharsForStorage = 15
)

// skipPhrases are acknowledgements and fillers that carry nothing worth
// remembering.
var skipPhrases = map[string]bool{
	"yeah": true, "yes": true, "no": true, "okay": true, "ok": true,
	"uh": true, "um": true, "hmm": true, "hm": true, "mhm": true,
	"uh-huh": true, "sure": true, "right": true, "alright": true, "yep": true,
	"nope": true, "hey": true, "hi": true, "hello": true, "bye": true,
	"goodbye": true, "thanks": true, "thank you": true, "cool": true, "nice": true,
	"great": true, "good": true, "fine": true, "amen": true, "what": true,
	"huh": true, "oh": true, "ah": true,
}

// IsContentWorthStoring rejects short utterances, bare fillers, and text
// that is more than three quarters filler words.
func IsContentWorthStoring(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minCharsForStorage {
		return false
	}
	words := strings.Fields(trimmed)
	if len(words) < minWordsForStorage {
		return false
	}

	lower := strings.ToLower(trimmed)
	if skipPhrases[strings.TrimRight(lower, ".!?")] {
		return false
	}

	filler := 0
	for _, w := range words {
		clean := strings.TrimFunc(strings.ToLower(w), func(r rune) bool { return !unicode.IsLetter(r) })
		if skipPhrases[clean] {
			filler++
		}
	}
	return float64(filler)/float64(len(words)) <= 0.75
}

// FormatContext renders memories for a prompt, one per line:
// "[2006-01-02] User: text". Bot messages are attributed to "You".
func FormatContext(memories []Message) string {
	var b strings.Builder
	for _, m := range memories {
		speaker := "User"
		if m.IsBot {
			speaker = "You"
		}
		date := time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02")
		fmt.Fprintf(&b, "[%s] %s: %s\n", date, speaker, m.Content)
	}
	return b.String()
}
