package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	summarySeparator = "\n\n"

	fallbackPrefix   = "Previous conversation included discussion about: "
	fallbackMaxRunes = 200
)

// Transcript renders turns as plain dialogue text for summarization.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", t.UserText, t.AssistantText)
	}
	return b.String()
}

// FallbackFragment derives a deterministic summary substitute from evicted
// turns when the summarizer is unavailable.
func FallbackFragment(evicted []Turn) string {
	return fallbackPrefix + truncateRunes(Transcript(evicted), fallbackMaxRunes) + "..."
}

// mergeSummary applies the accumulation policy: first fragment replaces the
// empty summary, later fragments append.
func mergeSummary(prior, fragment string) string {
	if prior == "" {
		return fragment
	}
	return prior + summarySeparator + fragment
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
