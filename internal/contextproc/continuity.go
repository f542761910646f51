package contextproc

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/cases"
)

// continuationMarkers is the closed set of utterances that mean "keep
// going" rather than a new topic.
var continuationMarkers = map[string]struct{}{
	"continue":        {},
	"go on":           {},
	"please continue": {},
	"keep going":      {},
	"say more":        {},
}

// topicTailGraphemes is how much of the last assistant turn stands in
// for the topic when no usable user turn exists.
const topicTailGraphemes = 20

// fold normalizes text for marker comparison. Casers are stateful, so
// each call gets its own.
func fold(text string) string {
	return cases.Fold().String(strings.TrimSpace(text))
}

// IsContinuationMarker reports whether text is a continuation marker,
// ignoring case and surrounding space.
func IsContinuationMarker(text string) bool {
	_, ok := continuationMarkers[fold(text)]
	return ok
}

// DetectContinuation decides whether latest asks to continue the prior
// topic, and resolves that topic. The topic is the most recent user
// turn longer than one grapheme that is not itself a marker; when no
// such turn exists, the head of the last assistant turn stands in.
func DetectContinuation(history []HistoryTurn, latest string) (string, bool) {
	if !IsContinuationMarker(latest) {
		return "", false
	}

	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if !isUserSpeaker(turn.Speaker) {
			continue
		}
		text := strings.TrimSpace(turn.Text)
		if uniseg.GraphemeClusterCount(text) <= 1 || IsContinuationMarker(text) {
			continue
		}
		return text, true
	}
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if !isAssistantSpeaker(turn.Speaker) {
			continue
		}
		if text := strings.TrimSpace(turn.Text); text != "" {
			return firstGraphemes(text, topicTailGraphemes), true
		}
	}
	return "", true
}

// ContinuationDirective renders the instruction that keeps the model on
// the prior topic.
func ContinuationDirective(topic string) string {
	if topic == "" {
		return "the user asked to continue: keep expanding the most recent topic and do not start a new one."
	}
	return fmt.Sprintf("the user asked to continue: keep expanding the previous topic %q and do not start a new one.", topic)
}

func isUserSpeaker(speaker string) bool {
	switch fold(speaker) {
	case "user", "human":
		return true
	}
	return false
}

func isAssistantSpeaker(speaker string) bool {
	switch fold(speaker) {
	case "assistant", "ai":
		return true
	}
	return false
}

// firstGraphemes returns the prefix of s holding at most n grapheme
// clusters, never splitting a cluster.
func firstGraphemes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	g := uniseg.NewGraphemes(s)
	end := 0
	count := 0
	for g.Next() {
		count++
		_, end = g.Positions()
		if count == n {
			break
		}
	}
	return s[:end]
}

// capGraphemes truncates s to at most max grapheme clusters; max <= 0
// means unbounded.
func capGraphemes(s string, max int) string {
	if max <= 0 || uniseg.GraphemeClusterCount(s) <= max {
		return s
	}
	return firstGraphemes(s, max)
}
