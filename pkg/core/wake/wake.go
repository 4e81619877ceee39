// Package wake detects and strips wake phrases from transcribed text.
package wake

import (
	"strings"
	"unicode"
)

// DefaultPhrases are the trigger phrases recognized out of the box. Longer
// phrases are listed first so stripping removes the most specific match.
var DefaultPhrases = []string{
	"hey mentra",
	"ok mentra",
	"okay mentra",
	"mentra",
}

var cancelPhrases = []string{
	"never mind",
	"nevermind",
	"forget it",
	"cancel that",
	"cancel",
	"stop listening",
}

// Matcher recognizes wake and cancellation phrases in noisy ASR output.
// The zero value is not usable; call New.
type Matcher struct {
	phrases []string
}

func New(phrases ...string) *Matcher {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	cleaned := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalize(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Matcher{phrases: cleaned}
}

// Contains reports whether text mentions any wake phrase.
func (m *Matcher) Contains(text string) bool {
	norm := normalize(text)
	for _, p := range m.phrases {
		if containsPhrase(norm, p) {
			return true
		}
	}
	return false
}

// Strip removes everything up to and including the first wake phrase and
// returns the remainder. Speech before the wake phrase is discarded: the
// user only addressed the assistant from the trigger onward. If no wake
// phrase is present the normalized text is returned unchanged.
func (m *Matcher) Strip(text string) string {
	norm := normalize(text)
	words := strings.Fields(norm)
	for i := range words {
		for _, p := range m.phrases {
			plen := len(strings.Fields(p))
			if i+plen <= len(words) && strings.Join(words[i:i+plen], " ") == p {
				return strings.Join(words[i+plen:], " ")
			}
		}
	}
	return norm
}

// EndsWith reports whether the normalized text ends with a wake phrase,
// which signals the user paused right after the trigger and will keep
// talking.
func (m *Matcher) EndsWith(text string) bool {
	norm := normalize(text)
	for _, p := range m.phrases {
		if norm == p || strings.HasSuffix(norm, " "+p) {
			return true
		}
	}
	return false
}

// IsCancellation reports whether the utterance is a bail-out phrase.
func (m *Matcher) IsCancellation(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	for _, p := range cancelPhrases {
		if norm == p || strings.HasPrefix(norm, p+" ") {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether the utterance reads as a yes.
func IsAffirmative(text string) bool {
	switch firstWord(text) {
	case "yes", "yeah", "yep", "yup", "sure", "ok", "okay", "please", "affirmative", "correct":
		return true
	}
	return false
}

// IsNegative reports whether the utterance reads as a no.
func IsNegative(text string) bool {
	switch firstWord(text) {
	case "no", "nope", "nah", "negative", "dont", "never":
		return true
	}
	return false
}

func firstWord(text string) string {
	fields := strings.Fields(normalize(text))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func containsPhrase(norm, phrase string) bool {
	idx := strings.Index(norm, phrase)
	for idx >= 0 {
		beforeOK := idx == 0 || norm[idx-1] == ' '
		end := idx + len(phrase)
		afterOK := end == len(norm) || norm[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(norm[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

// normalize lowercases and drops punctuation so "Hey, Mentra!" matches
// "hey mentra".
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
