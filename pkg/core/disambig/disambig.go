// Package disambig resolves a free-form follow-up utterance against a
// previously offered list of candidates, e.g. picking "Notes [Dev]" out of
// "Notes", "Notes [Dev]", "Notes [Beta]" from an utterance like "the dev
// one". Matching is a deterministic ordered multi-pass over the cleaned
// utterance; earlier passes always win.
package disambig

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

// TTL is how long a pending offer stays resolvable.
const TTL = 2 * time.Minute

// Pending records that the assistant asked the user to choose.
type Pending struct {
	Request    string
	Candidates []types.Candidate
	Action     types.Action
	CreatedAt  time.Time
}

// Expired reports whether the offer has outlived its TTL at the given time.
func (p *Pending) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) >= TTL
}

// State holds at most one pending offer per session. Creating a new offer
// silently replaces the old one.
type State struct {
	mu      sync.Mutex
	pending *Pending
	now     func() time.Time
}

func NewState() *State {
	return &State{now: time.Now}
}

// Offer installs a new pending disambiguation, replacing any prior one.
func (s *State) Offer(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = s.now()
	s.pending = &p
}

// Take returns the live pending offer, or nil. An expired offer is discarded
// as a side effect, so a lapsed choice can never fire its action.
func (s *State) Take() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	if s.pending.Expired(s.now()) {
		s.pending = nil
		return nil
	}
	return s.pending
}

// Clear drops the pending offer.
func (s *State) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Resolve runs the ordered passes and, on a match, clears the pending offer
// before returning so a duplicate utterance cannot double-fire the action.
// A miss leaves the offer intact for another attempt.
func (s *State) Resolve(utterance string) (types.Candidate, *Pending, bool) {
	p := s.Take()
	if p == nil {
		return types.Candidate{}, nil, false
	}
	c, ok := Match(utterance, p.Candidates)
	if !ok {
		return types.Candidate{}, nil, false
	}
	s.Clear()
	return c, p, true
}

// DetectOffer inspects a responder's structured result and, when it poses a
// choice among at least two named candidates with a recognized action verb,
// returns the Pending record to install.
func DetectOffer(request string, resp types.Assistant) (Pending, bool) {
	if len(resp.Options) < 2 {
		return Pending{}, false
	}
	action, ok := types.ParseAction(resp.Action)
	if !ok {
		return Pending{}, false
	}
	seen := make(map[string]struct{}, len(resp.Options))
	candidates := make([]types.Candidate, 0, len(resp.Options))
	for _, c := range resp.Options {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.Name = name
		candidates = append(candidates, c)
	}
	if len(candidates) < 2 {
		return Pending{}, false
	}
	return Pending{Request: request, Candidates: candidates, Action: action}, true
}

var ordinals = map[string]int{
	"first": 0, "1": 0, "1st": 0,
	"second": 1, "2": 1, "2nd": 1,
	"third": 2, "3": 2, "3rd": 2,
	"fourth": 3, "4": 3, "4th": 3,
	"fifth": 4, "5": 4, "5th": 4,
}

var devMarkers = []string{"dev", "development"}
var betaMarkers = []string{"beta", "test"}

// Match maps the utterance onto one of the candidates. Passes, in order:
// ordinal, the word "regular", qualifier substring, qualifier keyword,
// exact name, containment (qualifier-bearing candidates first when the
// utterance itself mentions a qualifier keyword).
func Match(utterance string, candidates []types.Candidate) (types.Candidate, bool) {
	if len(candidates) == 0 {
		return types.Candidate{}, false
	}
	cleaned := clean(utterance)
	if cleaned == "" {
		return types.Candidate{}, false
	}
	tokens := strings.Fields(cleaned)

	// Pass 1: ordinal reference.
	for _, tok := range tokens {
		if idx, ok := ordinals[tok]; ok {
			if idx < len(candidates) {
				return candidates[idx], true
			}
		}
	}

	// Pass 2: "regular" means the unqualified, non-dev/beta candidate.
	if hasToken(tokens, "regular") {
		for _, c := range candidates {
			if qualifier(c.Name) == "" && !nameHasMarker(c.Name) {
				return c, true
			}
		}
		return candidates[0], true
	}

	// Pass 3: exact qualifier substring. Runs before looser matching so a
	// qualifier mention is never shadowed by a base-name match.
	for _, c := range candidates {
		q := clean(qualifier(c.Name))
		if q != "" && strings.Contains(cleaned, q) {
			return c, true
		}
	}

	// Pass 4: qualifier keywords.
	if containsAny(tokens, devMarkers) {
		for _, c := range candidates {
			if markerIn(c.Name, devMarkers) {
				return c, true
			}
		}
	}
	if containsAny(tokens, betaMarkers) {
		for _, c := range candidates {
			if markerIn(c.Name, betaMarkers) {
				return c, true
			}
		}
	}

	// Pass 5: exact equality with the full name or the name sans qualifiers.
	for _, c := range candidates {
		if cleaned == clean(c.Name) || cleaned == clean(baseName(c.Name)) {
			return c, true
		}
	}

	// Pass 6: containment. A qualifier mention in the utterance promotes
	// qualified candidates so a short base name cannot steal the match.
	ordered := make([]types.Candidate, len(candidates))
	copy(ordered, candidates)
	if containsAny(tokens, devMarkers) || containsAny(tokens, betaMarkers) {
		sort.SliceStable(ordered, func(i, j int) bool {
			return qualifier(ordered[i].Name) != "" && qualifier(ordered[j].Name) == ""
		})
	}
	for _, c := range ordered {
		if full := clean(c.Name); full != "" && strings.Contains(cleaned, full) {
			return c, true
		}
	}

	return types.Candidate{}, false
}

// qualifier returns the text inside the first bracketed segment of a
// display name, e.g. "Dev" for "Notes [Dev]".
func qualifier(name string) string {
	open := strings.Index(name, "[")
	if open < 0 {
		return ""
	}
	end := strings.Index(name[open:], "]")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(name[open+1 : open+end])
}

// baseName strips every bracketed qualifier from a display name.
func baseName(name string) string {
	out := name
	for {
		open := strings.Index(out, "[")
		if open < 0 {
			break
		}
		end := strings.Index(out[open:], "]")
		if end < 0 {
			break
		}
		out = out[:open] + out[open+end+1:]
	}
	return strings.TrimSpace(out)
}

func nameHasMarker(name string) bool {
	return markerIn(name, devMarkers) || markerIn(name, betaMarkers)
}

func markerIn(name string, markers []string) bool {
	toks := strings.Fields(clean(name))
	return containsAny(toks, markers)
}

func containsAny(tokens []string, words []string) bool {
	for _, w := range words {
		if hasToken(tokens, w) {
			return true
		}
	}
	return false
}

func hasToken(tokens []string, word string) bool {
	for _, t := range tokens {
		if t == word {
			return true
		}
	}
	return false
}

// clean lowercases and strips punctuation while keeping digits, so "the
// [Dev] one!" and "the dev one" compare equal.
func clean(text string) string {
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
