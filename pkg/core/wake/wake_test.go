package wake

import "testing"

func TestMatcher_Contains(t *testing.T) {
	m := New()
	cases := []struct {
		in   string
		want bool
	}{
		{"Hey Mentra, what's this?", true},
		{"hey, mentra!", true},
		{"MENTRA what time is it", true},
		{"so I was mentioning that", false},
		{"commentary on the game", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := m.Contains(tc.in); got != tc.want {
			t.Fatalf("Contains(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMatcher_StripDropsLeadingSpeech(t *testing.T) {
	m := New()
	cases := []struct {
		in   string
		want string
	}{
		{"Hey Mentra, what's the weather?", "whats the weather"},
		{"blah blah hey mentra start notes", "start notes"},
		{"mentra", ""},
		{"no trigger here", "no trigger here"},
	}
	for _, tc := range cases {
		if got := m.Strip(tc.in); got != tc.want {
			t.Fatalf("Strip(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatcher_StripRemovesLongestPhrase(t *testing.T) {
	m := New()
	// "hey mentra" must strip as one phrase, not leave "mentra"-adjacent junk.
	if got := m.Strip("okay mentra take a note"); got != "take a note" {
		t.Fatalf("Strip=%q, want %q", got, "take a note")
	}
}

func TestMatcher_EndsWith(t *testing.T) {
	m := New()
	if !m.EndsWith("um so hey mentra") {
		t.Fatalf("expected trailing wake phrase to be detected")
	}
	if !m.EndsWith("Hey Mentra...") {
		t.Fatalf("expected punctuation-only tail to count as trailing")
	}
	if m.EndsWith("hey mentra what's up") {
		t.Fatalf("wake phrase mid-utterance is not trailing")
	}
}

func TestMatcher_IsCancellation(t *testing.T) {
	m := New()
	for _, in := range []string{"never mind", "Nevermind.", "cancel that please", "forget it"} {
		if !m.IsCancellation(in) {
			t.Fatalf("IsCancellation(%q)=false, want true", in)
		}
	}
	if m.IsCancellation("can you cancel my meeting tomorrow") {
		// "cancel" must lead the utterance to count as a bail-out.
		t.Fatalf("mid-sentence cancel should not abort")
	}
}

func TestAffirmativeNegative(t *testing.T) {
	if !IsAffirmative("Yes, please") || !IsAffirmative("yeah") {
		t.Fatalf("expected affirmative")
	}
	if !IsNegative("no thanks") || !IsNegative("Nope") {
		t.Fatalf("expected negative")
	}
	if IsAffirmative("not really") || IsNegative("yes") {
		t.Fatalf("misclassified")
	}
}
