package gemini

import (
	"strings"
	"testing"
	"time"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/dispatch"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

func TestParseMemoryLabel(t *testing.T) {
	cases := []struct {
		raw     string
		want    types.MemoryLabel
		wantErr bool
	}{
		{"recall", types.MemoryRecall, false},
		{"vision_retry", types.MemoryRetry, false},
		{"retry", types.MemoryRetry, false},
		{"none", types.MemoryNone, false},
		{" Recall ", types.MemoryRecall, false},
		{"", types.MemoryNone, false},
		{"banana", types.MemoryNone, true},
	}
	for _, tc := range cases {
		got, err := parseMemoryLabel(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseMemoryLabel(%q) err=%v, wantErr=%v", tc.raw, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("parseMemoryLabel(%q)=%v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseVisionLabel(t *testing.T) {
	cases := []struct {
		raw  string
		want types.VisionLabel
	}{
		{"yes", types.VisionYes},
		{"no", types.VisionNo},
		{"unsure", types.VisionUnsure},
		{"uncertain", types.VisionUnsure},
		{"YES", types.VisionYes},
	}
	for _, tc := range cases {
		got, err := parseVisionLabel(tc.raw)
		if err != nil {
			t.Fatalf("parseVisionLabel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseVisionLabel(%q)=%v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := parseVisionLabel("maybe"); err == nil {
		t.Fatalf("unknown label must error")
	}
}

func TestParseFollowUpLabel(t *testing.T) {
	if got, err := parseFollowUpLabel("closing"); err != nil || got != types.FollowUpClosing {
		t.Fatalf("got %v, %v", got, err)
	}
	if got, err := parseFollowUpLabel("cancel"); err != nil || got != types.FollowUpCancel {
		t.Fatalf("got %v, %v", got, err)
	}
	// Unknown labels fall back to continue so the turn still proceeds.
	if got, _ := parseFollowUpLabel("???"); got != types.FollowUpContinue {
		t.Fatalf("got %v, want continue fallback", got)
	}
}

func TestMemoryPromptIncludesTurns(t *testing.T) {
	turns := []types.Turn{
		{Query: "what's the weather", Response: "Sunny, 20 degrees.", At: time.Now()},
	}
	prompt := memoryPrompt("what did you just say", turns)
	for _, want := range []string{"what's the weather", "Sunny, 20 degrees.", "what did you just say"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if got := memoryPrompt("hello", nil); got != "Utterance: hello" {
		t.Fatalf("empty-history prompt=%q", got)
	}
}

func TestBuildContentsAttachesPhotoOnlyOnVisionPath(t *testing.T) {
	req := dispatch.Request{
		Query: "what is this",
		Turns: []types.Turn{{Query: "hi", Response: "Hello."}},
		Photo: &types.Photo{Bytes: []byte{0x1, 0x2}, MimeType: "image/jpeg"},
	}

	withPhoto := buildContents(req, true)
	// Two history contents plus one closing user content.
	if len(withPhoto) != 3 {
		t.Fatalf("contents=%d, want 3", len(withPhoto))
	}
	last := withPhoto[len(withPhoto)-1]
	if len(last.Parts) != 2 {
		t.Fatalf("vision parts=%d, want text+image", len(last.Parts))
	}
	if last.Parts[1].InlineData == nil || last.Parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("second part is not the inline photo: %+v", last.Parts[1])
	}

	withoutPhoto := buildContents(req, false)
	last = withoutPhoto[len(withoutPhoto)-1]
	if len(last.Parts) != 1 {
		t.Fatalf("text path parts=%d, want query only", len(last.Parts))
	}
}

func TestBuildContentsToleratesUnresolvedPhoto(t *testing.T) {
	req := dispatch.Request{Query: "what is this"}
	contents := buildContents(req, true)
	last := contents[len(contents)-1]
	if len(last.Parts) != 1 {
		t.Fatalf("missing capture must degrade to text-only, parts=%d", len(last.Parts))
	}
}

func TestParseAnswer(t *testing.T) {
	raw := []byte(`{"answer":"I found two apps named Notes. Which one?","options":[{"name":"Notes","id":"notes"},{"name":"Notes [Dev]","id":"notes.dev"},{"name":"  "}],"action":"start"}`)
	got, err := parseAnswer(raw)
	if err != nil {
		t.Fatalf("parseAnswer: %v", err)
	}
	if got.Text == "" || got.Action != "start" {
		t.Fatalf("got=%+v", got)
	}
	if len(got.Options) != 2 || got.Options[1].ID != "notes.dev" {
		t.Fatalf("options=%+v, want blank names dropped", got.Options)
	}

	if _, err := parseAnswer([]byte(`{"answer":""}`)); err == nil {
		t.Fatalf("empty answer must error")
	}
	if _, err := parseAnswer([]byte(`not json`)); err == nil {
		t.Fatalf("malformed json must error")
	}
}
