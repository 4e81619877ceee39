// Package gemini implements the classifier and responder collaborators on
// top of the Google Gemini API, using structured output so labels and
// choice offers come back typed instead of as markers embedded in prose.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

const (
	// DefaultModel balances latency against answer quality for a
	// wearable's conversational loop.
	DefaultModel = "gemini-2.0-flash"

	memoryInstruction = "Classify the user's utterance against the recent conversation. " +
		"Label 'recall' if it asks about something already discussed, " +
		"'vision_retry' if it asks to retry or redo a previous visual request, " +
		"'none' otherwise."
	toolInstruction = "Decide whether the utterance asks the assistant to act on or inspect " +
		"the device's apps, settings, or integrations right now, rather than asking a general question."
	visionInstruction = "Decide whether answering requires seeing what the user currently sees. " +
		"Label 'yes' when the utterance references the visible scene, 'no' when text alone can answer, " +
		"'unsure' when it is genuinely ambiguous."
	followUpInstruction = "The assistant just answered and is holding the microphone open. " +
		"Label the user's next utterance: 'continue' for a further request, " +
		"'closing' for thanks or goodbye, 'cancel' for never-mind dismissals."
)

type Config struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

// Client wraps one Gemini API client and exposes every collaborator the
// session core consumes.
type Client struct {
	api    *genai.Client
	model  string
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{api: api, model: cfg.Model, logger: cfg.Logger}, nil
}

var labelSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"label": {Type: genai.TypeString},
	},
	Required: []string{"label"},
}

var boolSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"match": {Type: genai.TypeBoolean},
	},
	Required: []string{"match"},
}

type labelResult struct {
	Label string `json:"label"`
}

type boolResult struct {
	Match bool `json:"match"`
}

// ClassifyMemory labels an utterance as conversation recall, a retry of a
// previous visual query, or neither.
func (c *Client) ClassifyMemory(ctx context.Context, text string, turns []types.Turn) (types.MemoryLabel, error) {
	prompt := memoryPrompt(text, turns)
	raw, err := c.generateJSON(ctx, memoryInstruction, genai.Text(prompt), labelSchema)
	if err != nil {
		return types.MemoryNone, err
	}
	var res labelResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.MemoryNone, fmt.Errorf("gemini: memory label: %w", err)
	}
	return parseMemoryLabel(res.Label)
}

// ClassifyTool reports whether the utterance targets a device capability.
func (c *Client) ClassifyTool(ctx context.Context, text string) (bool, error) {
	raw, err := c.generateJSON(ctx, toolInstruction, genai.Text(text), boolSchema)
	if err != nil {
		return false, err
	}
	var res boolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("gemini: tool label: %w", err)
	}
	return res.Match, nil
}

// ClassifyVision labels whether answering needs current visual input.
func (c *Client) ClassifyVision(ctx context.Context, text string) (types.VisionLabel, error) {
	raw, err := c.generateJSON(ctx, visionInstruction, genai.Text(text), labelSchema)
	if err != nil {
		return types.VisionNo, err
	}
	var res labelResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.VisionNo, fmt.Errorf("gemini: vision label: %w", err)
	}
	return parseVisionLabel(res.Label)
}

// ClassifyFollowUp labels a follow-up window utterance.
func (c *Client) ClassifyFollowUp(ctx context.Context, text string) (types.FollowUpLabel, error) {
	raw, err := c.generateJSON(ctx, followUpInstruction, genai.Text(text), labelSchema)
	if err != nil {
		return types.FollowUpContinue, err
	}
	var res labelResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.FollowUpContinue, fmt.Errorf("gemini: follow-up label: %w", err)
	}
	return parseFollowUpLabel(res.Label)
}

func (c *Client) generateJSON(ctx context.Context, instruction string, contents []*genai.Content, schema *genai.Schema) ([]byte, error) {
	resp, err := c.api.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: empty structured response")
	}
	return []byte(text), nil
}

// memoryPrompt folds the recent turns into the classification prompt so
// "what did you say" can be resolved against actual context.
func memoryPrompt(text string, turns []types.Turn) string {
	if len(turns) == 0 {
		return "Utterance: " + text
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.Query)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Response)
		b.WriteString("\n")
	}
	b.WriteString("Utterance: ")
	b.WriteString(text)
	return b.String()
}

func parseMemoryLabel(raw string) (types.MemoryLabel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "recall":
		return types.MemoryRecall, nil
	case "vision_retry", "retry":
		return types.MemoryRetry, nil
	case "none", "":
		return types.MemoryNone, nil
	default:
		return types.MemoryNone, fmt.Errorf("gemini: unknown memory label %q", raw)
	}
}

func parseVisionLabel(raw string) (types.VisionLabel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes":
		return types.VisionYes, nil
	case "no", "":
		return types.VisionNo, nil
	case "unsure", "uncertain":
		return types.VisionUnsure, nil
	default:
		return types.VisionNo, fmt.Errorf("gemini: unknown vision label %q", raw)
	}
}

func parseFollowUpLabel(raw string) (types.FollowUpLabel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "continue", "":
		return types.FollowUpContinue, nil
	case "closing", "close":
		return types.FollowUpClosing, nil
	case "cancel":
		return types.FollowUpCancel, nil
	default:
		return types.FollowUpContinue, fmt.Errorf("gemini: unknown follow-up label %q", raw)
	}
}
