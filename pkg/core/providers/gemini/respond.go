package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/dispatch"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

const (
	textResponderInstruction = "You are the voice of a pair of smart glasses. Answer in one or two " +
		"short spoken sentences, no markdown. When the request matches several installed apps, fill " +
		"the options list with every candidate and set action to the requested verb instead of choosing yourself."
	visionResponderInstruction = "You are the voice of a pair of smart glasses. The attached photo is " +
		"what the wearer currently sees. Answer in one or two short spoken sentences, no markdown."
)

// answerSchema is the structured contract with the responder: a typed
// answer plus an optional candidate list, never markers embedded in prose.
var answerSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"answer": {Type: genai.TypeString},
		"options": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"id":          {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"name"},
			},
		},
		"action": {Type: genai.TypeString},
	},
	Required: []string{"answer"},
}

type answerResult struct {
	Answer  string `json:"answer"`
	Options []struct {
		Name        string `json:"name"`
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"options"`
	Action string `json:"action"`
}

type responder struct {
	c      *Client
	vision bool
}

// TextResponder answers from the query and conversation history alone.
func (c *Client) TextResponder() dispatch.Responder { return responder{c: c} }

// VisionResponder attaches the captured photo as an inline image part.
func (c *Client) VisionResponder() dispatch.Responder { return responder{c: c, vision: true} }

func (r responder) Respond(ctx context.Context, req dispatch.Request) (types.Assistant, error) {
	instruction := textResponderInstruction
	if r.vision {
		instruction = visionResponderInstruction
	}
	contents := buildContents(req, r.vision)
	raw, err := r.c.generateJSON(ctx, instruction, contents, answerSchema)
	if err != nil {
		return types.Assistant{}, err
	}
	return parseAnswer(raw)
}

// buildContents folds conversation history into alternating user/model
// turns and closes with the current query, with the photo inline when the
// vision path is selected and a capture actually resolved.
func buildContents(req dispatch.Request, vision bool) []*genai.Content {
	contents := make([]*genai.Content, 0, 2*len(req.Turns)+1)
	for _, t := range req.Turns {
		contents = append(contents,
			genai.NewContentFromText(t.Query, genai.RoleUser),
			genai.NewContentFromText(t.Response, genai.RoleModel),
		)
	}
	parts := []*genai.Part{genai.NewPartFromText(req.Query)}
	if vision && req.Photo != nil && len(req.Photo.Bytes) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Photo.Bytes, req.Photo.MimeType))
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
}

func parseAnswer(raw []byte) (types.Assistant, error) {
	var res answerResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.Assistant{}, fmt.Errorf("gemini: answer: %w", err)
	}
	out := types.Assistant{
		Text:   strings.TrimSpace(res.Answer),
		Action: strings.TrimSpace(res.Action),
	}
	if out.Text == "" {
		return types.Assistant{}, fmt.Errorf("gemini: empty answer")
	}
	for _, o := range res.Options {
		if strings.TrimSpace(o.Name) == "" {
			continue
		}
		out.Options = append(out.Options, types.Candidate{
			Name:        strings.TrimSpace(o.Name),
			ID:          strings.TrimSpace(o.ID),
			Description: strings.TrimSpace(o.Description),
		})
	}
	return out, nil
}
