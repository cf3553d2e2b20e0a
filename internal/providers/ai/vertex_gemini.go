package ai

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"

	"github.com/shini559/Gaming-advisor/internal/models"
)

const (
	ocrPrompt = `Extract all visible text from this board game rulebook image.
Preserve the structure and hierarchy of the text. Ignore purely decorative elements.
If the image contains no readable text, answer with an empty string.`

	descriptionPrompt = `Describe precisely the visual elements of this board game image:
- type of content (board, cards, tokens, rules page)
- visible gameplay elements
- main colors and patterns
- symbols and icons
- art style
Be concise but detailed.`

	labelsPrompt = `Identify and label every game component visible in this image:
board, cards, tokens, dice, meeples, miniatures, text, rules, icons, symbols,
ui_elements, score_tracks, player_aids.
Answer with a single JSON object of the form
{"game_elements": [...], "concepts": [...]} and nothing else.`
)

// VertexGemini implements both Extractor and Generator on Gemini
// through the Vertex AI SDK.
type VertexGemini struct {
	client *vertexgenai.Client
	model  string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{client: c, model: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) Extract(ctx context.Context, imageBytes []byte, mime string, facets []models.Facet) (*Extraction, error) {
	if len(imageBytes) == 0 {
		return nil, Permanent(errors.New("empty image payload"))
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	out := &Extraction{}
	for _, f := range facets {
		var prompt string
		switch f {
		case models.FacetOCR:
			prompt = ocrPrompt
		case models.FacetDescription:
			prompt = descriptionPrompt
		case models.FacetLabels:
			prompt = labelsPrompt
		default:
			continue
		}

		text, err := v.generateOnce(ctx, prompt, []ImageData{{Data: imageBytes, MIME: mime}}, "")
		if err != nil {
			return nil, classify(err)
		}

		switch f {
		case models.FacetOCR:
			out.OCRText = strings.TrimSpace(text)
		case models.FacetDescription:
			out.Description = strings.TrimSpace(text)
		case models.FacetLabels:
			out.LabelsJSON = strings.TrimSpace(text)
			out.Labels = parseLabels(out.LabelsJSON)
		}
	}
	return out, nil
}

func (v *VertexGemini) Generate(ctx context.Context, system, prompt string, images []ImageData) (string, error) {
	text, err := v.generateOnce(ctx, prompt, images, system)
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func (v *VertexGemini) generateOnce(ctx context.Context, prompt string, images []ImageData, system string) (string, error) {
	m := v.client.GenerativeModel(v.model)
	m.SetTemperature(0.1)
	m.SetMaxOutputTokens(1500)
	if system != "" {
		m.SystemInstruction = &vertexgenai.Content{
			Parts: []vertexgenai.Part{vertexgenai.Text(system)},
		}
	}

	parts := make([]vertexgenai.Part, 0, len(images)+1)
	parts = append(parts, vertexgenai.Text(prompt))
	for _, img := range images {
		parts = append(parts, vertexgenai.Blob{MIMEType: img.MIME, Data: img.Data})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String(), nil
}

// classify maps SDK errors onto the transient/permanent taxonomy.
// Client-side input errors are permanent; rate limits, timeouts and
// server hiccups stay retryable.
func classify(err error) error {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 400, 404, 413, 415, 422:
			return Permanent(err)
		}
		return Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return Transient(err)
}

// parseLabels flattens the labels JSON into a plain list of label names.
// Falls back to comma splitting when the model did not return valid JSON.
func parseLabels(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var obj map[string][]string
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		var labels []string
		for _, vals := range obj {
			for _, v := range vals {
				if v = strings.TrimSpace(v); v != "" {
					labels = append(labels, v)
				}
			}
		}
		sort.Strings(labels)
		return labels
	}

	var labels []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			labels = append(labels, v)
		}
	}
	return labels
}
