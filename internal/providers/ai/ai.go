package ai

import (
	"context"

	"github.com/shini559/Gaming-advisor/internal/models"
)

// Extraction is the multimodal knowledge pulled out of one image.
// Any facet may be empty when it is disabled or the model returned nothing.
type Extraction struct {
	OCRText     string
	Description string
	LabelsJSON  string
	Labels      []string
}

// ImageData is an inline image attached to a generation request.
type ImageData struct {
	Data []byte
	MIME string
}

// Extractor turns one image into recognized text, a visual description
// and structured labels.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte, mime string, facets []models.Facet) (*Extraction, error)
}

// Embedder maps text into the fixed-dimension embedding space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a natural-language answer from a system instruction,
// an assembled prompt and optional inline images.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, images []ImageData) (string, error)
}
