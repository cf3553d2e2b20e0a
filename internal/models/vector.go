package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Facet is one of the three independent knowledge extractions per image.
type Facet string

const (
	FacetOCR         Facet = "ocr"
	FacetDescription Facet = "description"
	FacetLabels      Facet = "labels"
)

func (f Facet) Valid() bool {
	switch f {
	case FacetOCR, FacetDescription, FacetLabels:
		return true
	}
	return false
}

// EmbeddingColumn returns the embedding and content column names backing
// the facet, used to build similarity queries.
func (f Facet) EmbeddingColumn() (embedding, content string) {
	switch f {
	case FacetOCR:
		return "ocr_embedding", "ocr_content"
	case FacetDescription:
		return "description_embedding", "description_content"
	default:
		return "labels_embedding", "labels_content"
	}
}

// KnowledgeVector holds the extracted knowledge for one image as three
// optional (content, embedding) pairs. Each image owns at most one row;
// reprocessing after a crash or a batch retry replaces it.
type KnowledgeVector struct {
	ID      string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GameID  string `gorm:"column:game_id;type:uuid;index" json:"game_id"`
	ImageID string `gorm:"column:image_id;type:uuid;uniqueIndex" json:"image_id"`

	OCRContent   string          `gorm:"column:ocr_content;type:text" json:"ocr_content,omitempty"`
	OCREmbedding pgvector.Vector `gorm:"column:ocr_embedding;type:vector(1536)" json:"-"`

	DescriptionContent   string          `gorm:"column:description_content;type:text" json:"description_content,omitempty"`
	DescriptionEmbedding pgvector.Vector `gorm:"column:description_embedding;type:vector(1536)" json:"-"`

	LabelsContent   string          `gorm:"column:labels_content;type:text" json:"labels_content,omitempty"`
	LabelsEmbedding pgvector.Vector `gorm:"column:labels_embedding;type:vector(1536)" json:"-"`

	Labels pq.StringArray `gorm:"column:labels;type:text[]" json:"labels,omitempty"`

	PageNumber int       `gorm:"column:page_number;type:integer" json:"page_number"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`

	// Similarity is populated by search queries only, never stored.
	Similarity float64 `gorm:"->;-:migration" json:"similarity,omitempty"`
}

func (KnowledgeVector) TableName() string { return "knowledge_vectors" }

func (v *KnowledgeVector) ContentFor(f Facet) string {
	switch f {
	case FacetOCR:
		return v.OCRContent
	case FacetDescription:
		return v.DescriptionContent
	case FacetLabels:
		return v.LabelsContent
	}
	return ""
}

func (v *KnowledgeVector) HasFacet(f Facet) bool {
	switch f {
	case FacetOCR:
		return v.OCRContent != "" && len(v.OCREmbedding.Slice()) > 0
	case FacetDescription:
		return v.DescriptionContent != "" && len(v.DescriptionEmbedding.Slice()) > 0
	case FacetLabels:
		return v.LabelsContent != "" && len(v.LabelsEmbedding.Slice()) > 0
	}
	return false
}

// Usable reports whether retrieval can surface this vector at all:
// at least one facet pair must be present.
func (v *KnowledgeVector) Usable() bool {
	return v.HasFacet(FacetOCR) || v.HasFacet(FacetDescription) || v.HasFacet(FacetLabels)
}
