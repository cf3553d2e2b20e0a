package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/shini559/Gaming-advisor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VectorRepository interface {
	Insert(ctx context.Context, v *models.KnowledgeVector) error
	GetByImage(ctx context.Context, imageID string) ([]models.KnowledgeVector, error)
	SearchByFacet(ctx context.Context, gameID string, facet models.Facet, query []float32, k int, threshold float64) ([]models.KnowledgeVector, error)
}

type vectorRepo struct {
	db *gorm.DB
}

func NewVectorRepo(db *gorm.DB) VectorRepository {
	return &vectorRepo{db: db}
}

// nonEmbeddingColumns is what reads select; embedding columns are written
// once and only ever used server-side by the <=> operator.
const nonEmbeddingColumns = "id, game_id, image_id, ocr_content, description_content, labels_content, labels, page_number, created_at"

func (r *vectorRepo) Insert(ctx context.Context, v *models.KnowledgeVector) error {
	// Absent facet pairs keep their embedding column NULL so similarity
	// queries can exclude them.
	omit := []string{"similarity"}
	if !v.HasFacet(models.FacetOCR) {
		omit = append(omit, "ocr_embedding")
	}
	if !v.HasFacet(models.FacetDescription) {
		omit = append(omit, "description_embedding")
	}
	if !v.HasFacet(models.FacetLabels) {
		omit = append(omit, "labels_embedding")
	}
	// Redelivered jobs replace the image's row instead of accumulating
	// duplicates.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "image_id"}}, UpdateAll: true}).
		Omit(omit...).Create(v).Error
}

func (r *vectorRepo) GetByImage(ctx context.Context, imageID string) ([]models.KnowledgeVector, error) {
	var rows []models.KnowledgeVector
	err := r.db.WithContext(ctx).
		Select(nonEmbeddingColumns).
		Where("image_id = ?", imageID).
		Order("page_number ASC, created_at ASC").
		Find(&rows).Error
	return rows, err
}

// SearchByFacet runs a cosine nearest-neighbor query over one facet,
// scoped to a game and restricted to vectors where that facet pair is
// present. Results come back ordered by descending similarity with ties
// broken by ascending page number; everything below the threshold is
// filtered server-side.
func (r *vectorRepo) SearchByFacet(ctx context.Context, gameID string, facet models.Facet, query []float32, k int, threshold float64) ([]models.KnowledgeVector, error) {
	if !facet.Valid() {
		return nil, fmt.Errorf("unknown facet %q", facet)
	}
	if k <= 0 {
		k = 5
	}

	embCol, contentCol := facet.EmbeddingColumn()
	qv := pgvector.NewVector(query)

	sql := fmt.Sprintf(`
		SELECT %s, 1 - (%s <=> ?) AS similarity
		FROM knowledge_vectors
		WHERE game_id = ?
		  AND %s IS NOT NULL
		  AND %s <> ''
		  AND 1 - (%s <=> ?) >= ?
		ORDER BY similarity DESC, page_number ASC
		LIMIT ?`, nonEmbeddingColumns, embCol, embCol, contentCol, embCol)

	var rows []models.KnowledgeVector
	err := r.db.WithContext(ctx).
		Raw(sql, qv, gameID, qv, threshold, k).
		Scan(&rows).Error
	return rows, err
}
