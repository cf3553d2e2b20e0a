package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shini559/Gaming-advisor/internal/models"
)

// Settings carries every pipeline and retrieval knob explicitly. It is
// validated once at startup and handed to the components that need it;
// nothing reads behavior flags from the environment afterwards.
type Settings struct {
	// batch pipeline
	BatchMaxRetries      int
	BatchParallelWorkers int
	JobMaxAttempts       int
	CapabilityTimeout    time.Duration
	ExtractionFacets     []models.Facet

	// retrieval
	RetrievalFacet               models.Facet
	RetrievalTopK                int
	RetrievalSimilarityThreshold float64
	GenerationContentFacets      []models.Facet
	GenerationIncludeImages      bool
	GenerationMaxContextLength   int

	// capabilities
	VertexProjectID     string
	VertexLocation      string
	VertexModel         string
	EmbeddingHost       string
	EmbeddingToken      string
	EmbeddingModel      string
	EmbeddingDimensions int

	// infrastructure
	GCSBucket string
	JWTSecret string
}

func Load() (*Settings, error) {
	s := &Settings{
		BatchMaxRetries:              envInt("BATCH_MAX_RETRIES", 3),
		BatchParallelWorkers:         envInt("BATCH_PARALLEL_WORKERS", 5),
		JobMaxAttempts:               envInt("JOB_MAX_ATTEMPTS", 3),
		CapabilityTimeout:            time.Duration(envInt("CAPABILITY_TIMEOUT_SECONDS", 60)) * time.Second,
		ExtractionFacets:             parseFacets(os.Getenv("EXTRACTION_FACETS"), allFacets()),
		RetrievalFacet:               models.Facet(envStr("RETRIEVAL_FACET", string(models.FacetOCR))),
		RetrievalTopK:                envInt("RETRIEVAL_TOP_K", 5),
		RetrievalSimilarityThreshold: envFloat("RETRIEVAL_SIMILARITY_THRESHOLD", 0.7),
		GenerationContentFacets:      parseFacets(os.Getenv("GENERATION_CONTENT_FACETS"), nil),
		GenerationIncludeImages:      envBool("GENERATION_INCLUDE_IMAGES", false),
		GenerationMaxContextLength:   envInt("GENERATION_MAX_CONTEXT_LENGTH", 12000),
		VertexProjectID:              os.Getenv("VERTEX_PROJECT_ID"),
		VertexLocation:               envStr("VERTEX_LOCATION", "us-central1"),
		VertexModel:                  envStr("VERTEX_MODEL", "gemini-1.5-flash"),
		EmbeddingHost:                envStr("EMBEDDING_HOST", "https://api.openai.com/v1"),
		EmbeddingToken:               os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:               envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:          envInt("EMBEDDING_DIMENSIONS", 1536),
		GCSBucket:                    os.Getenv("GCS_BUCKET"),
		JWTSecret:                    os.Getenv("JWT_SECRET"),
	}
	if len(s.GenerationContentFacets) == 0 {
		s.GenerationContentFacets = []models.Facet{s.RetrievalFacet}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.BatchMaxRetries < 0 {
		return fmt.Errorf("BATCH_MAX_RETRIES must be >= 0, got %d", s.BatchMaxRetries)
	}
	if s.BatchParallelWorkers < 1 {
		return fmt.Errorf("BATCH_PARALLEL_WORKERS must be >= 1, got %d", s.BatchParallelWorkers)
	}
	if s.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1, got %d", s.JobMaxAttempts)
	}
	if !s.RetrievalFacet.Valid() {
		return fmt.Errorf("RETRIEVAL_FACET must be one of ocr, description, labels; got %q", s.RetrievalFacet)
	}
	if s.RetrievalTopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be >= 1, got %d", s.RetrievalTopK)
	}
	if s.RetrievalSimilarityThreshold < 0 || s.RetrievalSimilarityThreshold > 1 {
		return fmt.Errorf("RETRIEVAL_SIMILARITY_THRESHOLD must be in [0,1], got %g", s.RetrievalSimilarityThreshold)
	}
	if s.GenerationMaxContextLength <= 0 {
		return fmt.Errorf("GENERATION_MAX_CONTEXT_LENGTH must be > 0, got %d", s.GenerationMaxContextLength)
	}
	if len(s.ExtractionFacets) == 0 {
		return fmt.Errorf("EXTRACTION_FACETS must enable at least one facet")
	}
	for _, f := range s.ExtractionFacets {
		if !f.Valid() {
			return fmt.Errorf("invalid extraction facet %q", f)
		}
	}
	if len(s.GenerationContentFacets) == 0 {
		return fmt.Errorf("GENERATION_CONTENT_FACETS must name at least one facet")
	}
	for _, f := range s.GenerationContentFacets {
		if !f.Valid() {
			return fmt.Errorf("invalid generation content facet %q", f)
		}
	}
	if s.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1, got %d", s.EmbeddingDimensions)
	}
	return nil
}

func allFacets() []models.Facet {
	return []models.Facet{models.FacetOCR, models.FacetDescription, models.FacetLabels}
}

func parseFacets(csv string, fallback []models.Facet) []models.Facet {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return fallback
	}
	var out []models.Facet
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.Facet(part))
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
