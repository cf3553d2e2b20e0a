package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/providers/ai"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

type fakeVectorRepo struct {
	results []models.KnowledgeVector
	byImage map[string][]models.KnowledgeVector
	err     error

	gotGameID    string
	gotFacet     models.Facet
	gotK         int
	gotThreshold float64
}

func (f *fakeVectorRepo) Insert(ctx context.Context, v *models.KnowledgeVector) error { return nil }
func (f *fakeVectorRepo) GetByImage(ctx context.Context, imageID string) ([]models.KnowledgeVector, error) {
	return f.byImage[imageID], nil
}
func (f *fakeVectorRepo) SearchByFacet(ctx context.Context, gameID string, facet models.Facet, query []float32, k int, threshold float64) ([]models.KnowledgeVector, error) {
	f.gotGameID = gameID
	f.gotFacet = facet
	f.gotK = k
	f.gotThreshold = threshold
	return f.results, f.err
}

type fakeImageRepo struct {
	images       map[string]*models.GameImage
	inserted     []*models.GameImage
	insertErr    error
	resetReturns []models.GameImage
	resetErr     error
}

func (f *fakeImageRepo) InsertAll(ctx context.Context, images []*models.GameImage) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, images...)
	return nil
}
func (f *fakeImageRepo) GetByID(ctx context.Context, id string) (*models.GameImage, error) {
	if img, ok := f.images[id]; ok {
		return img, nil
	}
	return nil, utils.ErrNotFound
}
func (f *fakeImageRepo) MarkProcessing(ctx context.Context, id string, retryCount int) error {
	return nil
}
func (f *fakeImageRepo) ResetFailedForRetry(ctx context.Context, batchID string) ([]models.GameImage, error) {
	return f.resetReturns, f.resetErr
}
func (f *fakeImageRepo) ListStalled(ctx context.Context, olderThan time.Duration) ([]models.GameImage, error) {
	return nil, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeGenerator struct {
	answer    string
	err       error
	gotSystem string
	gotPrompt string
	gotImages []ai.ImageData
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string, images []ai.ImageData) (string, error) {
	f.gotSystem = system
	f.gotPrompt = prompt
	f.gotImages = images
	return f.answer, f.err
}

type fakeBlobStore struct {
	data map[string][]byte
}

func (f *fakeBlobStore) Download(ctx context.Context, objectName string) ([]byte, error) {
	if d, ok := f.data[objectName]; ok {
		return d, nil
	}
	return nil, errors.New("object not found")
}
func (f *fakeBlobStore) SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + objectName, nil
}

func testRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Facet:               models.FacetOCR,
		TopK:                5,
		SimilarityThreshold: 0.7,
		ContentFacets:       []models.Facet{models.FacetOCR},
		MaxContextLength:    12000,
	}
}

func newTestRetrieval(t *testing.T, cfg RetrievalConfig, vectors *fakeVectorRepo, images *fakeImageRepo, emb *fakeEmbedder, gen *fakeGenerator, blobs *fakeBlobStore) RetrievalService {
	t.Helper()
	if images == nil {
		images = &fakeImageRepo{}
	}
	if blobs == nil {
		blobs = &fakeBlobStore{}
	}
	svc, err := NewRetrievalService(cfg, vectors, images, emb, gen, blobs, blobs, nil)
	require.NoError(t, err)
	return svc
}

func TestRetrievalConfig_Validate(t *testing.T) {
	cfg := testRetrievalConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Facet = "summary"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TopK = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SimilarityThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ContentFacets = nil
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxContextLength = 0
	assert.Error(t, bad.Validate())
}

func TestRetrieval_AnswerPassesSearchParameters(t *testing.T) {
	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{ID: "v1", ImageID: "img1", OCRContent: "roll two dice to move", PageNumber: 3, Similarity: 0.91},
		},
	}
	gen := &fakeGenerator{answer: "You roll two dice."}
	svc := newTestRetrieval(t, testRetrievalConfig(), vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "how do I move?")
	require.NoError(t, err)

	assert.Equal(t, "game-1", vectors.gotGameID)
	assert.Equal(t, models.FacetOCR, vectors.gotFacet)
	assert.Equal(t, 5, vectors.gotK)
	assert.InDelta(t, 0.7, vectors.gotThreshold, 0.001)

	assert.Equal(t, "You roll two dice.", res.Answer)
	assert.False(t, res.EmptyContext)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "v1", res.Sources[0].VectorID)
	assert.Equal(t, models.FacetOCR, res.Sources[0].Facet)
	assert.InDelta(t, 0.91, res.Sources[0].Similarity, 0.001)

	assert.Contains(t, gen.gotPrompt, "roll two dice to move")
	assert.Contains(t, gen.gotPrompt, "how do I move?")
	assert.Contains(t, gen.gotSystem, "ONLY USE THE SUPPLIED EXCERPTS")
}

func TestRetrieval_AnswerEmptyContextAsksForRefusal(t *testing.T) {
	vectors := &fakeVectorRepo{}
	gen := &fakeGenerator{answer: "I cannot answer from the available rulebook content."}
	svc := newTestRetrieval(t, testRetrievalConfig(), vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "what is the win condition?")
	require.NoError(t, err)

	assert.True(t, res.EmptyContext)
	assert.Empty(t, res.Sources)
	assert.Contains(t, gen.gotPrompt, "No relevant rulebook excerpts were found")
}

func TestRetrieval_AnswerRejectsBlankInput(t *testing.T) {
	svc := newTestRetrieval(t, testRetrievalConfig(), &fakeVectorRepo{}, nil, &fakeEmbedder{vector: []float32{0.1}}, &fakeGenerator{}, nil)

	_, err := svc.Answer(context.Background(), "", "question")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.Answer(context.Background(), "game-1", "   ")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestRetrieval_AnswerEmbedderFailure(t *testing.T) {
	svc := newTestRetrieval(t, testRetrievalConfig(), &fakeVectorRepo{}, nil, &fakeEmbedder{err: errors.New("boom")}, &fakeGenerator{}, nil)

	_, err := svc.Answer(context.Background(), "game-1", "question")
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestRetrieval_ContextBudgetDropsLowestSimilarityFirst(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.MaxContextLength = 120

	long := strings.Repeat("the robber blocks resource production ", 10)
	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{ID: "v1", ImageID: "img1", OCRContent: long, PageNumber: 1, Similarity: 0.95},
			{ID: "v2", ImageID: "img2", OCRContent: "second excerpt", PageNumber: 2, Similarity: 0.80},
			{ID: "v3", ImageID: "img3", OCRContent: "third excerpt", PageNumber: 3, Similarity: 0.75},
		},
	}
	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, cfg, vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "robber?")
	require.NoError(t, err)

	// the highest-similarity excerpt consumes the whole budget; the rest
	// never make it into the prompt or the sources
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "v1", res.Sources[0].VectorID)
	assert.NotContains(t, gen.gotPrompt, "second excerpt")
	assert.NotContains(t, gen.gotPrompt, "third excerpt")
}

func TestRetrieval_TruncatedHeaderFragmentIsNotCited(t *testing.T) {
	cfg := testRetrievalConfig()

	first := strings.Repeat("longest road scores two points ", 3)
	firstBlock := fmt.Sprintf("--- Excerpt 1 (page 1, similarity 0.950) ---\n%s\n\n", first)
	// leaves a handful of runes after the first excerpt: not even the
	// second excerpt's header fits, let alone its content
	cfg.MaxContextLength = len([]rune(firstBlock)) + 3

	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{ID: "v1", ImageID: "img1", OCRContent: first, PageNumber: 1, Similarity: 0.95},
			{ID: "v2", ImageID: "img2", OCRContent: "players trade resources freely", PageNumber: 2, Similarity: 0.80},
		},
	}
	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, cfg, vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "longest road?")
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "v1", res.Sources[0].VectorID)
	assert.NotContains(t, gen.gotPrompt, "Excerpt 2")
	assert.NotContains(t, gen.gotPrompt, "players trade resources freely")
}

func TestRetrieval_SupplementaryFacetsInContext(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.ContentFacets = []models.Facet{models.FacetOCR, models.FacetDescription}

	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{
				ID: "v1", ImageID: "img1",
				OCRContent:         "place the robber on any hex",
				DescriptionContent: "a hex board with a black pawn",
				PageNumber:         7, Similarity: 0.88,
			},
		},
	}
	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, cfg, vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	_, err := svc.Answer(context.Background(), "game-1", "robber?")
	require.NoError(t, err)

	assert.Contains(t, gen.gotPrompt, "place the robber on any hex")
	assert.Contains(t, gen.gotPrompt, "[description] a hex board with a black pawn")
}

func TestRetrieval_CandidatesWithoutPrimaryContentAreSkipped(t *testing.T) {
	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{ID: "v1", ImageID: "img1", DescriptionContent: "only description", Similarity: 0.9},
			{ID: "v2", ImageID: "img2", OCRContent: "real ocr text", Similarity: 0.8},
		},
	}
	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, testRetrievalConfig(), vectors, nil, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "question")
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "v2", res.Sources[0].VectorID)
}

func TestRetrieval_SourcesCarrySignedURLs(t *testing.T) {
	vectors := &fakeVectorRepo{
		results: []models.KnowledgeVector{
			{ID: "v1", ImageID: "img1", OCRContent: "some rules", Similarity: 0.9},
		},
	}
	images := &fakeImageRepo{images: map[string]*models.GameImage{
		"img1": {ID: "img1", ObjectPath: "games/g/batches/b/p1.png", ContentType: "image/png"},
	}}
	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, testRetrievalConfig(), vectors, images, &fakeEmbedder{vector: []float32{0.1}}, gen, nil)

	res, err := svc.Answer(context.Background(), "game-1", "question")
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "https://signed.example/games/g/batches/b/p1.png", res.Sources[0].ImageURL)
	// image passing is off by default
	assert.Empty(t, gen.gotImages)
}

func TestRetrieval_IncludeImagesDownloadsAndCaps(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.IncludeImages = true

	var results []models.KnowledgeVector
	imgs := map[string]*models.GameImage{}
	blobs := &fakeBlobStore{data: map[string][]byte{}}
	for i := 0; i < 6; i++ {
		id := string(rune('a' + i))
		path := "obj/" + id
		results = append(results, models.KnowledgeVector{
			ID: "v" + id, ImageID: "img" + id, OCRContent: "text " + id, Similarity: 0.9,
		})
		imgs["img"+id] = &models.GameImage{ID: "img" + id, ObjectPath: path, ContentType: "image/png"}
		blobs.data[path] = []byte{0x89, byte(i)}
	}

	gen := &fakeGenerator{answer: "ok"}
	svc := newTestRetrieval(t, cfg, &fakeVectorRepo{results: results}, &fakeImageRepo{images: imgs}, &fakeEmbedder{vector: []float32{0.1}}, gen, blobs)

	_, err := svc.Answer(context.Background(), "game-1", "question")
	require.NoError(t, err)

	assert.Len(t, gen.gotImages, 4)
	assert.Equal(t, "image/png", gen.gotImages[0].MIME)
}
