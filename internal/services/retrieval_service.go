package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/providers/ai"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/storage"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

// systemPrompt scopes the assistant to the supplied rulebook context.
// Refusing when nothing relevant was retrieved is a normal outcome, not
// an error.
const systemPrompt = `You are a game master and board game assistant. Your role is to help
board gamers set up their games, understand the rules and calculate scores.

You will receive excerpts extracted from the rulebook of one specific game.
ONLY USE THE SUPPLIED EXCERPTS TO ANSWER. If the excerpts do not contain
the answer, or if no excerpts were supplied, say clearly that you cannot
answer from the available rulebook content. Never invent rules.

Answer clearly and directly. Ask for clarification when the question is ambiguous.`

const maxGenerationImages = 4

// RetrievalConfig selects which facet drives similarity and how the
// generation context is assembled. Validated once at construction; the
// engine never consults ambient flags.
type RetrievalConfig struct {
	Facet               models.Facet
	TopK                int
	SimilarityThreshold float64
	ContentFacets       []models.Facet
	IncludeImages       bool
	MaxContextLength    int
}

func (c RetrievalConfig) Validate() error {
	if !c.Facet.Valid() {
		return fmt.Errorf("invalid retrieval facet %q", c.Facet)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be >= 1, got %d", c.TopK)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %g", c.SimilarityThreshold)
	}
	if len(c.ContentFacets) == 0 {
		return fmt.Errorf("at least one content facet is required")
	}
	for _, f := range c.ContentFacets {
		if !f.Valid() {
			return fmt.Errorf("invalid content facet %q", f)
		}
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("max context length must be > 0, got %d", c.MaxContextLength)
	}
	return nil
}

// RetrievalResult is one answered question with its citations.
type RetrievalResult struct {
	Answer       string
	Sources      []models.MessageSource
	Facet        models.Facet
	EmptyContext bool
}

type RetrievalService interface {
	Answer(ctx context.Context, gameID, question string) (*RetrievalResult, error)
}

type retrievalService struct {
	cfg       RetrievalConfig
	vectors   pgrepo.VectorRepository
	images    pgrepo.ImageRepository
	embedder  ai.Embedder
	generator ai.Generator
	blobs     storage.Downloader
	signer    storage.Signer
	log       *logrus.Logger
}

func NewRetrievalService(cfg RetrievalConfig, vectors pgrepo.VectorRepository, images pgrepo.ImageRepository, embedder ai.Embedder, generator ai.Generator, blobs storage.Downloader, signer storage.Signer, log *logrus.Logger) (RetrievalService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &retrievalService{
		cfg:       cfg,
		vectors:   vectors,
		images:    images,
		embedder:  embedder,
		generator: generator,
		blobs:     blobs,
		signer:    signer,
		log:       log,
	}, nil
}

func (s *retrievalService) Answer(ctx context.Context, gameID, question string) (*RetrievalResult, error) {
	const op = "RetrievalService.Answer"

	if gameID == "" || strings.TrimSpace(question) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "game_id and question are required", nil)
	}

	queryEmbedding, err := s.embedder.EmbedText(ctx, question)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to embed question", err)
	}

	candidates, err := s.vectors.SearchByFacet(ctx, gameID, s.cfg.Facet, queryEmbedding, s.cfg.TopK, s.cfg.SimilarityThreshold)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "similarity search failed", err)
	}

	contextText, sources := s.assembleContext(candidates)

	prompt := s.buildPrompt(question, contextText)
	images := s.collectImages(ctx, sources)

	answer, err := s.generator.Generate(ctx, systemPrompt, prompt, images)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "answer generation failed", err)
	}

	s.log.WithFields(logrus.Fields{
		"game_id": gameID,
		"facet":   s.cfg.Facet,
		"sources": len(sources),
	}).Info("question answered")

	return &RetrievalResult{
		Answer:       answer,
		Sources:      sources,
		Facet:        s.cfg.Facet,
		EmptyContext: len(sources) == 0,
	}, nil
}

// assembleContext walks candidates in descending-similarity order and
// packs their content under the length budget. When the budget runs out
// the remaining (lowest-similarity) candidates are truncated or dropped;
// only candidates that contributed facet content become sources.
func (s *retrievalService) assembleContext(candidates []models.KnowledgeVector) (string, []models.MessageSource) {
	var (
		b       strings.Builder
		sources []models.MessageSource
		used    int
	)

	for i := range candidates {
		v := &candidates[i]

		block, headerRunes := s.candidateBlock(v, i+1)
		if block == "" {
			continue
		}

		// A candidate only becomes a source when at least part of its
		// facet content survives truncation; a bare header fragment
		// cites nothing.
		remaining := s.cfg.MaxContextLength - used
		if remaining <= headerRunes {
			break
		}

		runes := []rune(block)
		if len(runes) > remaining {
			runes = runes[:remaining]
			block = string(runes)
		}
		b.WriteString(block)
		used += len(runes)

		snippet := v.ContentFor(s.cfg.Facet)
		if sr := []rune(snippet); len(sr) > 200 {
			snippet = string(sr[:200])
		}
		sources = append(sources, models.MessageSource{
			VectorID:   v.ID,
			ImageID:    v.ImageID,
			Similarity: v.Similarity,
			Facet:      s.cfg.Facet,
			Snippet:    snippet,
		})
	}

	return b.String(), sources
}

// candidateBlock renders one candidate for the prompt and reports how
// many runes its header occupies, so the caller can tell whether a
// truncated block still carries any facet content.
func (s *retrievalService) candidateBlock(v *models.KnowledgeVector, ordinal int) (string, int) {
	primary := strings.TrimSpace(v.ContentFor(s.cfg.Facet))
	if primary == "" {
		return "", 0
	}

	header := fmt.Sprintf("--- Excerpt %d (page %d, similarity %.3f) ---\n", ordinal, v.PageNumber, v.Similarity)

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(primary)
	b.WriteString("\n")

	for _, f := range s.cfg.ContentFacets {
		if f == s.cfg.Facet {
			continue
		}
		if extra := strings.TrimSpace(v.ContentFor(f)); extra != "" {
			fmt.Fprintf(&b, "[%s] %s\n", f, extra)
		}
	}
	b.WriteString("\n")
	return b.String(), len([]rune(header))
}

func (s *retrievalService) buildPrompt(question, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return fmt.Sprintf(`No relevant rulebook excerpts were found for this question.

Question: %s

Explain politely that you cannot answer because no relevant rulebook content is available for this game.`, question)
	}

	return fmt.Sprintf(`Rulebook excerpts (search facet: %s):

%s

Question: %s

Answer using only the excerpts above. If they do not contain the answer, say so clearly.`, s.cfg.Facet, contextText, question)
}

// collectImages loads the original images behind the contributing
// vectors when image passing is enabled, and decorates sources with
// short-lived signed URLs either way.
func (s *retrievalService) collectImages(ctx context.Context, sources []models.MessageSource) []ai.ImageData {
	if len(sources) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var images []ai.ImageData

	for i := range sources {
		imageID := sources[i].ImageID
		if imageID == "" || seen[imageID] {
			continue
		}
		seen[imageID] = true

		img, err := s.images.GetByID(ctx, imageID)
		if err != nil {
			s.log.WithError(err).WithField("image_id", imageID).Warn("source image lookup failed")
			continue
		}

		if s.signer != nil {
			if url, err := s.signer.SignedGetURL(ctx, img.ObjectPath, 15*time.Minute); err == nil {
				for j := range sources {
					if sources[j].ImageID == imageID {
						sources[j].ImageURL = url
					}
				}
			}
		}

		if !s.cfg.IncludeImages || len(images) >= maxGenerationImages {
			continue
		}
		data, err := s.blobs.Download(ctx, img.ObjectPath)
		if err != nil {
			s.log.WithError(err).WithField("image_id", imageID).Warn("source image download failed")
			continue
		}
		images = append(images, ai.ImageData{Data: data, MIME: img.ContentType})
	}

	return images
}
