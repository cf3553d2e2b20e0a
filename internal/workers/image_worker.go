package workers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/providers/ai"
	"github.com/shini559/Gaming-advisor/internal/queue"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/storage"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

// ImageWorkerPool consumes image jobs from the Redis stream and runs the
// extraction pipeline: download bytes, extract facets, embed each facet,
// persist the knowledge vector, then settle the batch counters. A job is
// acked only after its outcome has been recorded in Postgres, so a crash
// leaves the entry pending for the recovery loop rather than orphaned.
type ImageWorkerPool struct {
	Redis     *redis.Client
	Images    pgrepo.ImageRepository
	Batches   pgrepo.BatchRepository
	Vectors   pgrepo.VectorRepository
	Blobs     storage.Downloader
	Extractor ai.Extractor
	Embedder  ai.Embedder
	Queue     queue.Enqueuer

	NumWorkers  int
	MaxAttempts int
	CallTimeout time.Duration
	Facets      []models.Facet

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	ClaimMinIdle   time.Duration
	StalledAfter   time.Duration
}

func (p *ImageWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Images == nil || p.Batches == nil || p.Vectors == nil ||
		p.Blobs == nil || p.Extractor == nil || p.Embedder == nil {
		return errors.New("ImageWorkerPool missing dependency: Redis/Images/Batches/Vectors/Blobs/Extractor/Embedder must be set")
	}
	if p.Stream == "" {
		p.Stream = queue.Stream
	}
	if p.Group == "" {
		p.Group = queue.Group
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "w"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 60 * time.Second
	}
	if len(p.Facets) == 0 {
		p.Facets = []models.Facet{models.FacetOCR, models.FacetDescription, models.FacetLabels}
	}
	if p.ClaimMinIdle <= 0 {
		// A slow job makes up to 2+len(Facets) capability calls, each
		// retried MaxAttempts times under CallTimeout. Claiming below
		// that window redelivers jobs that are merely slow.
		worst := time.Duration((2+len(p.Facets))*p.MaxAttempts) * p.CallTimeout
		p.ClaimMinIdle = worst + 5*time.Minute
	}
	if p.StalledAfter <= 0 {
		p.StalledAfter = p.ClaimMinIdle + 10*time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + uuid.NewString()[:8]
		go p.runConsumer(ctx, consumer)
	}
	go p.runRecovery(ctx)
	return nil
}

func (p *ImageWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleJob(ctx, queue.FromMessage(msg))
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *ImageWorkerPool) handleJob(ctx context.Context, job queue.Job) {
	if job.ImageID == "" {
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"image_id": job.ImageID,
		"batch_id": job.BatchID,
		"game_id":  job.GameID,
	})

	img, err := p.Images.GetByID(ctx, job.ImageID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			log.Warn("job references unknown image, dropping")
			return
		}
		log.WithError(err).Error("failed to load image row")
		return
	}

	// Cheap pre-check for redelivered jobs; the guarded resolution
	// update below is what actually enforces exactly-once settlement.
	if img.Resolved() {
		return
	}

	if err := p.Images.MarkProcessing(ctx, img.ID, job.RetryCount); err != nil {
		log.WithError(err).Error("failed to mark image processing")
		return
	}
	if img.BatchID != "" {
		if err := p.Batches.MarkProcessingStarted(ctx, img.BatchID); err != nil {
			log.WithError(err).Warn("failed to flip batch to processing")
		}
	}

	if err := p.processImage(ctx, img, log); err != nil {
		log.WithError(err).Warn("image processing failed")
		p.resolve(ctx, img, false, err.Error(), log)
		return
	}
	p.resolve(ctx, img, true, "", log)
}

// processImage runs the capability chain for one image. Transient
// capability failures are retried inline up to MaxAttempts before the
// job surfaces as failed; permanent ones fail immediately.
func (p *ImageWorkerPool) processImage(ctx context.Context, img *models.GameImage, log *logrus.Entry) error {
	var imageBytes []byte
	err := p.withRetries(ctx, func(cctx context.Context) error {
		var derr error
		imageBytes, derr = p.Blobs.Download(cctx, img.ObjectPath)
		return derr
	})
	if err != nil {
		return err
	}
	if len(imageBytes) == 0 {
		return ai.Permanent(errors.New("stored object is empty"))
	}

	var extraction *ai.Extraction
	err = p.withRetries(ctx, func(cctx context.Context) error {
		var eerr error
		extraction, eerr = p.Extractor.Extract(cctx, imageBytes, img.ContentType, p.Facets)
		return eerr
	})
	if err != nil {
		return err
	}

	vector := &models.KnowledgeVector{
		ID:         uuid.NewString(),
		GameID:     img.GameID,
		ImageID:    img.ID,
		PageNumber: img.PageNumber,
		CreatedAt:  time.Now().UTC(),
	}

	for _, facet := range p.Facets {
		content, embedText := facetTexts(extraction, facet)
		if embedText == "" {
			continue
		}

		var emb []float32
		err = p.withRetries(ctx, func(cctx context.Context) error {
			var eerr error
			emb, eerr = p.Embedder.EmbedText(cctx, embedText)
			return eerr
		})
		if err != nil {
			return err
		}

		switch facet {
		case models.FacetOCR:
			vector.OCRContent = content
			vector.OCREmbedding = pgvector.NewVector(emb)
		case models.FacetDescription:
			vector.DescriptionContent = content
			vector.DescriptionEmbedding = pgvector.NewVector(emb)
		case models.FacetLabels:
			vector.LabelsContent = content
			vector.LabelsEmbedding = pgvector.NewVector(emb)
			vector.Labels = pq.StringArray(extraction.Labels)
		}
	}

	if !vector.Usable() {
		return ai.Permanent(errors.New("no extractable content in image"))
	}

	if err := p.Vectors.Insert(ctx, vector); err != nil {
		return err
	}
	log.WithField("vector_id", vector.ID).Info("knowledge vector stored")
	return nil
}

// resolve records the job outcome. The repository settles the image row
// and the batch counters in one transaction and only counts the first
// resolution, so a redelivered job that lost the race changes nothing.
func (p *ImageWorkerPool) resolve(ctx context.Context, img *models.GameImage, success bool, reason string, log *logrus.Entry) {
	resolved, err := p.Batches.MarkImageResolved(ctx, img.ID, img.BatchID, success, reason)
	if err != nil {
		log.WithError(err).Error("failed to settle job outcome")
		return
	}
	if !resolved {
		log.Info("image already resolved by another delivery")
	}
}

func (p *ImageWorkerPool) withRetries(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ai.IsPermanent(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return lastErr
}

// runRecovery reclaims deliveries abandoned by crashed consumers and
// re-enqueues images that were accepted but never made it onto the
// stream (for example when Redis was down at upload time).
func (p *ImageWorkerPool) runRecovery(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.claimAbandoned(ctx)
		p.requeueStalled(ctx)
	}
}

func (p *ImageWorkerPool) claimAbandoned(ctx context.Context) {
	consumer := p.ConsumerPrefix + "-reaper"
	start := "0-0"
	for {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ClaimMinIdle,
			Start:    start,
			Count:    25,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				p.Logger.WithError(err).Warn("xautoclaim failed")
			}
			return
		}

		for _, msg := range msgs {
			p.handleJob(ctx, queue.FromMessage(msg))
			_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
		}

		if len(msgs) == 0 || next == "0-0" {
			return
		}
		start = next
	}
}

func (p *ImageWorkerPool) requeueStalled(ctx context.Context) {
	if p.Queue == nil {
		return
	}

	images, err := p.Images.ListStalled(ctx, p.StalledAfter)
	if err != nil {
		p.Logger.WithError(err).Warn("stalled image scan failed")
		return
	}

	for _, img := range images {
		job := queue.Job{
			ImageID:    img.ID,
			BatchID:    img.BatchID,
			GameID:     img.GameID,
			ObjectPath: img.ObjectPath,
			Filename:   img.OriginalFilename,
			RetryCount: img.RetryCount,
		}
		if err := p.Queue.Enqueue(ctx, job); err != nil {
			p.Logger.WithError(err).WithField("image_id", img.ID).Warn("re-enqueue failed")
			continue
		}
		p.Logger.WithFields(logrus.Fields{
			"image_id": img.ID,
			"batch_id": img.BatchID,
		}).Info("re-enqueued stalled image")
	}
}

// facetTexts returns the content to store and the text to embed for one
// facet. Labels embed a flattened searchable form while the stored
// content keeps the structured JSON.
func facetTexts(e *ai.Extraction, facet models.Facet) (content, embedText string) {
	switch facet {
	case models.FacetOCR:
		return e.OCRText, e.OCRText
	case models.FacetDescription:
		return e.Description, e.Description
	case models.FacetLabels:
		if len(e.Labels) > 0 {
			return e.LabelsJSON, strings.Join(e.Labels, ", ")
		}
		return e.LabelsJSON, e.LabelsJSON
	}
	return "", ""
}
