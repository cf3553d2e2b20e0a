package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/queue"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/storage"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

// BatchFile is one image in an upload request.
type BatchFile struct {
	Filename    string
	ContentType string
	Size        int
	Reader      io.Reader
}

// BatchStatusView is the caller-facing snapshot of a batch.
type BatchStatusView struct {
	BatchID              string             `json:"batch_id"`
	GameID               string             `json:"game_id"`
	Status               models.BatchStatus `json:"status"`
	TotalImages          int                `json:"total_images"`
	ProcessedImages      int                `json:"processed_images"`
	FailedImages         int                `json:"failed_images"`
	ProgressRatio        string             `json:"progress_ratio"`
	FailedRatio          string             `json:"failed_ratio"`
	CompletionPercentage float64            `json:"completion_percentage"`
	FailurePercentage    float64            `json:"failure_percentage"`
	CanRetry             bool               `json:"can_retry"`
	RetryCount           int                `json:"retry_count"`
	MaxRetries           int                `json:"max_retries"`
	CreatedAt            time.Time          `json:"created_at"`
	ProcessingStartedAt  *time.Time         `json:"processing_started_at,omitempty"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
}

// ImageStatusView pairs one image's processing state with the facets
// already extracted from it.
type ImageStatusView struct {
	Image           *models.GameImage
	ExtractedFacets []models.Facet
}

type BatchService interface {
	CreateBatch(ctx context.Context, gameID, userID string, files []BatchFile) (*models.ImageBatch, error)
	GetStatus(ctx context.Context, batchID string) (*BatchStatusView, error)
	Retry(ctx context.Context, batchID string) (*BatchStatusView, error)
	GetImageStatus(ctx context.Context, imageID string) (*ImageStatusView, error)
}

type batchService struct {
	batches    pgrepo.BatchRepository
	images     pgrepo.ImageRepository
	vectors    pgrepo.VectorRepository
	uploader   storage.Uploader
	jobs       queue.Enqueuer
	maxRetries int
	log        *logrus.Logger
}

func NewBatchService(batches pgrepo.BatchRepository, images pgrepo.ImageRepository, vectors pgrepo.VectorRepository, uploader storage.Uploader, jobs queue.Enqueuer, maxRetries int, log *logrus.Logger) BatchService {
	if log == nil {
		log = logrus.New()
	}
	return &batchService{
		batches:    batches,
		images:     images,
		vectors:    vectors,
		uploader:   uploader,
		jobs:       jobs,
		maxRetries: maxRetries,
		log:        log,
	}
}

func (s *batchService) CreateBatch(ctx context.Context, gameID, userID string, files []BatchFile) (*models.ImageBatch, error) {
	const op = "BatchService.CreateBatch"

	if gameID == "" || userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "game_id and user_id are required", nil)
	}
	if len(files) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "at least one image is required", nil)
	}

	now := time.Now().UTC()
	batch := &models.ImageBatch{
		ID:          uuid.NewString(),
		GameID:      gameID,
		TotalImages: len(files),
		Status:      models.BatchPending,
		MaxRetries:  s.maxRetries,
		CreatedAt:   now,
	}

	images := make([]*models.GameImage, 0, len(files))
	for i, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		if ext == "" {
			ext = ".jpg"
		}
		objectName := fmt.Sprintf("games/%s/batches/%s/%s%s", gameID, batch.ID, uuid.NewString(), ext)

		storedPath, err := s.uploader.Upload(ctx, objectName, f.ContentType, f.Reader)
		if err != nil {
			return nil, utils.E(utils.CodeUnavailable, op, "failed to store image "+f.Filename, err)
		}

		images = append(images, &models.GameImage{
			ID:               uuid.NewString(),
			BatchID:          batch.ID,
			GameID:           gameID,
			ObjectPath:       storedPath,
			OriginalFilename: f.Filename,
			FileSize:         f.Size,
			ContentType:      f.ContentType,
			PageNumber:       i + 1,
			ProcessingStatus: models.ImageUploaded,
			UploadedBy:       userID,
			CreatedAt:        now,
		})
	}

	if err := s.batches.Insert(ctx, batch); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create batch", err)
	}
	if err := s.images.InsertAll(ctx, images); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to record images", err)
	}

	// Once the rows are durable a queue outage must not fail the upload:
	// the worker's recovery loop re-enqueues stalled images.
	for _, img := range images {
		err := s.jobs.Enqueue(ctx, queue.Job{
			ImageID:    img.ID,
			BatchID:    batch.ID,
			GameID:     gameID,
			ObjectPath: img.ObjectPath,
			Filename:   img.OriginalFilename,
		})
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"batch_id": batch.ID,
				"image_id": img.ID,
			}).Warn("enqueue failed, image left for recovery")
		}
	}

	return batch, nil
}

func (s *batchService) GetStatus(ctx context.Context, batchID string) (*BatchStatusView, error) {
	const op = "BatchService.GetStatus"

	if batchID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "batch_id is required", nil)
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "batch not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load batch", err)
	}
	return statusView(batch), nil
}

func (s *batchService) Retry(ctx context.Context, batchID string) (*BatchStatusView, error) {
	const op = "BatchService.Retry"

	if batchID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "batch_id is required", nil)
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "batch not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load batch", err)
	}
	if !batch.CanRetry() {
		return nil, utils.E(utils.CodePrecondition, op, "batch cannot be retried: no failed images or retry budget exhausted", nil)
	}

	if err := s.batches.StartRetry(ctx, batchID); err != nil {
		if errors.Is(err, pgrepo.ErrRetryNotAllowed) {
			// lost the race against a concurrent retry request
			return nil, utils.E(utils.CodePrecondition, op, "batch cannot be retried: no failed images or retry budget exhausted", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to start retry", err)
	}

	images, err := s.images.ResetFailedForRetry(ctx, batchID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to reset failed images", err)
	}

	for _, img := range images {
		err := s.jobs.Enqueue(ctx, queue.Job{
			ImageID:    img.ID,
			BatchID:    batchID,
			GameID:     img.GameID,
			ObjectPath: img.ObjectPath,
			Filename:   img.OriginalFilename,
			RetryCount: batch.RetryCount + 1,
		})
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"batch_id": batchID,
				"image_id": img.ID,
			}).Warn("retry enqueue failed, image left for recovery")
		}
	}

	refreshed, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to reload batch", err)
	}
	return statusView(refreshed), nil
}

func (s *batchService) GetImageStatus(ctx context.Context, imageID string) (*ImageStatusView, error) {
	const op = "BatchService.GetImageStatus"

	if imageID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "image_id is required", nil)
	}

	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "image not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load image", err)
	}

	rows, err := s.vectors.GetByImage(ctx, imageID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load extracted facets", err)
	}

	facets := make([]models.Facet, 0, 3)
	for _, f := range []models.Facet{models.FacetOCR, models.FacetDescription, models.FacetLabels} {
		for i := range rows {
			if rows[i].ContentFor(f) != "" {
				facets = append(facets, f)
				break
			}
		}
	}

	return &ImageStatusView{Image: img, ExtractedFacets: facets}, nil
}

func statusView(b *models.ImageBatch) *BatchStatusView {
	return &BatchStatusView{
		BatchID:              b.ID,
		GameID:               b.GameID,
		Status:               b.Status,
		TotalImages:          b.TotalImages,
		ProcessedImages:      b.ProcessedImages,
		FailedImages:         b.FailedImages,
		ProgressRatio:        fmt.Sprintf("%d/%d", b.ProcessedImages, b.TotalImages),
		FailedRatio:          fmt.Sprintf("%d/%d", b.FailedImages, b.TotalImages),
		CompletionPercentage: b.CompletionPercentage(),
		FailurePercentage:    b.FailurePercentage(),
		CanRetry:             b.CanRetry(),
		RetryCount:           b.RetryCount,
		MaxRetries:           b.MaxRetries,
		CreatedAt:            b.CreatedAt,
		ProcessingStartedAt:  b.ProcessingStartedAt,
		CompletedAt:          b.CompletedAt,
	}
}
