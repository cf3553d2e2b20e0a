package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/utils"
	"gorm.io/gorm"
)

// ImageRepository covers the non-terminal image lifecycle; terminal
// transitions go through BatchRepository.MarkImageResolved so the image
// row and the batch counters move together.
type ImageRepository interface {
	InsertAll(ctx context.Context, images []*models.GameImage) error
	GetByID(ctx context.Context, id string) (*models.GameImage, error)
	MarkProcessing(ctx context.Context, id string, retryCount int) error
	ResetFailedForRetry(ctx context.Context, batchID string) ([]models.GameImage, error)
	ListStalled(ctx context.Context, olderThan time.Duration) ([]models.GameImage, error)
}

type imageRepo struct {
	db *gorm.DB
}

func NewImageRepo(db *gorm.DB) ImageRepository {
	return &imageRepo{db: db}
}

func (r *imageRepo) InsertAll(ctx context.Context, images []*models.GameImage) error {
	if len(images) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(images).Error
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*models.GameImage, error) {
	var img models.GameImage
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &img, err
}

func (r *imageRepo) MarkProcessing(ctx context.Context, id string, retryCount int) error {
	return r.db.WithContext(ctx).Model(&models.GameImage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status":     models.ImageProcessing,
			"processing_started_at": time.Now().UTC(),
			"retry_count":           retryCount,
			"processing_error":      "",
		}).Error
}

// ResetFailedForRetry flips a batch's failed images back to retrying and
// returns them so the caller can re-enqueue their jobs.
func (r *imageRepo) ResetFailedForRetry(ctx context.Context, batchID string) ([]models.GameImage, error) {
	var images []models.GameImage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ? AND processing_status = ?", batchID, models.ImageFailed).
			Find(&images).Error; err != nil {
			return err
		}
		if len(images) == 0 {
			return nil
		}
		ids := make([]string, len(images))
		for i := range images {
			ids[i] = images[i].ID
		}
		return tx.Model(&models.GameImage{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"processing_status": models.ImageRetrying,
				"processing_error":  "",
			}).Error
	})
	return images, err
}

// ListStalled returns images that were accepted but never resolved and
// have not made progress recently. Used to re-enqueue work lost to a
// queue outage or a crashed worker.
func (r *imageRepo) ListStalled(ctx context.Context, olderThan time.Duration) ([]models.GameImage, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var images []models.GameImage
	err := r.db.WithContext(ctx).
		Where("processing_status IN ?", []models.ImageStatus{models.ImageUploaded, models.ImageProcessing, models.ImageRetrying}).
		Where("COALESCE(processing_started_at, created_at) < ?", cutoff).
		Find(&images).Error
	return images, err
}
