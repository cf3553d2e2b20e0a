package postgres

import (
	"context"
	"errors"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/utils"
	"gorm.io/gorm"
)

// ErrRetryNotAllowed is returned when a retry is requested but the batch
// has no failed images left or its retry budget is exhausted.
var ErrRetryNotAllowed = errors.New("batch retry not allowed")

type BatchRepository interface {
	Insert(ctx context.Context, b *models.ImageBatch) error
	GetByID(ctx context.Context, id string) (*models.ImageBatch, error)
	MarkImageResolved(ctx context.Context, imageID, batchID string, success bool, reason string) (bool, error)
	StartRetry(ctx context.Context, batchID string) error
	MarkProcessingStarted(ctx context.Context, batchID string) error
}

type batchRepo struct {
	db *gorm.DB
}

func NewBatchRepo(db *gorm.DB) BatchRepository {
	return &batchRepo{db: db}
}

func (r *batchRepo) Insert(ctx context.Context, b *models.ImageBatch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *batchRepo) GetByID(ctx context.Context, id string) (*models.ImageBatch, error) {
	var b models.ImageBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &b, err
}

// MarkImageResolved settles one job outcome: the image's terminal
// status and the batch counters move in a single transaction. The first
// statement is a guarded conditional update, so only the delivery that
// actually flips the image to a terminal state touches the counters;
// duplicate deliveries report false and change nothing. The counter
// statement flips pending/retrying batches to processing, and the last
// statement settles the final status exactly once when processed+failed
// reaches the total.
func (r *batchRepo) MarkImageResolved(ctx context.Context, imageID, batchID string, success bool, reason string) (bool, error) {
	resolved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		if success {
			res = tx.Exec(`
				UPDATE game_images
				SET processing_status = ?,
				    processing_completed_at = NOW(),
				    processing_error = ''
				WHERE id = ?
				  AND processing_status NOT IN (?, ?)`,
				models.ImageCompleted, imageID, models.ImageCompleted, models.ImageFailed)
		} else {
			res = tx.Exec(`
				UPDATE game_images
				SET processing_status = ?,
				    processing_error = ?
				WHERE id = ?
				  AND processing_status NOT IN (?, ?)`,
				models.ImageFailed, reason, imageID, models.ImageCompleted, models.ImageFailed)
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		resolved = true

		if batchID == "" {
			return nil
		}

		counter := "failed_images"
		if success {
			counter = "processed_images"
		}
		res = tx.Exec(`
			UPDATE image_batches
			SET `+counter+` = `+counter+` + 1,
			    status = CASE WHEN status IN (?, ?) THEN ? ELSE status END,
			    processing_started_at = COALESCE(processing_started_at, NOW())
			WHERE id = ?`,
			models.BatchPending, models.BatchRetrying, models.BatchProcessing, batchID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrNotFound
		}

		return tx.Exec(`
			UPDATE image_batches
			SET status = CASE
			        WHEN failed_images = 0 THEN ?
			        WHEN processed_images = 0 THEN ?
			        ELSE ?
			    END,
			    completed_at = NOW()
			WHERE id = ?
			  AND processed_images + failed_images >= total_images
			  AND status = ?`,
			models.BatchCompleted, models.BatchFailed, models.BatchPartiallyCompleted,
			batchID, models.BatchProcessing).Error
	})
	return resolved, err
}

// StartRetry flips the batch back into the retrying state. The WHERE
// clause enforces the can_retry precondition so a losing racer mutates
// nothing.
func (r *batchRepo) StartRetry(ctx context.Context, batchID string) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE image_batches
		SET failed_images = 0,
		    retry_count = retry_count + 1,
		    status = ?,
		    completed_at = NULL
		WHERE id = ?
		  AND failed_images > 0
		  AND retry_count < max_retries`, models.BatchRetrying, batchID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRetryNotAllowed
	}
	return nil
}

func (r *batchRepo) MarkProcessingStarted(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE image_batches
		SET status = ?,
		    processing_started_at = COALESCE(processing_started_at, NOW())
		WHERE id = ? AND status IN ('pending', 'retrying')`,
		models.BatchProcessing, batchID).Error
}
