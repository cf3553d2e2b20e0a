package models

import "time"

type BatchStatus string

const (
	BatchPending            BatchStatus = "pending"
	BatchProcessing         BatchStatus = "processing"
	BatchCompleted          BatchStatus = "completed"
	BatchFailed             BatchStatus = "failed"
	BatchRetrying           BatchStatus = "retrying"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
)

// ImageBatch is the aggregate record for one upload of rulebook images.
// Counters are only ever mutated through single-statement updates in the
// batch repository; workers never read-modify-write this row.
type ImageBatch struct {
	ID     string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GameID string `gorm:"column:game_id;type:uuid;index" json:"game_id"`

	TotalImages     int `gorm:"column:total_images;type:integer" json:"total_images"`
	ProcessedImages int `gorm:"column:processed_images;type:integer" json:"processed_images"`
	FailedImages    int `gorm:"column:failed_images;type:integer" json:"failed_images"`

	Status     BatchStatus `gorm:"column:status;type:text;index" json:"status"`
	RetryCount int         `gorm:"column:retry_count;type:integer" json:"retry_count"`
	MaxRetries int         `gorm:"column:max_retries;type:integer" json:"max_retries"`

	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at;type:timestamptz" json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `gorm:"column:completed_at;type:timestamptz" json:"completed_at,omitempty"`
}

func (ImageBatch) TableName() string { return "image_batches" }

func (b *ImageBatch) CompletionPercentage() float64 {
	if b.TotalImages == 0 {
		return 0
	}
	return float64(b.ProcessedImages) / float64(b.TotalImages) * 100
}

func (b *ImageBatch) FailurePercentage() float64 {
	if b.TotalImages == 0 {
		return 0
	}
	return float64(b.FailedImages) / float64(b.TotalImages) * 100
}

// CanRetry reports whether a retry request would be accepted.
func (b *ImageBatch) CanRetry() bool {
	return b.RetryCount < b.MaxRetries && b.FailedImages > 0
}

// AllResolved reports whether every job in the batch has completed or failed.
func (b *ImageBatch) AllResolved() bool {
	return b.ProcessedImages+b.FailedImages >= b.TotalImages
}

// FinalStatus returns the status the batch settles into once all jobs
// have resolved: completed when nothing failed, failed when nothing
// succeeded, partially_completed otherwise.
func (b *ImageBatch) FinalStatus() BatchStatus {
	switch {
	case b.FailedImages == 0:
		return BatchCompleted
	case b.ProcessedImages == 0:
		return BatchFailed
	default:
		return BatchPartiallyCompleted
	}
}
