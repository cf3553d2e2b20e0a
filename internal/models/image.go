package models

import "time"

type ImageStatus string

const (
	ImageUploaded   ImageStatus = "uploaded"
	ImageProcessing ImageStatus = "processing"
	ImageCompleted  ImageStatus = "completed"
	ImageFailed     ImageStatus = "failed"
	ImageRetrying   ImageStatus = "retrying"
)

// GameImage is one uploaded rulebook image and its processing lifecycle.
type GameImage struct {
	ID      string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BatchID string `gorm:"column:batch_id;type:uuid;index" json:"batch_id"`
	GameID  string `gorm:"column:game_id;type:uuid;index" json:"game_id"`

	ObjectPath       string `gorm:"column:object_path;type:text" json:"object_path"`
	OriginalFilename string `gorm:"column:original_filename;type:text" json:"original_filename"`
	FileSize         int    `gorm:"column:file_size;type:integer" json:"file_size"`
	ContentType      string `gorm:"column:content_type;type:text" json:"content_type"`
	PageNumber       int    `gorm:"column:page_number;type:integer" json:"page_number"`

	ProcessingStatus ImageStatus `gorm:"column:processing_status;type:text;index" json:"processing_status"`
	RetryCount       int         `gorm:"column:retry_count;type:integer" json:"retry_count"`
	ProcessingError  string      `gorm:"column:processing_error;type:text" json:"processing_error,omitempty"`

	UploadedBy string `gorm:"column:uploaded_by;type:uuid" json:"uploaded_by"`

	CreatedAt             time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	ProcessingStartedAt   *time.Time `gorm:"column:processing_started_at;type:timestamptz" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `gorm:"column:processing_completed_at;type:timestamptz" json:"processing_completed_at,omitempty"`
}

func (GameImage) TableName() string { return "game_images" }

// Resolved reports whether the image reached a terminal processing state.
func (i *GameImage) Resolved() bool {
	return i.ProcessingStatus == ImageCompleted || i.ProcessingStatus == ImageFailed
}
