package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageBatch_Percentages(t *testing.T) {
	b := &ImageBatch{TotalImages: 30, ProcessedImages: 27, FailedImages: 3}

	assert.InDelta(t, 90.0, b.CompletionPercentage(), 0.001)
	assert.InDelta(t, 10.0, b.FailurePercentage(), 0.001)
}

func TestImageBatch_PercentagesEmptyBatch(t *testing.T) {
	b := &ImageBatch{}

	assert.Equal(t, 0.0, b.CompletionPercentage())
	assert.Equal(t, 0.0, b.FailurePercentage())
}

func TestImageBatch_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		failed     int
		want       bool
	}{
		{"failures and budget left", 0, 3, 3, true},
		{"no failures", 0, 3, 0, false},
		{"budget exhausted", 3, 3, 5, false},
		{"last allowed retry", 2, 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &ImageBatch{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries, FailedImages: tt.failed}
			assert.Equal(t, tt.want, b.CanRetry())
		})
	}
}

func TestImageBatch_AllResolved(t *testing.T) {
	b := &ImageBatch{TotalImages: 10, ProcessedImages: 6, FailedImages: 3}
	assert.False(t, b.AllResolved())

	b.FailedImages = 4
	assert.True(t, b.AllResolved())
}

func TestImageBatch_FinalStatus(t *testing.T) {
	assert.Equal(t, BatchCompleted, (&ImageBatch{TotalImages: 5, ProcessedImages: 5}).FinalStatus())
	assert.Equal(t, BatchFailed, (&ImageBatch{TotalImages: 5, FailedImages: 5}).FinalStatus())
	assert.Equal(t, BatchPartiallyCompleted, (&ImageBatch{TotalImages: 5, ProcessedImages: 3, FailedImages: 2}).FinalStatus())
}
