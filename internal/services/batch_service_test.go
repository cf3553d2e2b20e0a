package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/queue"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

type fakeBatchRepo struct {
	batches    map[string]*models.ImageBatch
	inserted   []*models.ImageBatch
	retryErr   error
	retryCalls int
}

func (f *fakeBatchRepo) Insert(ctx context.Context, b *models.ImageBatch) error {
	if f.batches == nil {
		f.batches = map[string]*models.ImageBatch{}
	}
	f.inserted = append(f.inserted, b)
	f.batches[b.ID] = b
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*models.ImageBatch, error) {
	if b, ok := f.batches[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, utils.ErrNotFound
}

func (f *fakeBatchRepo) MarkImageResolved(ctx context.Context, imageID, batchID string, success bool, reason string) (bool, error) {
	return false, nil
}

func (f *fakeBatchRepo) StartRetry(ctx context.Context, batchID string) error {
	f.retryCalls++
	if f.retryErr != nil {
		return f.retryErr
	}
	if b, ok := f.batches[batchID]; ok {
		b.RetryCount++
		b.FailedImages = 0
		b.Status = models.BatchRetrying
	}
	return nil
}

func (f *fakeBatchRepo) MarkProcessingStarted(ctx context.Context, batchID string) error { return nil }

type fakeUploader struct {
	uploads []string
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	io.Copy(io.Discard, r)
	f.uploads = append(f.uploads, objectName)
	return objectName, nil
}

type fakeEnqueuer struct {
	jobs []queue.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func batchFiles(names ...string) []BatchFile {
	out := make([]BatchFile, 0, len(names))
	for _, n := range names {
		out = append(out, BatchFile{
			Filename:    n,
			ContentType: "image/png",
			Size:        64,
			Reader:      strings.NewReader("png bytes"),
		})
	}
	return out
}

func TestBatchService_CreateBatch(t *testing.T) {
	batches := &fakeBatchRepo{}
	images := &fakeImageRepo{}
	uploader := &fakeUploader{}
	jobs := &fakeEnqueuer{}
	svc := NewBatchService(batches, images, &fakeVectorRepo{}, uploader, jobs, 3, nil)

	batch, err := svc.CreateBatch(context.Background(), "game-1", "user-1", batchFiles("p1.png", "p2.png", "p3.png"))
	require.NoError(t, err)

	assert.Equal(t, models.BatchPending, batch.Status)
	assert.Equal(t, 3, batch.TotalImages)
	assert.Equal(t, 3, batch.MaxRetries)

	require.Len(t, images.inserted, 3)
	for i, img := range images.inserted {
		assert.Equal(t, batch.ID, img.BatchID)
		assert.Equal(t, i+1, img.PageNumber)
		assert.Equal(t, models.ImageUploaded, img.ProcessingStatus)
		assert.Equal(t, "user-1", img.UploadedBy)
		assert.Contains(t, img.ObjectPath, "games/game-1/batches/"+batch.ID+"/")
	}

	require.Len(t, jobs.jobs, 3)
	assert.Equal(t, images.inserted[0].ID, jobs.jobs[0].ImageID)
	assert.Equal(t, batch.ID, jobs.jobs[0].BatchID)
}

func TestBatchService_CreateBatchRejectsEmpty(t *testing.T) {
	svc := NewBatchService(&fakeBatchRepo{}, &fakeImageRepo{}, &fakeVectorRepo{}, &fakeUploader{}, &fakeEnqueuer{}, 3, nil)

	_, err := svc.CreateBatch(context.Background(), "game-1", "user-1", nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.CreateBatch(context.Background(), "", "user-1", batchFiles("p1.png"))
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestBatchService_CreateBatchSurvivesQueueOutage(t *testing.T) {
	batches := &fakeBatchRepo{}
	images := &fakeImageRepo{}
	jobs := &fakeEnqueuer{err: assert.AnError}
	svc := NewBatchService(batches, images, &fakeVectorRepo{}, &fakeUploader{}, jobs, 3, nil)

	batch, err := svc.CreateBatch(context.Background(), "game-1", "user-1", batchFiles("p1.png"))
	require.NoError(t, err)

	// rows are durable; the recovery loop will re-enqueue
	assert.Len(t, batches.inserted, 1)
	assert.Len(t, images.inserted, 1)
	assert.Equal(t, models.BatchPending, batch.Status)
}

func TestBatchService_GetStatus(t *testing.T) {
	batches := &fakeBatchRepo{batches: map[string]*models.ImageBatch{
		"b1": {ID: "b1", GameID: "g1", TotalImages: 10, ProcessedImages: 7, FailedImages: 3, Status: models.BatchPartiallyCompleted, MaxRetries: 3},
	}}
	svc := NewBatchService(batches, &fakeImageRepo{}, &fakeVectorRepo{}, &fakeUploader{}, &fakeEnqueuer{}, 3, nil)

	view, err := svc.GetStatus(context.Background(), "b1")
	require.NoError(t, err)

	assert.Equal(t, "7/10", view.ProgressRatio)
	assert.Equal(t, "3/10", view.FailedRatio)
	assert.InDelta(t, 70.0, view.CompletionPercentage, 0.001)
	assert.InDelta(t, 30.0, view.FailurePercentage, 0.001)
	assert.True(t, view.CanRetry)
}

func TestBatchService_GetStatusNotFound(t *testing.T) {
	svc := NewBatchService(&fakeBatchRepo{}, &fakeImageRepo{}, &fakeVectorRepo{}, &fakeUploader{}, &fakeEnqueuer{}, 3, nil)

	_, err := svc.GetStatus(context.Background(), "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestBatchService_RetryReEnqueuesFailedImages(t *testing.T) {
	batches := &fakeBatchRepo{batches: map[string]*models.ImageBatch{
		"b1": {ID: "b1", GameID: "g1", TotalImages: 5, ProcessedImages: 3, FailedImages: 2, Status: models.BatchPartiallyCompleted, RetryCount: 1, MaxRetries: 3},
	}}
	images := &fakeImageRepo{resetReturns: []models.GameImage{
		{ID: "i1", GameID: "g1", ObjectPath: "obj/1", OriginalFilename: "p1.png"},
		{ID: "i2", GameID: "g1", ObjectPath: "obj/2", OriginalFilename: "p2.png"},
	}}
	jobs := &fakeEnqueuer{}
	svc := NewBatchService(batches, images, &fakeVectorRepo{}, &fakeUploader{}, jobs, 3, nil)

	view, err := svc.Retry(context.Background(), "b1")
	require.NoError(t, err)

	require.Len(t, jobs.jobs, 2)
	assert.Equal(t, "i1", jobs.jobs[0].ImageID)
	assert.Equal(t, 2, jobs.jobs[0].RetryCount)

	assert.Equal(t, models.BatchRetrying, view.Status)
	assert.Equal(t, 2, view.RetryCount)
	assert.Equal(t, 0, view.FailedImages)
}

func TestBatchService_RetryRejectedWhenNotAllowed(t *testing.T) {
	batches := &fakeBatchRepo{batches: map[string]*models.ImageBatch{
		"exhausted": {ID: "exhausted", TotalImages: 5, FailedImages: 5, RetryCount: 3, MaxRetries: 3},
		"clean":     {ID: "clean", TotalImages: 5, ProcessedImages: 5, MaxRetries: 3},
	}}
	jobs := &fakeEnqueuer{}
	svc := NewBatchService(batches, &fakeImageRepo{}, &fakeVectorRepo{}, &fakeUploader{}, jobs, 3, nil)

	_, err := svc.Retry(context.Background(), "exhausted")
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))

	_, err = svc.Retry(context.Background(), "clean")
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))

	assert.Zero(t, batches.retryCalls)
	assert.Empty(t, jobs.jobs)
}

func TestBatchService_GetImageStatusReportsExtractedFacets(t *testing.T) {
	images := &fakeImageRepo{images: map[string]*models.GameImage{
		"i1": {ID: "i1", BatchID: "b1", OriginalFilename: "p1.png", ProcessingStatus: models.ImageCompleted},
	}}
	vectors := &fakeVectorRepo{byImage: map[string][]models.KnowledgeVector{
		"i1": {{ID: "v1", ImageID: "i1", OCRContent: "setup rules", LabelsContent: `{"game_elements":["dice"]}`}},
	}}
	svc := NewBatchService(&fakeBatchRepo{}, images, vectors, &fakeUploader{}, &fakeEnqueuer{}, 3, nil)

	view, err := svc.GetImageStatus(context.Background(), "i1")
	require.NoError(t, err)

	assert.Equal(t, "p1.png", view.Image.OriginalFilename)
	assert.Equal(t, []models.Facet{models.FacetOCR, models.FacetLabels}, view.ExtractedFacets)

	_, err = svc.GetImageStatus(context.Background(), "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestBatchService_RetryLosesRace(t *testing.T) {
	batches := &fakeBatchRepo{
		batches: map[string]*models.ImageBatch{
			"b1": {ID: "b1", TotalImages: 5, FailedImages: 2, RetryCount: 1, MaxRetries: 3},
		},
		retryErr: pgrepo.ErrRetryNotAllowed,
	}
	jobs := &fakeEnqueuer{}
	svc := NewBatchService(batches, &fakeImageRepo{}, &fakeVectorRepo{}, &fakeUploader{}, jobs, 3, nil)

	_, err := svc.Retry(context.Background(), "b1")
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))
	assert.Empty(t, jobs.jobs)
}
