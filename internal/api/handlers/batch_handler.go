package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shini559/Gaming-advisor/internal/services"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

const maxImageBytes = 10 << 20 // 10 MB per file

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type BatchHandler struct {
	Batches services.BatchService
}

// Create accepts a multipart batch of rulebook page images and returns
// 202 immediately; extraction happens on the worker pool.
func (h *BatchHandler) Create(c *gin.Context) {
	const op = "BatchHandler.Create"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	gameID := c.Param("game_id")
	if gameID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "game_id is required", nil))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid multipart form", err))
		return
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "at least one image is required", nil))
		return
	}

	files := make([]services.BatchFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, fh := range headers {
		bf, f, err := openImageFile(fh)
		if err != nil {
			writeError(c, err)
			return
		}
		opened = append(opened, f)
		files = append(files, bf)
	}

	batch, err := h.Batches.CreateBatch(c.Request.Context(), gameID, userID, files)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":     batch.ID,
		"game_id":      batch.GameID,
		"status":       batch.Status,
		"total_images": batch.TotalImages,
		"created_at":   batch.CreatedAt,
	})
}

func (h *BatchHandler) GetStatus(c *gin.Context) {
	view, err := h.Batches.GetStatus(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *BatchHandler) Retry(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}
	view, err := h.Batches.Retry(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func (h *BatchHandler) GetImageStatus(c *gin.Context) {
	view, err := h.Batches.GetImageStatus(c.Request.Context(), c.Param("image_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	img := view.Image
	c.JSON(http.StatusOK, gin.H{
		"image_id":          img.ID,
		"batch_id":          img.BatchID,
		"filename":          img.OriginalFilename,
		"page_number":       img.PageNumber,
		"processing_status": img.ProcessingStatus,
		"retry_count":       img.RetryCount,
		"processing_error":  img.ProcessingError,
		"extracted_facets":  view.ExtractedFacets,
	})
}

// openImageFile validates one upload and returns it ready for the
// service. Content type is sniffed from the bytes, not trusted from
// the client header.
func openImageFile(fh *multipart.FileHeader) (services.BatchFile, multipart.File, error) {
	const op = "BatchHandler.Create"

	if fh.Size > maxImageBytes {
		return services.BatchFile{}, nil, utils.E(utils.CodeInvalidArgument, op,
			fmt.Sprintf("%s exceeds the %d MB limit", fh.Filename, maxImageBytes>>20), nil)
	}

	f, err := fh.Open()
	if err != nil {
		return services.BatchFile{}, nil, utils.E(utils.CodeInternal, op, "failed to open upload", err)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return services.BatchFile{}, nil, utils.E(utils.CodeInternal, op, "failed to read upload", err)
	}
	head = head[:n]

	ct := http.DetectContentType(head)
	if !allowedImageTypes[ct] {
		f.Close()
		return services.BatchFile{}, nil, utils.E(utils.CodeInvalidArgument, op,
			fmt.Sprintf("%s is %s; only JPEG and PNG are accepted", fh.Filename, ct), nil)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return services.BatchFile{}, nil, utils.E(utils.CodeInternal, op, "failed to rewind upload", err)
	}

	return services.BatchFile{
		Filename:    fh.Filename,
		ContentType: ct,
		Size:        int(fh.Size),
		Reader:      f,
	}, f, nil
}
