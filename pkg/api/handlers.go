package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/progress"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/transcription"
	"github.com/audioscribe/pipeline/pkg/types"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Files is the File surface the API reads and deletes through
type Files interface {
	Get(ctx context.Context, id string) (*database.File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*database.File, error)
	Delete(ctx context.Context, id string) error
	RefreshURLs(ctx context.Context, id string) (*database.File, error)
}

// Publisher hands staged uploads to the ingest workers
type Publisher interface {
	Publish(ctx context.Context, queue string, message any) error
}

// Models lists transcription models. Optional.
type Models interface {
	ListModels(ctx context.Context, kind transcription.ModelKind) ([]transcription.Model, error)
}

// Handler serves upload staging, progress and File reads
type Handler struct {
	progress    *progress.Tracker
	files       Files
	queue       Publisher
	ingestQueue string
	uploadDir   string
	models      Models
	newID       func() string
}

// NewHandler creates a Handler. models may be nil when no speech key is configured.
func NewHandler(tracker *progress.Tracker, files Files, queue Publisher, ingestQueue, uploadDir string, models Models) *Handler {
	return &Handler{
		progress:    tracker,
		files:       files,
		queue:       queue,
		ingestQueue: ingestQueue,
		uploadDir:   uploadDir,
		models:      models,
		newID:       uuid.NewString,
	}
}

// Register mounts the routes on e
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/uploads", h.Upload)
	e.GET("/uploads/:id/progress", h.Progress)
	e.GET("/files/:id", h.GetFile)
	e.DELETE("/files/:id", h.DeleteFile)
	e.POST("/files/:id/refresh-urls", h.RefreshURLs)
	e.GET("/owners/:owner/files", h.ListFiles)
	if h.models != nil {
		e.GET("/models/:kind", h.ListModels)
	}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "ok",
		"progress_degraded": h.progress.Degraded(),
	})
}

// Upload stages the multipart file on the shared volume and queues it for ingestion
func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no file uploaded"})
	}

	uploadID := h.newID()
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	staged := filepath.Join(h.uploadDir, uploadID+"_"+storage.SafeName(fh.Filename))
	if err := stage(fh, staged); err != nil {
		log.Printf("[✗] Failed to stage upload %s: %v\n", uploadID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to stage file"})
	}

	h.progress.Update(ctx, uploadID,
		progress.Status(progress.StatusStarting),
		progress.Stage("queued"),
		progress.Percent(0),
		progress.FileSize(fh.Size),
		progress.Filename(fh.Filename),
	)

	msg := types.IngestMessage{
		UploadID:  uploadID,
		LocalPath: staged,
		Filename:  fh.Filename,
		OwnerID:   c.FormValue("owner_id"),
		ModelID:   c.FormValue("model_id"),
		ModelName: c.FormValue("model_name"),
		Locale:    c.FormValue("locale"),
	}
	if err := h.queue.Publish(ctx, h.ingestQueue, msg); err != nil {
		os.Remove(staged)
		h.progress.Update(ctx, uploadID, progress.Failed("failed to queue upload: "+err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "failed to queue upload"})
	}

	log.Printf("[→] Staged upload %s (%s, %d bytes)\n", uploadID, fh.Filename, fh.Size)
	return c.JSON(http.StatusAccepted, map[string]string{
		"upload_id": uploadID,
		"filename":  fh.Filename,
	})
}

func (h *Handler) Progress(c echo.Context) error {
	rec, err := h.progress.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, progress.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "upload not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetFile(c echo.Context) error {
	file, err := h.files.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, file)
}

func (h *Handler) ListFiles(c echo.Context) error {
	files, err := h.files.ListByOwner(c.Request().Context(), c.Param("owner"))
	if err != nil {
		return errorJSON(c, err)
	}
	if files == nil {
		files = []*database.File{}
	}
	return c.JSON(http.StatusOK, files)
}

func (h *Handler) DeleteFile(c echo.Context) error {
	if err := h.files.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RefreshURLs(c echo.Context) error {
	file, err := h.files.RefreshURLs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, file)
}

func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.models.ListModels(c.Request().Context(), transcription.ModelKind(c.Param("kind")))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, models)
}

// errorJSON maps an error kind onto a status code
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrStatusConflict):
		status = http.StatusConflict
	case apperr.IsKind(err, apperr.KindNotFound):
		status = http.StatusNotFound
	case apperr.IsKind(err, apperr.KindValidation):
		status = http.StatusBadRequest
	case apperr.IsKind(err, apperr.KindTranscription), apperr.IsKind(err, apperr.KindStorage):
		status = http.StatusBadGateway
	}
	return c.JSON(status, map[string]string{
		"error": err.Error(),
		"kind":  apperr.KindOf(err).String(),
	})
}

func stage(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
