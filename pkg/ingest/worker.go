package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/progress"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/types"
	"github.com/google/uuid"
)

// ObjectStore is the part of the storage client ingestion needs
type ObjectStore interface {
	Upload(ctx context.Context, localPath, remotePath string, sink storage.ProgressSink) (string, error)
	Delete(ctx context.Context, remotePath string) (bool, error)
}

// FileStore persists the File created for a finished upload
type FileStore interface {
	CreateFile(ctx context.Context, f *database.File) error
	GetFile(ctx context.Context, id string) (*database.File, error)
	Fail(ctx context.Context, id, message string) error
}

// Publisher enqueues follow-up work
type Publisher interface {
	Publish(ctx context.Context, queue string, message any) error
}

// Worker moves a staged upload into object storage, records the File and
// hands it to transcription
type Worker struct {
	progress        *progress.Tracker
	objects         ObjectStore
	files           FileStore
	queue           Publisher
	transcribeQueue string
	newID           func() string
}

func NewWorker(tracker *progress.Tracker, objects ObjectStore, files FileStore, queue Publisher, transcribeQueue string) *Worker {
	return &Worker{
		progress:        tracker,
		objects:         objects,
		files:           files,
		queue:           queue,
		transcribeQueue: transcribeQueue,
		newID:           uuid.NewString,
	}
}

// Handle is the queue entry point. Ingestion failures are recorded on the
// progress record and acknowledged; only undecodable messages and
// interrupted work are returned as errors.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg types.IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return apperr.Validation("body", "failed to parse ingest message: %v", err)
	}

	_, err := w.Process(ctx, msg)
	switch {
	case err == nil:
		return nil
	case msg.UploadID == "", ctx.Err() != nil:
		return err
	default:
		// already reported on the progress record
		return nil
	}
}

// Process runs one upload end to end and returns the created File. On any
// failure the progress record is set to error and no File is left behind.
func (w *Worker) Process(ctx context.Context, msg types.IngestMessage) (*database.File, error) {
	if msg.UploadID == "" {
		return nil, apperr.Validation("upload_id", "upload id is required")
	}

	if file, done := w.alreadyIngested(ctx, msg.UploadID); done {
		removeStaged(msg.LocalPath)
		return file, nil
	}

	log.Printf("[*] Ingesting upload %s (%s)\n", msg.UploadID, msg.Filename)
	if msg.Filename == "" {
		msg.Filename = filepath.Base(msg.LocalPath)
	}

	w.progress.Update(ctx, msg.UploadID,
		progress.Status(progress.StatusStarting),
		progress.Stage("validating"),
		progress.Percent(0),
		progress.Filename(msg.Filename),
	)

	size, err := stagedSize(msg.LocalPath)
	if err != nil {
		return nil, w.fail(ctx, msg, err)
	}

	w.progress.Update(ctx, msg.UploadID,
		progress.Status(progress.StatusUploading),
		progress.Stage("uploading"),
		progress.FileSize(size),
	)

	fileID := w.newID()
	objectKey := storage.SourceKey(fileID, msg.Filename)

	relay := w.progress.Relay(msg.UploadID)
	blobURL, err := w.objects.Upload(ctx, msg.LocalPath, objectKey, relay)
	relay.Close()
	if err != nil {
		return nil, w.fail(ctx, msg, err)
	}

	file := &database.File{
		ID:           fileID,
		OwnerID:      msg.OwnerID,
		Filename:     msg.Filename,
		Status:       database.StatusProcessing,
		CurrentStage: database.StageQueued,
		BlobURL:      blobURL,
		BlobPath:     objectKey,
		ModelID:      optional(msg.ModelID),
		ModelName:    optional(msg.ModelName),
		Locale:       optional(msg.Locale),
	}
	if err := w.files.CreateFile(ctx, file); err != nil {
		w.removeOrphan(ctx, objectKey)
		return nil, w.fail(ctx, msg, err)
	}
	log.Printf("    [✓] Created file %s\n", file.ID)

	err = w.queue.Publish(ctx, w.transcribeQueue, types.TranscribeMessage{FileID: file.ID, Locale: msg.Locale})
	if err != nil {
		reason := fmt.Sprintf("failed to enqueue transcription: %v", err)
		if ferr := w.files.Fail(ctx, file.ID, reason); ferr != nil {
			log.Printf("    [✗] Could not mark file %s as failed: %v\n", file.ID, ferr)
		}
		return nil, w.fail(ctx, msg, errors.New(reason))
	}

	w.progress.Update(ctx, msg.UploadID,
		progress.Status(progress.StatusCompleted),
		progress.Stage("queued for transcription"),
		progress.Percent(100),
		progress.FileID(file.ID),
	)
	removeStaged(msg.LocalPath)

	log.Printf("[✓] Upload %s stored as file %s\n", msg.UploadID, file.ID)
	return file, nil
}

// alreadyIngested reports whether a redelivered message belongs to an
// upload that already produced a File. The progress record is left as is.
func (w *Worker) alreadyIngested(ctx context.Context, uploadID string) (*database.File, bool) {
	rec, err := w.progress.Get(ctx, uploadID)
	if err != nil || rec.Status != progress.StatusCompleted || rec.FileID == "" {
		return nil, false
	}

	log.Printf("[↷] Skip: upload %s already stored as file %s\n", uploadID, rec.FileID)
	file, err := w.files.GetFile(ctx, rec.FileID)
	if err != nil {
		log.Printf("    [!] Could not load file %s: %v\n", rec.FileID, err)
		return nil, true
	}
	return file, true
}

// fail records err on the progress record and drops the staged file. An
// interrupted upload keeps its staged file so redelivery can retry it.
func (w *Worker) fail(ctx context.Context, msg types.IngestMessage, err error) error {
	if ctx.Err() != nil {
		log.Printf("[!] Ingestion of %s interrupted, leaving %s for redelivery: %v\n", msg.UploadID, msg.LocalPath, err)
		return err
	}

	log.Printf("[✗] Ingestion of %s failed: %v\n", msg.UploadID, err)
	w.progress.Update(context.WithoutCancel(ctx), msg.UploadID, progress.Failed(describe(err)))
	removeStaged(msg.LocalPath)
	return err
}

func (w *Worker) removeOrphan(ctx context.Context, objectKey string) {
	if _, err := w.objects.Delete(context.WithoutCancel(ctx), objectKey); err != nil {
		log.Printf("    [!] Could not remove orphaned object %s: %v\n", objectKey, err)
	}
}

func stagedSize(path string) (int64, error) {
	if path == "" {
		return 0, apperr.Validation("local_path", "staged file path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, apperr.Validation("local_path", "file not found at path: %s", path)
	}
	if info.IsDir() {
		return 0, apperr.Validation("local_path", "path is a directory: %s", path)
	}
	if info.Size() == 0 {
		return 0, apperr.Validation("local_path", "file is empty (0 bytes): %s", filepath.Base(path))
	}
	return info.Size(), nil
}

func removeStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("    [!] Could not remove temp file %s: %v\n", path, err)
	}
}

// describe turns err into the message shown to the uploader
func describe(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case apperr.KindValidation:
			return e.Msg
		case apperr.KindStorage:
			return "upload to storage failed: " + err.Error()
		case apperr.KindDatabase:
			return "could not save file record: " + err.Error()
		}
	}
	return err.Error()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
