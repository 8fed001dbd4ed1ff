package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/progress"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/types"
)

type fakeObjects struct {
	mu       sync.Mutex
	uploads  []string
	deleted  []string
	err      error
	progress []float64
}

func (f *fakeObjects) Upload(ctx context.Context, localPath, remotePath string, sink storage.ProgressSink) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, remotePath)
	if f.err != nil {
		sink.Failed(f.err)
		return "", f.err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	for _, p := range f.progress {
		sink.Progress(p, int64(p/100*float64(info.Size())), info.Size())
	}
	return "https://storage.test/transcriptions/" + remotePath + "?X-Amz-Signature=s", nil
}

func (f *fakeObjects) Delete(ctx context.Context, remotePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, remotePath)
	return true, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []types.TranscribeMessage
	queues   []string
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, queue string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.queues = append(p.queues, queue)
	p.messages = append(p.messages, message.(types.TranscribeMessage))
	return nil
}

type failingFiles struct{}

func (failingFiles) CreateFile(context.Context, *database.File) error {
	return apperr.Database("create file", errors.New("disk full"))
}

func (failingFiles) GetFile(_ context.Context, id string) (*database.File, error) {
	return nil, apperr.NotFound("get file", "file %s not found", id)
}

func (failingFiles) Fail(context.Context, string, string) error { return nil }

type harness struct {
	worker    *Worker
	tracker   *progress.Tracker
	objects   *fakeObjects
	publisher *fakePublisher
	db        *database.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		tracker:   progress.NewTracker(nil, nil),
		objects:   &fakeObjects{progress: []float64{25, 60, 99}},
		publisher: &fakePublisher{},
		db:        db,
	}
	h.worker = NewWorker(h.tracker, h.objects, db, h.publisher, "transcribe_ready")
	h.worker.newID = func() string { return "file-1" }
	return h
}

func stage(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (h *harness) ownerFiles(t *testing.T, owner string) []*database.File {
	t.Helper()
	files, err := h.db.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	return files
}

func TestEmptyFileFailsBeforeAnyFileExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := types.IngestMessage{UploadID: "up-1", LocalPath: stage(t, "empty.wav", 0), Filename: "empty.wav", OwnerID: "u1"}

	_, err := h.worker.Process(ctx, msg)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	if len(h.objects.uploads) != 0 {
		t.Fatalf("uploads = %v, want none", h.objects.uploads)
	}
	if files := h.ownerFiles(t, "u1"); len(files) != 0 {
		t.Fatalf("files = %d, want 0", len(files))
	}

	rec, err := h.tracker.Get(ctx, "up-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != progress.StatusError || rec.Error == nil || !strings.Contains(*rec.Error, "empty") {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := os.Stat(msg.LocalPath); !os.IsNotExist(err) {
		t.Fatal("staged file not removed")
	}
}

func TestProcessStoresFileAndEnqueuesTranscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := types.IngestMessage{
		UploadID:  "up-2",
		LocalPath: stage(t, "staged.tmp", 2048),
		Filename:  "Team call (1).wav",
		OwnerID:   "u1",
		ModelID:   "https://models.test/custom/7",
		Locale:    "en-AU",
	}

	file, err := h.worker.Process(ctx, msg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(h.objects.uploads) != 1 || h.objects.uploads[0] != "file-1/Team_call__1_.wav" {
		t.Fatalf("uploads = %v", h.objects.uploads)
	}

	stored, err := h.db.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if stored.Status != database.StatusProcessing || stored.CurrentStage != database.StageQueued || stored.ProgressPercent != 0 {
		t.Fatalf("stored = %+v", stored)
	}
	if !strings.HasPrefix(stored.BlobURL, "https://storage.test/") || stored.BlobPath != "file-1/Team_call__1_.wav" {
		t.Fatalf("blob = %s %s", stored.BlobURL, stored.BlobPath)
	}
	if stored.ModelID == nil || *stored.ModelID != msg.ModelID || stored.ModelName != nil {
		t.Fatalf("model = %v %v", stored.ModelID, stored.ModelName)
	}

	if len(h.publisher.messages) != 1 || h.publisher.messages[0].FileID != "file-1" || h.publisher.queues[0] != "transcribe_ready" {
		t.Fatalf("published = %+v", h.publisher.messages)
	}

	rec, _ := h.tracker.Get(ctx, "up-2")
	if rec.Status != progress.StatusCompleted || rec.Progress != 100 || rec.FileID != "file-1" || rec.FileSize != 2048 {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := os.Stat(msg.LocalPath); !os.IsNotExist(err) {
		t.Fatal("staged file not removed")
	}
}

func TestUploadFailureLeavesNoFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.objects.err = apperr.Storage("put", errors.New("connection reset"))
	msg := types.IngestMessage{UploadID: "up-3", LocalPath: stage(t, "a.wav", 10), Filename: "a.wav", OwnerID: "u1"}

	if _, err := h.worker.Process(ctx, msg); !apperr.IsKind(err, apperr.KindStorage) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if files := h.ownerFiles(t, "u1"); len(files) != 0 {
		t.Fatalf("files = %d, want 0", len(files))
	}
	if len(h.publisher.messages) != 0 {
		t.Fatal("transcription enqueued after failed upload")
	}

	rec, _ := h.tracker.Get(ctx, "up-3")
	if rec.Status != progress.StatusError || !strings.Contains(*rec.Error, "connection reset") {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := os.Stat(msg.LocalPath); !os.IsNotExist(err) {
		t.Fatal("staged file not removed")
	}
}

func TestEnqueueFailureFailsFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publisher.err = errors.New("channel closed")
	msg := types.IngestMessage{UploadID: "up-4", LocalPath: stage(t, "a.wav", 10), Filename: "a.wav", OwnerID: "u1"}

	if _, err := h.worker.Process(ctx, msg); err == nil {
		t.Fatal("expected error")
	}

	stored, err := h.db.GetFile(ctx, "file-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if stored.Status != database.StatusError || !strings.Contains(*stored.ErrorMessage, "failed to enqueue transcription") {
		t.Fatalf("stored = %+v", stored)
	}

	rec, _ := h.tracker.Get(ctx, "up-4")
	if rec.Status != progress.StatusError {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRecordFailureRemovesUploadedObject(t *testing.T) {
	h := newHarness(t)
	h.worker.files = failingFiles{}
	msg := types.IngestMessage{UploadID: "up-5", LocalPath: stage(t, "a.wav", 10), Filename: "a.wav"}

	if _, err := h.worker.Process(context.Background(), msg); !apperr.IsKind(err, apperr.KindDatabase) {
		t.Fatalf("err = %v, want database error", err)
	}
	if len(h.objects.deleted) != 1 || h.objects.deleted[0] != "file-1/a.wav" {
		t.Fatalf("deleted = %v", h.objects.deleted)
	}
}

func TestRedeliveryAfterSuccessIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := types.IngestMessage{UploadID: "up-7", LocalPath: stage(t, "a.wav", 64), Filename: "a.wav", OwnerID: "u1"}
	body, _ := json.Marshal(msg)

	if err := h.worker.Handle(ctx, body); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.worker.Handle(ctx, body); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	rec, _ := h.tracker.Get(ctx, "up-7")
	if rec.Status != progress.StatusCompleted || rec.Progress != 100 || rec.FileID != "file-1" || rec.Error != nil {
		t.Fatalf("record after redelivery = %+v", rec)
	}
	if len(h.objects.uploads) != 1 || len(h.publisher.messages) != 1 {
		t.Fatalf("uploads = %d, published = %d, want 1 each", len(h.objects.uploads), len(h.publisher.messages))
	}
	if files := h.ownerFiles(t, "u1"); len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}

	file, err := h.worker.Process(ctx, msg)
	if err != nil || file == nil || file.ID != "file-1" {
		t.Fatalf("Process = %v, %v; want the existing file", file, err)
	}
}

func TestHandleAcknowledgesReportedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.worker.Handle(ctx, []byte(`{"upload_id": "up-6", "local_path": "/does/not/exist.wav"}`)); err != nil {
		t.Fatalf("Handle: %v, want nil for a failure recorded on progress", err)
	}
	if err := h.worker.Handle(ctx, []byte(`not json`)); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("Handle: %v, want validation error", err)
	}
	if err := h.worker.Handle(ctx, []byte(`{"local_path": "/tmp/x.wav"}`)); err == nil {
		t.Fatal("message without upload id should be rejected")
	}
}
