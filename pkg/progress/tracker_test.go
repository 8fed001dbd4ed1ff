package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (Record, error) {
	return Record{}, errors.New("connection refused")
}

func (brokenStore) Save(context.Context, string, Record, time.Duration) error {
	return errors.New("connection refused")
}

func newRedisTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisOptions(mr.Host(), mr.Port(), "", 0))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewTracker(store, nil), mr
}

func TestUpdateMergesAndStampsRecord(t *testing.T) {
	tr, mr := newRedisTracker(t)
	ctx := context.Background()

	tr.Update(ctx, "u1", Status(StatusStarting), Filename("call.wav"))
	tr.Update(ctx, "u1", Status(StatusUploading), FileSize(2048), Percent(40))

	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusUploading || rec.Filename != "call.wav" || rec.FileSize != 2048 || rec.Progress != 40 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LastUpdate == 0 {
		t.Fatal("last_update not stamped")
	}
	if ttl := mr.TTL("upload_progress:u1"); ttl != TTL {
		t.Fatalf("TTL = %v, want %v", ttl, TTL)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	tr, _ := newRedisTracker(t)

	if _, err := tr.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestErrorRecordIsNotNotFound(t *testing.T) {
	tr, _ := newRedisTracker(t)
	ctx := context.Background()

	tr.Update(ctx, "u1", Failed("file is empty"))

	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusError || rec.Error == nil || *rec.Error != "file is empty" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	tr.Update(ctx, "u1", Status(StatusUploading), Percent(60), UploadedBytes(600))
	tr.Update(ctx, "u1", Status(StatusUploading), Percent(30), UploadedBytes(300))

	rec, _ := tr.Get(ctx, "u1")
	if rec.Progress != 60 || rec.UploadedBytes != 600 {
		t.Fatalf("progress regressed: %+v", rec)
	}

	tr.Update(ctx, "u1", Status(StatusStarting), Percent(0))
	rec, _ = tr.Get(ctx, "u1")
	if rec.Progress != 0 {
		t.Fatalf("restart should reset progress, got %+v", rec)
	}
}

func TestTerminalRecordIgnoresLateProgress(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	tr.Update(ctx, "u1", Status(StatusCompleted), Percent(100), FileID("f1"))
	tr.Update(ctx, "u1", Status(StatusUploading), Percent(99))

	rec, _ := tr.Get(ctx, "u1")
	if rec.Status != StatusCompleted || rec.FileID != "f1" {
		t.Fatalf("terminal record overwritten: %+v", rec)
	}
}

func TestConnectUnreachableFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	tr, closeFn := Connect(context.Background(), RedisOptions(host, port, "", 0))
	defer closeFn()

	if !tr.Degraded() {
		t.Fatal("expected degraded tracker")
	}

	ctx := context.Background()
	tr.Update(ctx, "u1", Status(StatusUploading), Percent(10))
	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Progress != 10 {
		t.Fatalf("Progress = %v, want 10", rec.Progress)
	}
}

func TestWriteFailureMirrorsIntoFallback(t *testing.T) {
	fallback := NewMemoryStore()
	tr := NewTracker(brokenStore{}, fallback)
	ctx := context.Background()

	tr.Update(ctx, "u1", Status(StatusUploading), Percent(25))

	if fallback.Len() != 1 {
		t.Fatalf("fallback has %d records, want 1", fallback.Len())
	}
	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Progress != 25 {
		t.Fatalf("Progress = %v, want 25", rec.Progress)
	}
}

func TestPrimaryLostMidUpload(t *testing.T) {
	tr, mr := newRedisTracker(t)
	ctx := context.Background()

	tr.Update(ctx, "u1", Status(StatusUploading), Percent(20))
	mr.Close()
	tr.Update(ctx, "u1", Status(StatusUploading), Percent(50))

	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Progress != 50 {
		t.Fatalf("Progress = %v, want 50", rec.Progress)
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	m := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	_ = m.Save(context.Background(), "u1", Record{Status: StatusUploading}, time.Minute)
	now = now.Add(2 * time.Minute)

	if _, err := m.Load(context.Background(), "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRelayDeliversLatestAndFailure(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	r := tr.Relay("u1")
	r.Progress(10, 100, 1000)
	r.Progress(50, 500, 1000)
	r.Close()

	rec, err := tr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Progress != 50 || rec.UploadedBytes != 500 || rec.FileSize != 1000 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	r = tr.Relay("u2")
	r.Progress(30, 300, 1000)
	r.Failed(errors.New("bucket gone"))
	r.Progress(40, 400, 1000)
	r.Close()

	rec, _ = tr.Get(ctx, "u2")
	if rec.Status != StatusError || rec.Error == nil || *rec.Error != "bucket gone" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
