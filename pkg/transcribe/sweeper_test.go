package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/audioscribe/pipeline/pkg/database"
)

type fakeStuck struct {
	files   []*database.File
	failed  map[string]string
	findErr error
	failErr map[string]error
	after   time.Duration
}

func (f *fakeStuck) FindStuckFiles(ctx context.Context, olderThan time.Duration) ([]*database.File, error) {
	f.after = olderThan
	return f.files, f.findErr
}

func (f *fakeStuck) Fail(ctx context.Context, id, message string) error {
	if err := f.failErr[id]; err != nil {
		return err
	}
	f.failed[id] = message
	return nil
}

func TestSweepFailsStuckFiles(t *testing.T) {
	now := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	store := &fakeStuck{
		files: []*database.File{
			{ID: "a", Filename: "a.wav", UpdatedAt: now.Add(-3 * time.Hour)},
			{ID: "b", Filename: "b.wav", UpdatedAt: now.Add(-4 * time.Hour)},
		},
		failed:  map[string]string{},
		failErr: map[string]error{"b": errors.New("locked")},
	}
	s := NewSweeper(store, 150*time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || store.failed["a"] != "transcription timed out (worker lost)" {
		t.Fatalf("n = %d, failed = %v", n, store.failed)
	}
	if store.after != 150*time.Minute {
		t.Fatalf("threshold = %v", store.after)
	}
}

func TestSweepReportsQueryFailure(t *testing.T) {
	s := NewSweeper(&fakeStuck{findErr: errors.New("db down")}, time.Hour)
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
