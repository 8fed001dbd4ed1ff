package transcribe

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/audioscribe/pipeline/pkg/database"
)

// StuckFiles finds and fails Files whose worker went away
type StuckFiles interface {
	FindStuckFiles(ctx context.Context, olderThan time.Duration) ([]*database.File, error)
	Fail(ctx context.Context, id, message string) error
}

// Sweeper fails Files left in processing by a worker that died mid-job.
// A live worker touches updated_at at least once per poll interval, so
// anything older than the poll ceiling plus grace is abandoned.
type Sweeper struct {
	files StuckFiles
	after time.Duration
	now   func() time.Time
}

func NewSweeper(files StuckFiles, after time.Duration) *Sweeper {
	return &Sweeper{files: files, after: after, now: time.Now}
}

// Sweep marks every stuck File as failed and returns how many it changed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.files.FindStuckFiles(ctx, s.after)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck files: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	log.Printf("\n[!] Found %d stuck files in 'processing' status\n", len(stuck))

	failed := 0
	for _, f := range stuck {
		elapsed := s.now().Sub(f.UpdatedAt)
		log.Printf("  - File %s: %s (no progress for %.0f min)\n", f.ID, f.Filename, elapsed.Minutes())

		if err := s.files.Fail(ctx, f.ID, "transcription timed out (worker lost)"); err != nil {
			log.Printf("    [✗] Failed to mark as failed: %v\n", err)
			continue
		}
		log.Printf("    [✓] Marked as failed\n")
		failed++
	}

	return failed, nil
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("[✗] Stuck file sweep failed: %v\n", err)
			}
		}
	}
}
