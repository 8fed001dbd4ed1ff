package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/transcription"
	"github.com/audioscribe/pipeline/pkg/types"
)

// Speech is the part of the transcription client the worker drives
type Speech interface {
	Submit(ctx context.Context, audioURL string, opts transcription.SubmitOptions) (*transcription.Job, error)
	GetStatus(ctx context.Context, jobID string) (*transcription.StatusDocument, error)
	GetResult(ctx context.Context, jobID string) (*transcription.Result, []byte, error)
}

// Objects stores the transcript document
type Objects interface {
	UploadBytes(ctx context.Context, data []byte, remotePath, contentType string) (string, error)
}

// Files is the File repository surface used while transcribing
type Files interface {
	GetFile(ctx context.Context, id string) (*database.File, error)
	MarkProcessing(ctx context.Context, id, stage string, percent float64) error
	SetJobID(ctx context.Context, id, jobID string) error
	Touch(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, percent float64, stage string) error
	Complete(ctx context.Context, id, transcriptURL, transcriptPath string) error
	SetMetadata(ctx context.Context, id string, m database.Metadata) error
	Fail(ctx context.Context, id, message string) error
}

// Progress checkpoints of a File while it is transcribed
const (
	percentStarted   = 10
	percentSubmitted = 50
	percentPollMax   = 90
	percentFetching  = 95
)

// Options tunes the poll loop
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// DefaultOptions polls once a minute for up to two hours
func DefaultOptions() Options {
	return Options{PollInterval: time.Minute, MaxAttempts: 120}
}

// Worker drives one File through an upstream batch transcription job. It
// blocks for the lifetime of the job and only ends early when ctx is
// cancelled, in which case no terminal state is written and the message
// is redelivered to resume polling.
type Worker struct {
	speech  Speech
	objects Objects
	files   Files
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func NewWorker(speech Speech, objects Objects, files Files, opts Options) *Worker {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Worker{
		speech:  speech,
		objects: objects,
		files:   files,
		opts:    opts,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Handle is the queue entry point. Jobs that end in a recorded error are
// acknowledged; a missing File, an unreadable message or shutdown return
// the error.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg types.TranscribeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return apperr.Validation("body", "failed to parse transcribe message: %v", err)
	}
	return w.Process(ctx, msg)
}

// Process transcribes the File named by msg
func (w *Worker) Process(ctx context.Context, msg types.TranscribeMessage) error {
	if msg.FileID == "" {
		return apperr.Validation("file_id", "file id is required")
	}

	file, err := w.files.GetFile(ctx, msg.FileID)
	if err != nil {
		log.Printf("[✗] Cannot load file %s: %v\n", msg.FileID, err)
		return err
	}
	if file.Status.Terminal() {
		log.Printf("[↷] Skip: file %s already %s\n", file.ID, file.Status)
		return nil
	}

	log.Printf("[*] Transcribing file %s (%s)\n", file.ID, file.Filename)

	if err := w.files.MarkProcessing(ctx, file.ID, database.StageTranscribing, percentStarted); err != nil {
		if errors.Is(err, database.ErrStatusConflict) {
			log.Printf("[↷] Skip: file %s changed state: %v\n", file.ID, err)
			return nil
		}
		log.Printf("[✗] Cannot start file %s: %v\n", file.ID, err)
		return err
	}

	jobID, err := w.submit(ctx, file, msg.Locale)
	if err != nil {
		return w.abort(ctx, file.ID, fmt.Sprintf("transcription submission failed: %v", err), err)
	}

	return w.poll(ctx, file, jobID)
}

// submit starts the upstream job, or resumes the one recorded on a File
// whose previous worker was interrupted
func (w *Worker) submit(ctx context.Context, file *database.File, locale string) (string, error) {
	if file.Status == database.StatusProcessing && file.TranscriptionJobID != nil && *file.TranscriptionJobID != "" {
		log.Printf("    [→] Resuming transcription job %s\n", *file.TranscriptionJobID)
		return *file.TranscriptionJobID, nil
	}

	opts := transcription.SubmitOptions{Diarization: true}
	if file.ModelID != nil {
		opts.ModelRef = *file.ModelID
	}
	opts.Locale = locale
	if opts.Locale == "" && file.Locale != nil {
		opts.Locale = *file.Locale
	}

	job, err := w.speech.Submit(ctx, file.BlobURL, opts)
	if err != nil {
		return "", err
	}

	if err := w.files.SetJobID(ctx, file.ID, job.ID); err != nil {
		log.Printf("    [!] Could not record job id %s: %v\n", job.ID, err)
	}
	w.progress(ctx, file.ID, percentSubmitted, "")
	return job.ID, nil
}

func (w *Worker) poll(ctx context.Context, file *database.File, jobID string) error {
	limit := w.opts.MaxAttempts
	first := w.firstAttempt(file)
	if first > 1 {
		log.Printf("    [→] Job %s already polled elsewhere, continuing at check %d/%d\n", jobID, first, limit)
	}

	for attempt := first; attempt <= limit; attempt++ {
		doc, err := w.speech.GetStatus(ctx, jobID)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			// a failed status call uses up the attempt but not the job
			log.Printf("    [!] Status check %d/%d for job %s failed: %v\n", attempt, limit, jobID, err)
			w.touch(ctx, file.ID)
		default:
			log.Printf("    Transcription %s status: %s (attempt %d/%d)\n", jobID, doc.Status, attempt, limit)

			switch doc.Status {
			case transcription.StatusSucceeded:
				return w.finish(ctx, file, jobID)
			case transcription.StatusFailed:
				reason := doc.FailureMessage()
				return w.abort(ctx, file.ID, "transcription failed: "+reason, errors.New(reason))
			case transcription.StatusRunning:
				w.progress(ctx, file.ID, rampPercent(attempt, limit), "")
			default:
				w.touch(ctx, file.ID)
			}
		}

		if attempt == limit {
			break
		}
		if err := w.sleep(ctx, w.opts.PollInterval); err != nil {
			log.Printf("[!] Stopped polling job %s: %v\n", jobID, err)
			return err
		}
	}

	ceiling := time.Duration(limit) * w.opts.PollInterval
	reason := fmt.Sprintf("transcription timed out after %d status checks (%v)", limit, ceiling)
	return w.abort(ctx, file.ID, reason, errors.New(reason))
}

// firstAttempt charges a resumed job for the checks that fit in the time
// since it was submitted, so the poll ceiling holds per File and not per
// delivery. A job past the ceiling still gets one final check.
func (w *Worker) firstAttempt(file *database.File) int {
	if file.SubmittedAt == nil {
		return 1
	}
	used := int(w.now().Sub(*file.SubmittedAt) / w.opts.PollInterval)
	if used < 0 {
		used = 0
	}
	if used >= w.opts.MaxAttempts {
		return w.opts.MaxAttempts
	}
	return used + 1
}

// finish stores the result of a succeeded job and completes the File.
// Metadata is derived last and never fails the job.
func (w *Worker) finish(ctx context.Context, file *database.File, jobID string) error {
	w.progress(ctx, file.ID, percentFetching, database.StageFinalizing)

	result, raw, err := w.speech.GetResult(ctx, jobID)
	if err != nil {
		return w.abort(ctx, file.ID, fmt.Sprintf("failed to fetch transcription result: %v", err), err)
	}
	log.Printf("    [✓] Retrieved %d recognized phrases\n", len(result.RecognizedPhrases))

	path := storage.TranscriptKey(file.ID, file.Filename)
	url, err := w.objects.UploadBytes(ctx, raw, path, "application/json")
	if err != nil {
		return w.abort(ctx, file.ID, fmt.Sprintf("failed to store transcript: %v", err), err)
	}

	if err := w.files.Complete(ctx, file.ID, url, path); err != nil {
		return w.abort(ctx, file.ID, fmt.Sprintf("failed to record completion: %v", err), err)
	}
	log.Printf("[✓] File %s completed, transcript at %s\n", file.ID, path)

	if err := w.files.SetMetadata(ctx, file.ID, metadataFrom(result)); err != nil {
		log.Printf("    [!] Could not store transcript metadata for %s: %v\n", file.ID, err)
	}
	return nil
}

// abort converges the File on error. The job's failure has been recorded,
// so only shutdown is reported back to the queue.
func (w *Worker) abort(ctx context.Context, fileID, reason string, cause error) error {
	if ctx.Err() != nil {
		log.Printf("[!] Transcription of %s interrupted: %v\n", fileID, cause)
		return ctx.Err()
	}

	log.Printf("[✗] %s: %s\n", fileID, reason)
	if err := w.files.Fail(context.WithoutCancel(ctx), fileID, reason); err != nil {
		log.Printf("    [✗] Could not mark file %s as failed: %v\n", fileID, err)
		return err
	}
	return nil
}

// touch shows the sweeper this File's worker is still alive
func (w *Worker) touch(ctx context.Context, fileID string) {
	if err := w.files.Touch(ctx, fileID); err != nil {
		log.Printf("    [!] Could not touch file %s: %v\n", fileID, err)
	}
}

func (w *Worker) progress(ctx context.Context, fileID string, percent float64, stage string) {
	if err := w.files.UpdateProgress(ctx, fileID, percent, stage); err != nil {
		log.Printf("    [!] Could not update progress of %s to %.0f%%: %v\n", fileID, percent, err)
	}
}

// rampPercent spreads the Running phase linearly over 50..90
func rampPercent(attempt, attempts int) float64 {
	if attempts <= 0 {
		return percentSubmitted
	}
	p := percentSubmitted + float64(percentPollMax-percentSubmitted)*float64(attempt)/float64(attempts)
	if p > percentPollMax {
		p = percentPollMax
	}
	return p
}

func metadataFrom(result *transcription.Result) database.Metadata {
	var m database.Metadata

	if d, ok := result.DurationSeconds(); ok {
		m.DurationSeconds = &d
	} else {
		log.Println("    [!] Transcript has no duration")
	}
	if n, ok := result.SpeakerCount(); ok {
		m.SpeakerCount = &n
	} else {
		log.Println("    [!] Transcript has no speaker tags")
	}
	if a, ok := result.AccuracyPercent(); ok {
		m.AccuracyPercent = &a
	} else {
		log.Println("    [!] Transcript has no word confidences")
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
