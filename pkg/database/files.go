package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/google/uuid"
)

// ErrStatusConflict is returned when the File's status does not admit the
// update, such as leaving a terminal state
var ErrStatusConflict = errors.New("file status does not allow this update")

const fileColumns = `id, owner_id, filename, upload_time, status, current_stage,
	progress_percent, blob_url, blob_path, transcript_url, transcript_path,
	transcription_job_id, submitted_at, model_id, model_name, locale, duration_seconds,
	speaker_count, accuracy_percent, error_message, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*File, error) {
	f := &File{}
	var submitted sql.NullTime
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.Filename,
		&f.UploadTime,
		&f.Status,
		&f.CurrentStage,
		&f.ProgressPercent,
		&f.BlobURL,
		&f.BlobPath,
		&f.TranscriptURL,
		&f.TranscriptPath,
		&f.TranscriptionJobID,
		&submitted,
		&f.ModelID,
		&f.ModelName,
		&f.Locale,
		&f.DurationSeconds,
		&f.SpeakerCount,
		&f.AccuracyPercent,
		&f.ErrorMessage,
		&f.UpdatedAt,
	)
	if submitted.Valid {
		f.SubmittedAt = &submitted.Time
	}
	return f, err
}

// CreateFile inserts f, assigning an id when empty. Status defaults to
// uploaded.
func (db *DB) CreateFile(ctx context.Context, f *File) error {
	if strings.TrimSpace(f.Filename) == "" {
		return apperr.Validation("filename", "filename is required")
	}
	if f.BlobURL == "" {
		return apperr.Validation("blob_url", "blob URL is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = StatusUploaded
	}
	now := db.timestamp()
	f.UploadTime = now
	f.UpdatedAt = now

	query := db.rebind(`
		INSERT INTO files (id, owner_id, filename, upload_time, status, current_stage,
		                   progress_percent, blob_url, blob_path, model_id, model_name,
		                   locale, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := db.ExecContext(ctx, query,
		f.ID, f.OwnerID, f.Filename, f.UploadTime, string(f.Status), f.CurrentStage,
		f.ProgressPercent, f.BlobURL, f.BlobPath, f.ModelID, f.ModelName,
		f.Locale, f.UpdatedAt,
	)
	if err != nil {
		return apperr.Database("create file", err)
	}
	return nil
}

// GetFile retrieves a File by id
func (db *DB) GetFile(ctx context.Context, id string) (*File, error) {
	query := db.rebind(`SELECT ` + fileColumns + ` FROM files WHERE id = ?`)

	f, err := scanFile(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("get file", "file %s not found", id)
	}
	if err != nil {
		return nil, apperr.Database("get file", err)
	}
	return f, nil
}

// ListByOwner returns the owner's Files, newest first
func (db *DB) ListByOwner(ctx context.Context, ownerID string) ([]*File, error) {
	query := db.rebind(`SELECT ` + fileColumns + ` FROM files WHERE owner_id = ? ORDER BY upload_time DESC, id`)
	return db.queryFiles(ctx, "list files", query, ownerID)
}

// FindStuckFiles returns Files a worker has started whose last update is
// older than olderThan. Files still queued for a worker are never stuck.
func (db *DB) FindStuckFiles(ctx context.Context, olderThan time.Duration) ([]*File, error) {
	cutoff := db.timestamp().Add(-olderThan)
	query := db.rebind(`
		SELECT ` + fileColumns + `
		FROM files
		WHERE status = 'processing'
		  AND current_stage <> 'queued'
		  AND updated_at < ?
		ORDER BY updated_at ASC
	`)
	return db.queryFiles(ctx, "find stuck files", query, cutoff)
}

func (db *DB) queryFiles(ctx context.Context, op, query string, args ...any) ([]*File, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database(op, err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, apperr.Database(op, fmt.Errorf("failed to scan file: %w", err))
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(op, err)
	}
	return files, nil
}

// MarkProcessing moves an uploaded or processing File to processing at
// percent. A resumed File keeps its higher progress.
func (db *DB) MarkProcessing(ctx context.Context, id, stage string, percent float64) error {
	percent = clampPercent(percent)
	query := `
		UPDATE files
		SET status = 'processing',
		    current_stage = ?,
		    progress_percent = CASE WHEN status = 'processing' AND progress_percent > ? THEN progress_percent ELSE ? END,
		    updated_at = ?
		WHERE id = ? AND status IN ('uploaded', 'processing')
	`
	return db.guardedUpdate(ctx, "mark processing", id, query, stage, percent, percent, db.timestamp(), id)
}

// UpdateProgress raises progress_percent of a processing File. Lower values
// are ignored. An empty stage keeps the current one.
func (db *DB) UpdateProgress(ctx context.Context, id string, percent float64, stage string) error {
	percent = clampPercent(percent)
	query := `
		UPDATE files
		SET progress_percent = CASE WHEN progress_percent > ? THEN progress_percent ELSE ? END,
		    current_stage = COALESCE(NULLIF(?, ''), current_stage),
		    updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return db.guardedUpdate(ctx, "update progress", id, query, percent, percent, stage, db.timestamp(), id)
}

// SetJobID records the upstream transcription job of a processing File and
// when it was submitted
func (db *DB) SetJobID(ctx context.Context, id, jobID string) error {
	now := db.timestamp()
	query := `
		UPDATE files
		SET transcription_job_id = ?,
		    submitted_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return db.guardedUpdate(ctx, "set job id", id, query, jobID, now, now, id)
}

// Touch stamps updated_at of a processing File to show its worker is alive
func (db *DB) Touch(ctx context.Context, id string) error {
	query := `UPDATE files SET updated_at = ? WHERE id = ? AND status = 'processing'`
	return db.guardedUpdate(ctx, "touch file", id, query, db.timestamp(), id)
}

// Complete marks a processing File completed with its stored transcript
func (db *DB) Complete(ctx context.Context, id, transcriptURL, transcriptPath string) error {
	if transcriptURL == "" {
		return apperr.Validation("transcript_url", "transcript URL is required to complete a file")
	}
	query := `
		UPDATE files
		SET status = 'completed',
		    current_stage = 'completed',
		    progress_percent = 100,
		    transcript_url = ?,
		    transcript_path = ?,
		    error_message = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return db.guardedUpdate(ctx, "complete file", id, query, transcriptURL, transcriptPath, db.timestamp(), id)
}

// SetMetadata stores transcript-derived values on a completed File
func (db *DB) SetMetadata(ctx context.Context, id string, m Metadata) error {
	query := `
		UPDATE files
		SET duration_seconds = COALESCE(?, duration_seconds),
		    speaker_count = COALESCE(?, speaker_count),
		    accuracy_percent = COALESCE(?, accuracy_percent),
		    updated_at = ?
		WHERE id = ? AND status = 'completed'
	`
	return db.guardedUpdate(ctx, "set metadata", id, query, m.DurationSeconds, m.SpeakerCount, m.AccuracyPercent, db.timestamp(), id)
}

// Fail moves a non-terminal File to error and clears completion fields
func (db *DB) Fail(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		return apperr.Validation("error_message", "error message is required to fail a file")
	}
	query := `
		UPDATE files
		SET status = 'error',
		    current_stage = 'failed',
		    error_message = ?,
		    transcript_url = NULL,
		    transcript_path = NULL,
		    duration_seconds = NULL,
		    speaker_count = NULL,
		    accuracy_percent = NULL,
		    updated_at = ?
		WHERE id = ? AND status IN ('uploaded', 'processing')
	`
	return db.guardedUpdate(ctx, "fail file", id, query, message, db.timestamp(), id)
}

// SetURLs replaces the capability URLs of a File. An empty transcriptURL,
// or a File that is not completed, leaves transcript_url unchanged.
func (db *DB) SetURLs(ctx context.Context, id, blobURL, transcriptURL string) error {
	query := db.rebind(`
		UPDATE files
		SET blob_url = ?,
		    transcript_url = CASE WHEN status = 'completed' AND ? <> '' THEN ? ELSE transcript_url END
		WHERE id = ?
	`)
	result, err := db.ExecContext(ctx, query, blobURL, transcriptURL, transcriptURL, id)
	if err != nil {
		return apperr.Database("set urls", err)
	}
	return requireRow(result, "set urls", id)
}

// DeleteFile removes the record. Blobs are the caller's responsibility.
func (db *DB) DeleteFile(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, db.rebind(`DELETE FROM files WHERE id = ?`), id)
	if err != nil {
		return apperr.Database("delete file", err)
	}
	return requireRow(result, "delete file", id)
}

// guardedUpdate runs a status-conditioned update and explains a miss
func (db *DB) guardedUpdate(ctx context.Context, op, id, query string, args ...any) error {
	result, err := db.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return apperr.Database(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperr.Database(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected > 0 {
		return nil
	}

	f, err := db.GetFile(ctx, id)
	if err != nil {
		return err
	}
	return &apperr.Error{
		Kind: apperr.KindValidation,
		Op:   op,
		Msg:  fmt.Sprintf("file %s has status %s", id, f.Status),
		Err:  ErrStatusConflict,
	}
}

func requireRow(result sql.Result, op, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperr.Database(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperr.NotFound(op, "file %s not found", id)
	}
	return nil
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
