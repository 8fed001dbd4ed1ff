package database

import "time"

// FileStatus is the lifecycle state of a File
type FileStatus string

const (
	StatusUploaded   FileStatus = "uploaded"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusError      FileStatus = "error"
)

// Terminal reports whether no further transitions are allowed
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a File may move from one status to another.
// processing -> processing is allowed so a redelivered job can resume.
func CanTransition(from, to FileStatus) bool {
	switch from {
	case StatusUploaded:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

// Stages recorded in current_stage
const (
	StageQueued       = "queued"
	StageTranscribing = "transcribing"
	StageFinalizing   = "finalizing"
	StageCompleted    = "completed"
	StageFailed       = "failed"
)

// File is the durable record of an uploaded recording and its transcript
type File struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Filename           string     `json:"filename"`
	UploadTime         time.Time  `json:"upload_time"`
	Status             FileStatus `json:"status"`
	CurrentStage       string     `json:"current_stage"`
	ProgressPercent    float64    `json:"progress_percent"`
	BlobURL            string     `json:"blob_url"`
	BlobPath           string     `json:"blob_path"`
	TranscriptURL      *string    `json:"transcript_url"`
	TranscriptPath     *string    `json:"transcript_path"`
	TranscriptionJobID *string    `json:"transcription_job_id"`
	SubmittedAt        *time.Time `json:"submitted_at"`
	ModelID            *string    `json:"model_id"`
	ModelName          *string    `json:"model_name"`
	Locale             *string    `json:"locale"`
	DurationSeconds    *float64   `json:"duration_seconds"`
	SpeakerCount       *int       `json:"speaker_count"`
	AccuracyPercent    *float64   `json:"accuracy_percent"`
	ErrorMessage       *string    `json:"error_message"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Metadata holds values derived from a finished transcript. Nil fields are
// left untouched.
type Metadata struct {
	DurationSeconds *float64
	SpeakerCount    *int
	AccuracyPercent *float64
}
