package progress

import (
	"errors"
	"time"
)

// Upload statuses
const (
	StatusStarting  = "starting"
	StatusUploading = "uploading"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// TTL is how long a progress record lives after its last write
const TTL = time.Hour

// ErrNotFound is returned when no record exists for an upload id
var ErrNotFound = errors.New("progress: upload not found")

// Record is the advisory progress of one upload. It is not the system of
// record and exists before the durable File does.
type Record struct {
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	Stage         string  `json:"stage"`
	FileSize      int64   `json:"file_size"`
	UploadedBytes int64   `json:"uploaded_bytes"`
	Error         *string `json:"error"`
	LastUpdate    int64   `json:"last_update"` // unix seconds
	FileID        string  `json:"file_id,omitempty"`
	Filename      string  `json:"filename,omitempty"`
}

// Terminal reports whether the upload has finished, successfully or not
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// Field is a partial update merged into a Record
type Field func(*Record)

func Status(s string) Field {
	return func(r *Record) { r.Status = s }
}

func Percent(p float64) Field {
	return func(r *Record) {
		switch {
		case p < 0:
			p = 0
		case p > 100:
			p = 100
		}
		r.Progress = p
	}
}

func Stage(s string) Field {
	return func(r *Record) { r.Stage = s }
}

func FileSize(n int64) Field {
	return func(r *Record) { r.FileSize = n }
}

func UploadedBytes(n int64) Field {
	return func(r *Record) { r.UploadedBytes = n }
}

func FileID(id string) Field {
	return func(r *Record) { r.FileID = id }
}

func Filename(name string) Field {
	return func(r *Record) { r.Filename = name }
}

// Failed sets status=error with a human readable cause
func Failed(cause string) Field {
	return func(r *Record) {
		r.Status = StatusError
		r.Error = &cause
	}
}

// merge applies fields to prev. Progress never decreases within one upload
// and a finished upload is only reopened by a fresh "starting" update.
func merge(prev Record, exists bool, now time.Time, fields ...Field) Record {
	next := prev
	for _, f := range fields {
		f(&next)
	}

	if exists {
		restarted := next.Status == StatusStarting && prev.Status != StatusStarting
		switch {
		case restarted:
			next.Error = nil
		case prev.Terminal() && !next.Terminal():
			next = prev
		case next.Progress < prev.Progress:
			next.Progress = prev.Progress
		}
		if next.UploadedBytes < prev.UploadedBytes && !restarted {
			next.UploadedBytes = prev.UploadedBytes
		}
	}
	if next.Status != StatusError {
		next.Error = nil
	}

	next.LastUpdate = now.Unix()
	return next
}
