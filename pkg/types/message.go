package types

// IngestMessage represents the message format for the ingest_ready queue
type IngestMessage struct {
	UploadID  string `json:"upload_id"`
	LocalPath string `json:"local_path"` // staged file, shared volume with the API
	Filename  string `json:"filename"`
	OwnerID   string `json:"owner_id"`
	ModelID   string `json:"model_id,omitempty"` // model "self" URL
	ModelName string `json:"model_name,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// TranscribeMessage represents the message format for the transcribe_ready queue
type TranscribeMessage struct {
	FileID string `json:"file_id"`
	Locale string `json:"locale,omitempty"` // overrides the File's locale
}
