package storage

import (
	"path/filepath"
	"strings"
)

const octetStream = "application/octet-stream"

var contentTypes = map[string]string{
	".dcr":  octetStream,
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".json": "application/json",
	".txt":  "text/plain",
}

// ContentType returns the MIME type for a path by extension
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return octetStream
}
