package storage

import (
	"path"
	"strings"
)

// SafeName reduces a user supplied filename to a safe object name
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return "audio"
	}
	return clean
}

// SourceKey is where the uploaded audio of a File is stored
func SourceKey(fileID, filename string) string {
	return fileID + "/" + SafeName(filename)
}

// TranscriptKey is where the transcript of a File is stored:
// <file id>/<name without extension>/transcript/final.json
func TranscriptKey(fileID, filename string) string {
	name := SafeName(filename)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return fileID + "/" + name + "/transcript/final.json"
}
