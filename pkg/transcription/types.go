package transcription

import (
	"math"
	"time"
)

// JobStatus is the upstream state of a batch transcription
type JobStatus string

const (
	StatusNotStarted JobStatus = "NotStarted"
	StatusRunning    JobStatus = "Running"
	StatusSucceeded  JobStatus = "Succeeded"
	StatusFailed     JobStatus = "Failed"
)

// Terminal reports whether the job will not change state again
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is returned by Submit
type Job struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Location string    `json:"location"`
}

// SubmitOptions configures a transcription request
type SubmitOptions struct {
	Diarization bool
	ModelRef    string // model "self" URL; empty selects the baseline model
	Locale      string
}

type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusDocument is the upstream transcription resource
type StatusDocument struct {
	Self               string    `json:"self"`
	DisplayName        string    `json:"displayName"`
	Locale             string    `json:"locale"`
	Status             JobStatus `json:"status"`
	CreatedDateTime    string    `json:"createdDateTime"`
	LastActionDateTime string    `json:"lastActionDateTime"`
	Properties         struct {
		Duration string    `json:"duration,omitempty"`
		Error    *JobError `json:"error,omitempty"`
	} `json:"properties"`
}

// FailureMessage returns the upstream reason for a Failed job
func (d *StatusDocument) FailureMessage() string {
	if d.Properties.Error == nil || d.Properties.Error.Message == "" {
		return "Unknown error"
	}
	return d.Properties.Error.Message
}

type fileLinks struct {
	ContentURL string `json:"contentUrl"`
}

type fileEntry struct {
	Kind  string    `json:"kind"`
	Name  string    `json:"name"`
	Links fileLinks `json:"links"`
}

type fileList struct {
	Values   []fileEntry `json:"values"`
	NextLink string      `json:"@nextLink,omitempty"`
}

// Word is one recognized word with its confidence
type Word struct {
	Word            string   `json:"word"`
	OffsetInTicks   float64  `json:"offsetInTicks"`
	DurationInTicks float64  `json:"durationInTicks"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

type NBest struct {
	Confidence float64 `json:"confidence"`
	Lexical    string  `json:"lexical"`
	ITN        string  `json:"itn"`
	MaskedITN  string  `json:"maskedITN"`
	Display    string  `json:"display"`
	Words      []Word  `json:"words,omitempty"`
}

// Phrase is one recognized utterance
type Phrase struct {
	RecognitionStatus string  `json:"recognitionStatus"`
	Channel           int     `json:"channel"`
	Speaker           *int    `json:"speaker,omitempty"`
	Offset            string  `json:"offset"`
	Duration          string  `json:"duration"`
	OffsetInTicks     float64 `json:"offsetInTicks"`
	DurationInTicks   float64 `json:"durationInTicks"`
	NBest             []NBest `json:"nBest"`
}

type CombinedPhrase struct {
	Channel   int    `json:"channel"`
	Lexical   string `json:"lexical"`
	ITN       string `json:"itn"`
	MaskedITN string `json:"maskedITN"`
	Display   string `json:"display"`
}

// Result is the transcription output document
type Result struct {
	Source                    string           `json:"source"`
	Timestamp                 string           `json:"timestamp"`
	DurationInTicks           float64          `json:"durationInTicks"`
	Duration                  string           `json:"duration"`
	CombinedRecognizedPhrases []CombinedPhrase `json:"combinedRecognizedPhrases"`
	RecognizedPhrases         []Phrase         `json:"recognizedPhrases"`
}

// ticksPerSecond: one tick is 100ns
const ticksPerSecond = 1e7

// DurationSeconds converts durationInTicks to seconds
func (r *Result) DurationSeconds() (float64, bool) {
	if r.DurationInTicks <= 0 {
		return 0, false
	}
	return r.DurationInTicks / ticksPerSecond, true
}

// SpeakerCount counts distinct speaker tags across recognized phrases
func (r *Result) SpeakerCount() (int, bool) {
	speakers := make(map[int]struct{})
	for _, p := range r.RecognizedPhrases {
		if p.Speaker != nil {
			speakers[*p.Speaker] = struct{}{}
		}
	}
	return len(speakers), len(speakers) > 0
}

// AccuracyPercent is the mean word confidence of the best hypothesis of
// each successful phrase, as a percentage rounded to two decimals.
// Upstream confidences are not calibrated probabilities; treat the value
// as a diagnostic.
func (r *Result) AccuracyPercent() (float64, bool) {
	var sum float64
	var n int
	for _, p := range r.RecognizedPhrases {
		if p.RecognitionStatus != "Success" || len(p.NBest) == 0 {
			continue
		}
		for _, w := range p.NBest[0].Words {
			if w.Confidence != nil {
				sum += *w.Confidence
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(sum/float64(n)*100*100) / 100, true
}

// ModelKind selects the model collection to list
type ModelKind string

const (
	ModelsBase   ModelKind = "base"
	ModelsCustom ModelKind = "custom"
)

type DeprecationDates struct {
	AdaptationDateTime    string `json:"adaptationDateTime,omitempty"`
	TranscriptionDateTime string `json:"transcriptionDateTime,omitempty"`
}

// Model is a speech-to-text model offered by the service
type Model struct {
	Self            string `json:"self"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description,omitempty"`
	Locale          string `json:"locale"`
	CreatedDateTime string `json:"createdDateTime"`
	Status          string `json:"status,omitempty"`
	Properties      struct {
		DeprecationDates DeprecationDates `json:"deprecationDates"`
	} `json:"properties"`
}

// Deprecated reports whether the model's documented transcription
// retirement date has passed. An unparseable date counts as unset and is
// returned as the error.
func (m Model) Deprecated(now time.Time) (bool, error) {
	raw := m.Properties.DeprecationDates.TranscriptionDateTime
	if raw == "" {
		return false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, err
	}
	return t.Before(now), nil
}

func (m Model) created() time.Time {
	t, _ := time.Parse(time.RFC3339, m.CreatedDateTime)
	return t
}

type modelList struct {
	Values   []Model `json:"values"`
	NextLink string  `json:"@nextLink,omitempty"`
}
