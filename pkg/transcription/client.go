package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/google/go-querystring/query"
)

// APIVersion of the batch transcription REST surface
const APIVersion = "2024-11-15"

// whisperModelID is the baseline model used when none is selected
const whisperModelID = "e418c4a9-9937-4db7-b2c9-8afbff72d950"

const maxErrorBody = 4 << 10

// Config configures a Client
type Config struct {
	Key        string
	Region     string
	Locale     string
	BaseURL    string // overrides https://<region>.api.cognitive.microsoft.com/speechtotext
	HTTPClient *http.Client
}

// Client is a typed client over the batch speech-to-text REST surface.
// It never retries on its own; callers decide what a failed call means.
type Client struct {
	key     string
	locale  string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// New validates cfg and creates a client
func New(cfg Config) (*Client, error) {
	if cfg.Key == "" {
		return nil, apperr.Validation("subscription_key", "speech API subscription key is required (set AZURE_SPEECH_KEY)")
	}
	if cfg.Region == "" && cfg.BaseURL == "" {
		return nil, apperr.Validation("region", "speech API region is required (set AZURE_SPEECH_REGION)")
	}

	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext", cfg.Region)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	log.Printf("✓ Speech client initialized: %s\n", base)
	return &Client{
		key:     cfg.Key,
		locale:  cfg.Locale,
		baseURL: strings.TrimRight(base, "/"),
		http:    httpClient,
		now:     time.Now,
	}, nil
}

// DefaultModel returns the self URL of the baseline model
func (c *Client) DefaultModel() string {
	return c.baseURL + "/v3.2/models/base/" + whisperModelID
}

type versionParams struct {
	APIVersion string `url:"api-version"`
}

type pageParams struct {
	APIVersion string `url:"api-version"`
	Skip       int    `url:"skip"`
	Top        int    `url:"top"`
}

func (c *Client) endpoint(p string, params any) (string, error) {
	v, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	return c.baseURL + p + "?" + v.Encode(), nil
}

type submitModel struct {
	Self string `json:"self"`
}

type submitProperties struct {
	TimeToLiveHours                       string          `json:"timeToLiveHours"`
	Diarization                           map[string]bool `json:"diarization"`
	WordLevelTimestampsEnabled            *bool           `json:"wordLevelTimestampsEnabled,omitempty"`
	DisplayFormWordLevelTimestampsEnabled bool            `json:"displayFormWordLevelTimestampsEnabled"`
	PunctuationMode                       string          `json:"punctuationMode"`
	ProfanityFilterMode                   string          `json:"profanityFilterMode"`
}

type submitRequest struct {
	ContentURLs []string         `json:"contentUrls"`
	Locale      string           `json:"locale"`
	DisplayName string           `json:"displayName"`
	Model       submitModel      `json:"model"`
	Properties  submitProperties `json:"properties"`
}

// Submit starts a batch transcription of audioURL
func (c *Client) Submit(ctx context.Context, audioURL string, opts SubmitOptions) (*Job, error) {
	if audioURL == "" {
		return nil, apperr.Validation("audio_url", "audio URL is required")
	}
	parsed, err := url.Parse(audioURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apperr.Validation("audio_url", "invalid audio URL format: %s", audioURL)
	}

	locale := opts.Locale
	if locale == "" {
		locale = c.locale
	}
	if locale == "" {
		locale = "en-US"
	}

	wordTimestamps := true
	req := submitRequest{
		ContentURLs: []string{audioURL},
		Locale:      locale,
		DisplayName: path.Base(parsed.Path),
		Model:       submitModel{Self: opts.ModelRef},
		Properties: submitProperties{
			TimeToLiveHours:                       "12",
			Diarization:                           map[string]bool{"enabled": opts.Diarization},
			WordLevelTimestampsEnabled:            &wordTimestamps,
			DisplayFormWordLevelTimestampsEnabled: true,
			PunctuationMode:                       "DictatedAndAutomatic",
			ProfanityFilterMode:                   "Masked",
		},
	}
	if opts.ModelRef == "" {
		// The baseline model rejects word-level timestamps
		req.Model.Self = c.DefaultModel()
		req.Properties.WordLevelTimestampsEnabled = nil
	}

	endpoint, err := c.endpoint("/transcriptions:submit", versionParams{APIVersion})
	if err != nil {
		return nil, err
	}

	log.Printf("    [→] Submitting transcription (locale %s, model %s)\n", locale, req.Model.Self)
	resp, err := c.send(ctx, http.MethodPost, endpoint, req, true)
	if err != nil {
		return nil, wrapNetwork("submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, upstreamError("submit", resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, apperr.Transcription("submit", "speech service response did not include a Location header")
	}

	id := location[strings.LastIndex(location, "/")+1:]
	if i := strings.Index(id, "?"); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return nil, apperr.Transcription("submit", "cannot parse job id from Location "+location)
	}

	log.Printf("    [✓] Submitted transcription job %s\n", id)
	return &Job{ID: id, Status: StatusNotStarted, Location: location}, nil
}

// GetStatus fetches the job's status document
func (c *Client) GetStatus(ctx context.Context, jobID string) (*StatusDocument, error) {
	if jobID == "" {
		return nil, apperr.Validation("job_id", "transcription job id is required")
	}

	endpoint, err := c.endpoint("/transcriptions/"+url.PathEscape(jobID), versionParams{APIVersion})
	if err != nil {
		return nil, err
	}

	var doc StatusDocument
	if err := c.getJSON(ctx, "status", endpoint, true, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetResult downloads the transcription result of a Succeeded job. It
// returns the parsed document and the raw JSON.
func (c *Client) GetResult(ctx context.Context, jobID string) (*Result, []byte, error) {
	doc, err := c.GetStatus(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status != StatusSucceeded {
		return nil, nil, apperr.Transcription("result", fmt.Sprintf("cannot get results for transcription not completed, current status: %s", doc.Status))
	}

	contentURL, err := c.resultContentURL(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	// contentUrl carries its own SAS token
	resp, err := c.send(ctx, http.MethodGet, contentURL, nil, false)
	if err != nil {
		return nil, nil, wrapNetwork("download result", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, upstreamError("download result", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, wrapNetwork("download result", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Printf("    [✗] Invalid JSON in transcription result: %v (first bytes: %.200s)\n", err, raw)
		return nil, nil, apperr.Transcription("download result", fmt.Sprintf("invalid JSON in transcription result: %v", err))
	}
	return &result, raw, nil
}

// resultContentURL finds the file tagged as the transcription output
func (c *Client) resultContentURL(ctx context.Context, jobID string) (string, error) {
	endpoint, err := c.endpoint("/transcriptions/"+url.PathEscape(jobID)+"/files", versionParams{APIVersion})
	if err != nil {
		return "", err
	}

	seen := 0
	for endpoint != "" {
		var page fileList
		if err := c.getJSON(ctx, "list files", endpoint, true, &page); err != nil {
			return "", err
		}
		seen += len(page.Values)

		for _, f := range page.Values {
			if f.Kind != "Transcription" {
				continue
			}
			if f.Links.ContentURL == "" {
				return "", apperr.Transcription("list files", "transcription file "+f.Name+" is missing contentUrl")
			}
			return f.Links.ContentURL, nil
		}
		endpoint = page.NextLink
	}

	if seen == 0 {
		return "", apperr.Transcription("list files", "transcription files response is empty")
	}
	return "", apperr.Transcription("list files", "no Transcription file found in transcription files response")
}

// WaitFor polls until the job reaches a terminal state and returns its
// result. The worker pipeline runs its own loop to interleave progress
// updates; this helper serves one-off callers.
func (c *Client) WaitFor(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (*Result, []byte, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, err := c.GetStatus(ctx, jobID)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("    Transcription %s status: %s (attempt %d/%d)\n", jobID, doc.Status, attempt, maxAttempts)

		switch doc.Status {
		case StatusSucceeded:
			return c.GetResult(ctx, jobID)
		case StatusFailed:
			return nil, nil, apperr.Transcription("wait", fmt.Sprintf("transcription %s failed: %s", jobID, doc.FailureMessage()))
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, nil, apperr.Transcription("wait", fmt.Sprintf("transcription %s did not complete after %d attempts", jobID, maxAttempts))
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, authenticated bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	}
	return c.http.Do(req)
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, authenticated bool, out any) error {
	resp, err := c.send(ctx, http.MethodGet, endpoint, nil, authenticated)
	if err != nil {
		return wrapNetwork(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Transcription(op, fmt.Sprintf("invalid JSON from speech service: %v", err))
	}
	return nil
}

func wrapNetwork(op string, err error) error {
	e := apperr.Transcription(op, "network error communicating with speech service")
	e.Err = err
	return e
}
