package transcription

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/audioscribe/pipeline/pkg/apperr"
)

// statusClass groups upstream HTTP statuses that share a message
type statusClass int

const (
	classRejected statusClass = iota
	classUnauthorized
	classForbidden
	classNotFound
	classThrottled
	classUpstream
)

func classify(code int) statusClass {
	switch {
	case code == http.StatusUnauthorized:
		return classUnauthorized
	case code == http.StatusForbidden:
		return classForbidden
	case code == http.StatusNotFound:
		return classNotFound
	case code == http.StatusTooManyRequests:
		return classThrottled
	case code >= 500:
		return classUpstream
	default:
		return classRejected
	}
}

func (c statusClass) describe() string {
	switch c {
	case classUnauthorized:
		return "rejected the subscription key"
	case classForbidden:
		return "denied access"
	case classNotFound:
		return "could not find the resource"
	case classThrottled:
		return "is throttling requests"
	case classUpstream:
		return "is unavailable"
	default:
		return "rejected the request"
	}
}

// upstreamError builds a transcription error carrying the response status
// and a bounded copy of its body
func upstreamError(op string, resp *http.Response) *apperr.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(body))

	e := apperr.Transcription(op, fmt.Sprintf("speech service %s (HTTP %d): %s", classify(resp.StatusCode).describe(), resp.StatusCode, text))
	e.Status = resp.StatusCode
	e.Body = text
	return e
}
