// Package api holds the HTTP plumbing shared by the registry API and the
// ledger gateway: RFC 7807 problem documents and per-client rate limiting.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// ProblemTypeBase prefixes every problem type URI.
const ProblemTypeBase = "https://relreg.dev/problems/"

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document. Code carries the registry error
// code (ALREADY_EXISTS, TRANSIENT, ...) when one applies.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p *Problem) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%d %s: %s", p.Status, p.Code, p.Detail)
	}
	return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
}

// NewProblem builds a problem for status. A non-empty code becomes the type
// suffix; otherwise the status number does.
func NewProblem(status int, code, detail string) *Problem {
	suffix := strconv.Itoa(status)
	if code != "" {
		suffix = code
	}
	return &Problem{
		Type:   ProblemTypeBase + suffix,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
}

// For fills the request-scoped fields from r and the response headers.
func (p *Problem) For(w http.ResponseWriter, r *http.Request) *Problem {
	if r != nil {
		p.Instance = r.URL.Path
	}
	p.RequestID = w.Header().Get("X-Request-ID")
	return p
}

// Write sends p as the response.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", problemContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Fail writes a problem for r.
func Fail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	NewProblem(status, code, detail).For(w, r).Write(w)
}

// Unauthorized writes a 401 with a bearer challenge.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="relreg"`)
	Fail(w, r, http.StatusUnauthorized, "", detail)
}

// Unavailable writes a 503 asking the client to retry after d.
func Unavailable(w http.ResponseWriter, r *http.Request, code, detail string, d time.Duration) {
	w.Header().Set("Retry-After", retryAfter(d))
	Fail(w, r, http.StatusServiceUnavailable, code, detail)
}

// TooManyRequests writes a 429 asking the client to retry after d.
func TooManyRequests(w http.ResponseWriter, r *http.Request, d time.Duration) {
	w.Header().Set("Retry-After", retryAfter(d))
	Fail(w, r, http.StatusTooManyRequests, "", "rate limit exceeded")
}

// Internal logs err and writes a 500 that does not leak it.
func Internal(w http.ResponseWriter, r *http.Request, err error) {
	p := NewProblem(http.StatusInternalServerError, "", "an unexpected error occurred").For(w, r)
	slog.ErrorContext(r.Context(), "internal error", "error", err, "path", p.Instance, "request_id", p.RequestID)
	p.Write(w)
}

func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ParseProblem decodes a problem document from a non-2xx response body. Bodies
// that are not problem documents yield a problem built from the status alone.
func ParseProblem(status int, body []byte) *Problem {
	p := &Problem{}
	if err := json.Unmarshal(body, p); err != nil || p.Status == 0 {
		p = NewProblem(status, "", "")
	}
	if p.Detail == "" {
		p.Detail = http.StatusText(status)
	}
	return p
}
