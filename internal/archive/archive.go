// Package archive stores assessment documents in the case archive and
// returns the archive reference recorded on the Assessed status change.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	dErrors "followup/pkg/domain-errors"
	"followup/pkg/platform/circuit"
)

// FallbackReference is recorded instead of a real reference when archiving
// failed and degraded mode is enabled.
const FallbackReference = "0"

// Request describes the assessment document to archive.
type Request struct {
	CandidateID      id.CandidateID
	PersonIdentifier id.PersonIdentifier
	CaseworkerID     string
	Rationale        *string
	AssessedAt       time.Time
}

type Archiver interface {
	Archive(ctx context.Context, req Request) (string, error)
}

// HTTPClient posts assessment documents to the archive service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
}

type ClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(h *HTTPClient) {
		h.breaker = b
	}
}

func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("archive"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type archiveRequest struct {
	CandidateID      string    `json:"candidateId"`
	PersonIdentifier string    `json:"personIdentifier"`
	CaseworkerID     string    `json:"caseworkerId"`
	Rationale        *string   `json:"rationale,omitempty"`
	AssessedAt       time.Time `json:"assessedAt"`
}

type archiveResponse struct {
	Reference string `json:"reference"`
}

func (h *HTTPClient) Archive(ctx context.Context, req Request) (string, error) {
	if !h.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeUnavailable, "archive circuit open")
	}
	ref, err := h.post(ctx, req)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnavailable) {
			h.breaker.RecordFailure()
		}
		return "", err
	}
	h.breaker.RecordSuccess()
	return ref, nil
}

func (h *HTTPClient) post(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(archiveRequest{
		CandidateID:      req.CandidateID.String(),
		PersonIdentifier: req.PersonIdentifier.String(),
		CaseworkerID:     req.CaseworkerID,
		Rationale:        req.Rationale,
		AssessedAt:       req.AssessedAt.UTC(),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode archive request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build archive request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "archive request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("archive returned HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", dErrors.New(dErrors.CodeBadRequest,
			fmt.Sprintf("archive rejected document: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "decode archive response")
	}
	if strings.TrimSpace(out.Reference) == "" {
		return "", dErrors.New(dErrors.CodeUnavailable, "archive returned an empty reference")
	}
	return out.Reference, nil
}

// fallback substitutes FallbackReference when the wrapped archiver fails.
type fallback struct {
	next    Archiver
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithFallback wraps next in degraded mode when enabled; otherwise next is
// returned unchanged. Production configuration never enables it.
func WithFallback(next Archiver, logger *slog.Logger, m *metrics.Metrics, enabled bool) Archiver {
	if !enabled {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &fallback{next: next, logger: logger, metrics: m}
}

func (f *fallback) Archive(ctx context.Context, req Request) (string, error) {
	ref, err := f.next.Archive(ctx, req)
	if err == nil {
		return ref, nil
	}
	f.logger.ErrorContext(ctx, "archiving failed, recording fallback reference",
		attrs.Candidate(req.CandidateID),
		slog.String("fallback_reference", FallbackReference),
		"error", err,
	)
	f.metrics.IncArchiveFallback()
	return FallbackReference, nil
}
