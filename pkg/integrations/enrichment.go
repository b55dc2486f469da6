package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type EnrichmentRequest struct {
	Provider     string         `json:"provider"`
	ConnectionID string         `json:"connection_id"`
	ExternalID   string         `json:"external_id"`
	MimeType     string         `json:"mime_type,omitempty"`
	Metadata     map[string]any `json:"metadata"`
}

type Enrichment struct {
	Description *string `json:"description"`
	Summary     string  `json:"summary"`
}

// Enricher fetches a document's content and summarizes it.
type Enricher struct {
	baseURL string
	client  *http.Client
	logger  ectologger.Logger
}

// NewEnricher returns nil when baseURL is empty, which disables enrichment.
func NewEnricher(baseURL string, timeout time.Duration, logger ectologger.Logger) *Enricher {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Enricher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (e *Enricher) FetchAndSummarize(ctx context.Context, req EnrichmentRequest) (*Enrichment, error) {
	ctx, span := tracing.StartSpan(ctx, "integrations.Enricher.FetchAndSummarize")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enrichment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		metrics.RecordHTTPRequest("enrichment", http.MethodPost, "error", time.Since(start))
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordHTTPRequest("enrichment", http.MethodPost, strconv.Itoa(resp.StatusCode), time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read enrichment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var out Enrichment
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment response: %w", err)
	}
	return &out, nil
}
