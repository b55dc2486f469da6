package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultPageSize is used when a request does not set a limit
	DefaultPageSize = 100

	// MaxPageSize bounds a single page request
	MaxPageSize = 1000
)

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("integration platform returned %d: %s", e.StatusCode, e.Body)
}

type PlatformConfig struct {
	BaseURL           string
	SecretKey         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Platform talks to the external integration platform that proxies provider APIs.
type Platform struct {
	baseURL   string
	secretKey string
	client    *http.Client
	limiter   *rate.Limiter
	logger    ectologger.Logger
}

func NewPlatform(cfg PlatformConfig, logger ectologger.Logger) *Platform {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Platform{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

type ListRecordsRequest struct {
	ProviderConfigKey string
	ConnectionID      string
	Model             string
	ModifiedAfter     *time.Time
	Limit             int
	Cursor            string
}

type RecordPage struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor"`
}

// ListRecords fetches one page of records changed since ModifiedAfter.
func (p *Platform) ListRecords(ctx context.Context, req ListRecordsRequest) (*RecordPage, error) {
	ctx, span := tracing.StartSpan(ctx, "integrations.Platform.ListRecords")
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := url.Values{}
	query.Set("model", req.Model)
	query.Set("limit", strconv.Itoa(limit))
	if req.ModifiedAfter != nil {
		query.Set("modified_after", req.ModifiedAfter.UTC().Format(time.RFC3339))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	headers := map[string]string{
		"Connection-Id":       req.ConnectionID,
		"Provider-Config-Key": req.ProviderConfigKey,
	}

	var page RecordPage
	if err := p.get(ctx, "/records?"+query.Encode(), headers, &page); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":      req.ProviderConfigKey,
			"connection_id": req.ConnectionID,
			"model":         req.Model,
		}).Error("Failed to list records")
		return nil, err
	}
	return &page, nil
}

type EndUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Connection is one authorized provider account known to the platform.
type Connection struct {
	ConnectionID      string   `json:"connection_id"`
	ProviderConfigKey string   `json:"provider_config_key"`
	EndUser           *EndUser `json:"end_user,omitempty"`
}

// UnmarshalJSON accepts both snake_case and camelCase field names.
func (c *Connection) UnmarshalJSON(data []byte) error {
	var raw struct {
		ConnectionID           string   `json:"connection_id"`
		ConnectionIDCamel      string   `json:"connectionId"`
		ProviderConfigKey      string   `json:"provider_config_key"`
		ProviderConfigKeyCamel string   `json:"providerConfigKey"`
		EndUser                *EndUser `json:"end_user"`
		EndUserCamel           *EndUser `json:"endUser"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.ConnectionID = firstNonEmpty(raw.ConnectionID, raw.ConnectionIDCamel)
	c.ProviderConfigKey = firstNonEmpty(raw.ProviderConfigKey, raw.ProviderConfigKeyCamel)
	c.EndUser = raw.EndUser
	if c.EndUser == nil {
		c.EndUser = raw.EndUserCamel
	}
	return nil
}

// ListConnections returns every connection the platform holds.
func (p *Platform) ListConnections(ctx context.Context) ([]Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "integrations.Platform.ListConnections")
	defer span.End()

	var body struct {
		Connections []Connection `json:"connections"`
	}
	if err := p.get(ctx, "/connection", nil, &body); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to list connections")
		return nil, err
	}
	return body.Connections, nil
}

// Ping checks that the platform is reachable.
func (p *Platform) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("integration platform unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (p *Platform) get(ctx context.Context, path string, headers map[string]string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordHTTPRequest("integration", http.MethodGet, "error", time.Since(start))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordHTTPRequest("integration", http.MethodGet, strconv.Itoa(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	// numbers stay json.Number so ids beyond 2^53 keep every digit
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	p.logger.WithContext(ctx).Debugf("HTTP GET %s -> %d (%s)", path, resp.StatusCode, time.Since(start))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
