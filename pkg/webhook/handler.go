package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/queue"
)

// MaxBodySize bounds the webhook body read before verification
const MaxBodySize = 1 << 20

const DefaultSignatureHeader = "X-Nango-Hmac-Sha256"

// Response bodies are fixed by the notifier contract and bypass the API error envelope.
type ReceivedResponse struct {
	Received bool `json:"received"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler acknowledges verified webhooks and queues them. It never processes inline.
type Handler struct {
	verifier *Verifier
	queue    queue.Queue
	header   string
	logger   ectologger.Logger
}

func NewHandler(verifier *Verifier, q queue.Queue, header string, logger ectologger.Logger) *Handler {
	if header == "" {
		header = DefaultSignatureHeader
	}
	return &Handler{
		verifier: verifier,
		queue:    q,
		header:   header,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
}

// Receive handles POST /webhook
func (h *Handler) Receive(c echo.Context) error {
	ctx := c.Request().Context()
	log := h.logger.WithContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodySize+1))
	if err != nil || len(body) > MaxBodySize {
		metrics.RecordWebhook("invalid_body")
		log.WithError(err).Warn("Failed to read webhook body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_body"})
	}

	if err := h.verifier.Verify(body, c.Request().Header.Get(h.header)); err != nil {
		metrics.RecordWebhook("invalid_signature")
		log.Warn("Rejected webhook with invalid signature")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_signature"})
	}

	// the kind only routes the job; the worker validates the payload
	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &envelope)

	jobID, err := h.queue.Enqueue(ctx, envelope.Type, json.RawMessage(body))
	if err != nil {
		metrics.RecordWebhook("enqueue_failed")
		log.WithError(err).Error("Failed to enqueue webhook job")
		// not acknowledged, so the notifier retries delivery
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable"})
	}

	metrics.RecordWebhook("accepted")
	log.WithFields(map[string]any{"job_id": jobID, "kind": envelope.Type}).Info("Webhook accepted")
	return c.JSON(http.StatusOK, ReceivedResponse{Received: true})
}
