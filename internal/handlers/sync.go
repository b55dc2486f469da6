package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

// SyncHandler queues manual sync passes. They run through the same worker path
// as webhook sync notifications.
type SyncHandler struct {
	queue  queue.Queue
	logger ectologger.Logger
}

func NewSyncHandler(q queue.Queue, logger ectologger.Logger) *SyncHandler {
	return &SyncHandler{queue: q, logger: logger}
}

type SyncAcceptedResponse struct {
	JobID string `json:"job_id"`
}

func (h *SyncHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/sync", h.Trigger)
}

// Trigger handles POST /sync
func (h *SyncHandler) Trigger(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.SyncRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	payload, err := json.Marshal(models.WebhookPayload{
		Type:              models.WebhookEventSync,
		ProviderConfigKey: req.Provider,
		ConnectionID:      req.ConnectionID,
		Success:           true,
		Model:             req.Model,
		ModifiedAfter:     req.ModifiedAfter,
	})
	if err != nil {
		return err
	}

	jobID, err := h.queue.Enqueue(ctx, string(models.WebhookEventSync), payload)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to queue manual sync")
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":        jobID,
		"provider":      req.Provider,
		"connection_id": req.ConnectionID,
		"model":         req.Model,
	}).Info("Manual sync queued")
	return c.JSON(http.StatusAccepted, SyncAcceptedResponse{JobID: jobID})
}
