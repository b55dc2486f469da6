package handlers

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

// DLQHandler handles dead letter queue API requests
type DLQHandler struct {
	dlq    queue.DeadLetters
	logger ectologger.Logger
}

func NewDLQHandler(dlq queue.DeadLetters, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{dlq: dlq, logger: logger}
}

type DLQListResponse struct {
	Entries []models.DeadLetter `json:"entries"`
	Count   int                 `json:"count"`
}

func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.POST("/:id/retry", h.Retry)
}

// List handles GET /dlq?count=
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	entries, err := h.dlq.ListDeadLetters(ctx, queryInt64(c, "count", 100))
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}

	return c.JSON(http.StatusOK, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// Retry re-enqueues a DLQ entry
// POST /dlq/:id/retry
func (h *DLQHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := h.dlq.RetryDeadLetter(ctx, id); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("dlq_id", id).Error("Failed to retry DLQ entry")
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "retried",
		"message": "Job re-enqueued successfully",
	})
}
