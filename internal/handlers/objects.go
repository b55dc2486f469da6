package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/models"
)

type ObjectRepo interface {
	FindByID(ctx context.Context, id string) (*models.UnifiedObject, error)
	Reactivate(ctx context.Context, id string) (*models.UnifiedObject, error)
}

type MappingResolver interface {
	Resolve(ctx context.Context, ownerID, provider, model string) (*models.SchemaMapping, error)
}

// ObjectHandler serves unified objects.
type ObjectHandler struct {
	objects  ObjectRepo
	mappings MappingResolver
	renderer *mapping.Renderer
	logger   ectologger.Logger
}

func NewObjectHandler(objects ObjectRepo, mappings MappingResolver, renderer *mapping.Renderer, logger ectologger.Logger) *ObjectHandler {
	return &ObjectHandler{
		objects:  objects,
		mappings: mappings,
		renderer: renderer,
		logger:   logger,
	}
}

type RenderResponse struct {
	ObjectID  string `json:"object_id"`
	MappingID string `json:"mapping_id"`
	Result    any    `json:"result"`
}

func (h *ObjectHandler) RegisterRoutes(g *echo.Group) {
	objects := g.Group("/objects")
	objects.GET("/:id", h.Get)
	objects.POST("/:id/reactivate", h.Reactivate)
	objects.GET("/:id/render", h.Render)
}

// Get handles GET /objects/:id
func (h *ObjectHandler) Get(c echo.Context) error {
	obj, err := h.objects.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj)
}

// Reactivate handles POST /objects/:id/reactivate. Syncs never undo a delete on
// their own; this is the only way back to active.
func (h *ObjectHandler) Reactivate(c echo.Context) error {
	ctx := c.Request().Context()

	obj, err := h.objects.Reactivate(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithField("object_id", obj.ID).Info("Object reactivated by admin request")
	return c.JSON(http.StatusOK, obj)
}

// Render handles GET /objects/:id/render?owner_id=&model=
func (h *ObjectHandler) Render(c echo.Context) error {
	ctx := c.Request().Context()

	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		return BadRequest("owner_id is required")
	}

	obj, err := h.objects.FindByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	m, err := h.mappings.Resolve(ctx, ownerID, obj.Provider, c.QueryParam("model"))
	if err != nil {
		return err
	}

	result, err := h.renderer.Render(m, obj)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"object_id":  obj.ID,
			"mapping_id": m.ID,
		}).Warn("Failed to render object")
		return err
	}

	return c.JSON(http.StatusOK, RenderResponse{
		ObjectID:  obj.ID,
		MappingID: m.ID,
		Result:    result,
	})
}
