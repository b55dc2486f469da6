package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/models"
)

type SchemaMappingRepo interface {
	Create(ctx context.Context, req models.CreateSchemaMappingRequest) (*models.SchemaMapping, error)
	List(ctx context.Context, ownerID, provider string) ([]models.SchemaMapping, error)
}

type SchemaMappingHandler struct {
	repo     SchemaMappingRepo
	renderer *mapping.Renderer
}

func NewSchemaMappingHandler(repo SchemaMappingRepo, renderer *mapping.Renderer) *SchemaMappingHandler {
	return &SchemaMappingHandler{repo: repo, renderer: renderer}
}

func (h *SchemaMappingHandler) RegisterRoutes(g *echo.Group) {
	mappings := g.Group("/schema-mappings")
	mappings.POST("", h.Create)
	mappings.GET("", h.List)
}

// Create handles POST /schema-mappings. The expression must compile.
func (h *SchemaMappingHandler) Create(c echo.Context) error {
	var req models.CreateSchemaMappingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.Model != nil && *req.Model == "" {
		req.Model = nil
	}
	if err := h.renderer.Validate(req.Expression); err != nil {
		return err
	}

	m, err := h.repo.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

// List handles GET /schema-mappings?owner_id=&provider=
func (h *SchemaMappingHandler) List(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		return BadRequest("owner_id is required")
	}

	mappings, err := h.repo.List(c.Request().Context(), ownerID, c.QueryParam("provider"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mappings)
}
