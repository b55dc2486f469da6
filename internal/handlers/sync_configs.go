package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

type SyncConfigRepo interface {
	Find(ctx context.Context, connectionID, provider string) (*models.ConnectionSyncConfig, error)
	Upsert(ctx context.Context, connectionID, provider string, dataTypes map[string]models.DataTypeSetting) (*models.ConnectionSyncConfig, error)
}

type PolicySource interface {
	Policy(ctx context.Context, connectionID, provider string) *gate.Policy
}

type CatalogSource interface {
	Catalog(provider string) normalizers.Catalog
}

type SyncConfigHandler struct {
	configs  SyncConfigRepo
	policies PolicySource
	catalogs CatalogSource
}

func NewSyncConfigHandler(configs SyncConfigRepo, policies PolicySource, catalogs CatalogSource) *SyncConfigHandler {
	return &SyncConfigHandler{
		configs:  configs,
		policies: policies,
		catalogs: catalogs,
	}
}

// SyncConfigResponse pairs the stored settings with the gate's verdict for every
// data type the provider's catalog knows about.
type SyncConfigResponse struct {
	models.ConnectionSyncConfig
	Effective map[string]gate.Decision `json:"effective"`
}

func (h *SyncConfigHandler) RegisterRoutes(g *echo.Group) {
	configs := g.Group("/sync-configs")
	configs.GET("/:connectionId/:provider", h.Get)
	configs.PUT("/:connectionId/:provider", h.Put)
}

// Get handles GET /sync-configs/:connectionId/:provider. A connection without a
// stored row reports an empty configuration and the provider defaults.
func (h *SyncConfigHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	connectionID, provider := c.Param("connectionId"), c.Param("provider")

	cfg, err := h.configs.Find(ctx, connectionID, provider)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &models.ConnectionSyncConfig{
			ConnectionID: connectionID,
			Provider:     provider,
			DataTypes:    database.NewJSONB(map[string]models.DataTypeSetting{}),
		}
	}

	return c.JSON(http.StatusOK, h.response(ctx, cfg))
}

// Put handles PUT /sync-configs/:connectionId/:provider
func (h *SyncConfigHandler) Put(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.UpsertSyncConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	for key := range req.DataTypes {
		if key == "" {
			return BadRequest("data type keys must not be empty")
		}
	}

	cfg, err := h.configs.Upsert(ctx, c.Param("connectionId"), c.Param("provider"), req.DataTypes)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, h.response(ctx, cfg))
}

func (h *SyncConfigHandler) response(ctx context.Context, cfg *models.ConnectionSyncConfig) SyncConfigResponse {
	policy := h.policies.Policy(ctx, cfg.ConnectionID, cfg.Provider)

	effective := map[string]gate.Decision{}
	for _, dt := range h.catalogs.Catalog(cfg.Provider).DataTypes {
		effective[dt.Key] = policy.Decide(dt.Key)
	}
	for key := range cfg.DataTypes.GetValue() {
		effective[key] = policy.Decide(key)
	}

	return SyncConfigResponse{ConnectionSyncConfig: *cfg, Effective: effective}
}
