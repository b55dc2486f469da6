package syncconfig

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "connection_sync_configs"

// Repository persists per-connection data type settings.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Find returns (nil, nil) when the connection has no configuration row.
func (r *Repository) Find(ctx context.Context, connectionID, provider string) (*models.ConnectionSyncConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "syncconfig.Repository.Find")
	defer span.End()

	s := database.NewStruct(models.ConnectionSyncConfig{})
	sb := s.SelectFrom(table)
	sb.Where(sb.Equal("connection_id", connectionID), sb.Equal("provider", provider))

	query, args := sb.Build()
	var cfg models.ConnectionSyncConfig
	if err := r.db.GetContext(ctx, &cfg, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider}).Error("Failed to find sync config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find sync config")
	}
	return &cfg, nil
}

// Upsert replaces the data type settings for the connection.
func (r *Repository) Upsert(ctx context.Context, connectionID, provider string, dataTypes map[string]models.DataTypeSetting) (*models.ConnectionSyncConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "syncconfig.Repository.Upsert")
	defer span.End()

	if dataTypes == nil {
		dataTypes = map[string]models.DataTypeSetting{}
	}

	cfg := models.ConnectionSyncConfig{
		ConnectionID: connectionID,
		Provider:     provider,
		DataTypes:    database.NewJSONB(dataTypes),
		UpdatedAt:    time.Now().UTC(),
	}

	s := database.NewStruct(models.ConnectionSyncConfig{})
	ib := s.InsertInto(table, cfg)
	ub := ib.OnConflict("connection_id", "provider")
	ub.Set(
		ub.Assign("data_types", database.Excluded("data_types")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ib = ib.Returning(s.Columns()...)

	query, args := ib.Build()
	var saved models.ConnectionSyncConfig
	if err := r.db.GetContext(ctx, &saved, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider}).Error("Failed to upsert sync config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save sync config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"connection_id": connectionID, "provider": provider}).Info("Saved sync config")
	return &saved, nil
}
