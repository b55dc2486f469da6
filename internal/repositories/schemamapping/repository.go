package schemamapping

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "schema_mappings"

const uniqueViolation = "23505"

var mappingStruct = database.NewStruct(models.SchemaMapping{})

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

// Create stores a mapping. A second mapping for the same (owner, provider, model) is a 409.
func (r *Repository) Create(ctx context.Context, req models.CreateSchemaMappingRequest) (*models.SchemaMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "schemamapping.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	mapping := models.SchemaMapping{
		ID:         uuid.New().String(),
		OwnerID:    req.OwnerID,
		Provider:   req.Provider,
		Model:      req.Model,
		Expression: req.Expression,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ib := mappingStruct.InsertInto(table, mapping)
	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, httperror.NewHTTPError(http.StatusConflict, "schema mapping already exists")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"owner_id": req.OwnerID, "provider": req.Provider}).Error("Failed to create schema mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create schema mapping")
	}
	return &mapping, nil
}

// List returns the owner's mappings, optionally narrowed to one provider.
func (r *Repository) List(ctx context.Context, ownerID, provider string) ([]models.SchemaMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "schemamapping.Repository.List")
	defer span.End()

	sb := mappingStruct.SelectFrom(table)
	where := []string{sb.Equal("owner_id", ownerID)}
	if provider != "" {
		where = append(where, sb.Equal("provider", provider))
	}
	sb.Where(where...)
	sb.OrderBy("provider", "model NULLS FIRST")

	query, args := sb.Build()
	mappings := []models.SchemaMapping{}
	if err := r.db.SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("owner_id", ownerID).Error("Failed to list schema mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list schema mappings")
	}
	return mappings, nil
}

// Resolve picks the mapping for a model, falling back to the provider-wide one.
// It returns a 404 when neither exists.
func (r *Repository) Resolve(ctx context.Context, ownerID, provider, model string) (*models.SchemaMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "schemamapping.Repository.Resolve")
	defer span.End()

	sb := mappingStruct.SelectFrom(table)
	sb.Where(
		sb.Equal("owner_id", ownerID),
		sb.Equal("provider", provider),
		sb.Or(sb.Equal("model", model), sb.IsNull("model")),
	)
	sb.OrderBy("model NULLS LAST")
	sb.Limit(1)

	query, args := sb.Build()
	var mappings []models.SchemaMapping
	if err := r.db.SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"owner_id": ownerID, "provider": provider, "model": model}).Error("Failed to resolve schema mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve schema mapping")
	}
	if len(mappings) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "schema mapping not found")
	}
	return &mappings[0], nil
}
