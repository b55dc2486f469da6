package unifiedobject

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "unified_objects"

var columns = []string{
	"id", "provider", "external_id", "connection_id", "type", "title", "description",
	"source_url", "mime_type", "slug", "canonical_url", "metadata_raw", "metadata_normalized",
	"content_hash", "state", "created_at", "updated_at",
}

var returning = strings.Join(columns, ", ")

// Outcome describes what a write did to the stored row.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the stored content hash already matched.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeDeleted means the row is soft-deleted and was left alone.
	OutcomeDeleted Outcome = "deleted"
)

type WriteResult struct {
	Object  *models.UnifiedObject
	Outcome Outcome
}

// Repository is the only writer of unified objects.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FindByProviderExternalID returns the object for the key, or nil when none exists.
func (r *Repository) FindByProviderExternalID(ctx context.Context, provider, externalID string) (*models.UnifiedObject, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.FindByProviderExternalID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("provider", provider), sb.Equal("external_id", externalID))
	sb.Limit(1)

	query, args := sb.Build()
	var obj models.UnifiedObject
	if err := r.db.GetContext(ctx, &obj, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": provider, "external_id": externalID}).Error("Failed to find unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find unified object")
	}
	return &obj, nil
}

// FindByID returns a 404 HTTP error when the object does not exist.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.UnifiedObject, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.FindByID")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "unified object not found")
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var obj models.UnifiedObject
	if err := r.db.GetContext(ctx, &obj, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "unified object not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get unified object")
	}
	return &obj, nil
}

// Create inserts a new object in a single INSERT ... ON CONFLICT statement.
// A concurrent create that loses the race on (provider, external_id) becomes an
// update of the winner's row, unless the hash already matches or the row is deleted.
// canonical_url is only ever written by the insert branch.
func (r *Repository) Create(ctx context.Context, candidate models.ObjectCandidate) (*WriteResult, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":    candidate.Provider,
		"external_id": candidate.ExternalID,
	})

	now := r.now()
	id := uuid.New().String()

	query := `
		INSERT INTO unified_objects (` + returning + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			source_url = EXCLUDED.source_url,
			mime_type = EXCLUDED.mime_type,
			slug = EXCLUDED.slug,
			metadata_raw = EXCLUDED.metadata_raw,
			metadata_normalized = EXCLUDED.metadata_normalized,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at
		WHERE unified_objects.state = 'active'
		  AND unified_objects.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		RETURNING ` + returning + `, (xmax = 0) AS inserted
	`

	var result struct {
		models.UnifiedObject
		Inserted bool `db:"inserted"`
	}

	err := r.db.GetContext(ctx, &result, query,
		id, candidate.Provider, candidate.ExternalID, candidate.ConnectionID,
		candidate.Data.Type, candidate.Data.Title, candidate.Data.Description,
		candidate.Data.SourceURL, candidate.Data.MimeType, candidate.Slug,
		models.CanonicalURLFor(id, candidate.CanonicalPath),
		database.NewJSONB(candidate.MetadataRaw), database.NewJSONB(candidate.Data.MetadataNormalized),
		candidate.ContentHash, models.ObjectStateActive, now, now,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// the conflict branch's WHERE filtered the row out
		return r.resolveSkipped(ctx, candidate.Provider, candidate.ExternalID)
	}
	if err != nil {
		log.WithError(err).Error("Failed to upsert unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create unified object")
	}

	if result.Inserted {
		log.WithField("id", result.ID).Debug("Created unified object")
		return &WriteResult{Object: &result.UnifiedObject, Outcome: OutcomeCreated}, nil
	}

	log.WithField("id", result.ID).Debug("Create raced an existing row, updated it instead")
	return &WriteResult{Object: &result.UnifiedObject, Outcome: OutcomeUpdated}, nil
}

// Update overwrites the normalized and raw fields of an active object whose hash differs.
// canonical_url, created_at and state are never written here.
func (r *Repository) Update(ctx context.Context, id string, candidate models.ObjectCandidate) (*WriteResult, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("connection_id", candidate.ConnectionID),
		ub.Assign("type", candidate.Data.Type),
		ub.Assign("title", candidate.Data.Title),
		ub.Assign("description", candidate.Data.Description),
		ub.Assign("source_url", candidate.Data.SourceURL),
		ub.Assign("mime_type", candidate.Data.MimeType),
		ub.Assign("slug", candidate.Slug),
		ub.Assign("metadata_raw", database.NewJSONB(candidate.MetadataRaw)),
		ub.Assign("metadata_normalized", database.NewJSONB(candidate.Data.MetadataNormalized)),
		ub.Assign("content_hash", candidate.ContentHash),
		ub.Assign("updated_at", r.now()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("state", models.ObjectStateActive),
		ub.NotEqual("content_hash", candidate.ContentHash),
	)
	ub.SQL("RETURNING " + returning)

	query, args := ub.Build()
	var obj models.UnifiedObject
	err := r.db.GetContext(ctx, &obj, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return skippedResult(existing), nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to update unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update unified object")
	}

	return &WriteResult{Object: &obj, Outcome: OutcomeUpdated}, nil
}

// MarkDeleted soft-deletes the active object for the key. It returns nil when there
// is nothing active to delete.
func (r *Repository) MarkDeleted(ctx context.Context, provider, externalID string) (*models.UnifiedObject, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.MarkDeleted")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("state", models.ObjectStateDeleted),
		ub.Assign("updated_at", r.now()),
	)
	ub.Where(
		ub.Equal("provider", provider),
		ub.Equal("external_id", externalID),
		ub.Equal("state", models.ObjectStateActive),
	)
	ub.SQL("RETURNING " + returning)

	query, args := ub.Build()
	var obj models.UnifiedObject
	if err := r.db.GetContext(ctx, &obj, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": provider, "external_id": externalID}).Error("Failed to mark unified object deleted")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete unified object")
	}
	return &obj, nil
}

// Reactivate returns a soft-deleted object to active. Active objects are returned as is.
// The row is locked for the read-then-write so a concurrent MarkDeleted waits on it.
func (r *Repository) Reactivate(ctx context.Context, id string) (*models.UnifiedObject, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.Reactivate")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "unified object not found")
	}

	log := r.logger.WithContext(ctx).WithField("id", id)

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate unified object")
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	sb.ForUpdate()

	query, args := sb.Build()
	var existing models.UnifiedObject
	if err := tx.GetContext(ctx, &existing, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "unified object not found")
		}
		log.WithError(err).Error("Failed to lock unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate unified object")
	}
	if !existing.IsDeleted() {
		return &existing, tx.Commit(ctx)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("state", models.ObjectStateActive),
		ub.Assign("updated_at", r.now()),
	)
	ub.Where(ub.Equal("id", id))
	ub.SQL("RETURNING " + returning)

	query, args = ub.Build()
	var obj models.UnifiedObject
	if err := tx.GetContext(ctx, &obj, query, args...); err != nil {
		log.WithError(err).Error("Failed to reactivate unified object")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate unified object")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate unified object")
	}

	log.Info("Reactivated unified object")
	return &obj, nil
}

// AttachSummary stores enrichment output. The description is only filled when empty
// and the content hash is left alone, so enrichment never looks like a content change.
func (r *Repository) AttachSummary(ctx context.Context, id string, description *string, summary string) error {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.AttachSummary")
	defer span.End()

	query := `
		UPDATE unified_objects
		SET description = COALESCE(description, $2),
		    metadata_normalized = metadata_normalized || jsonb_build_object('summary', $3::text)
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, description, summary); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to attach summary")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach summary")
	}
	return nil
}

// ClearForResync hard-deletes the objects of the given types synced through any of
// connectionIDs. It backs the reset before an initial resync and is never used by a sync pass.
// An empty types list clears every type.
func (r *Repository) ClearForResync(ctx context.Context, provider string, connectionIDs, types []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "unifiedobject.Repository.ClearForResync")
	defer span.End()

	if len(connectionIDs) == 0 {
		return 0, nil
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	where := []string{
		db.Equal("provider", provider),
		db.In("connection_id", toArgs(connectionIDs)...),
	}
	if len(types) > 0 {
		where = append(where, db.In("type", toArgs(types)...))
	}
	db.Where(where...)

	query, args := db.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": provider, "connection_ids": connectionIDs}).Error("Failed to clear unified objects")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear unified objects")
	}

	cleared, _ := res.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":       provider,
		"connection_ids": connectionIDs,
		"types":          types,
		"cleared":        cleared,
	}).Info("Cleared unified objects before resync")
	return cleared, nil
}

func (r *Repository) resolveSkipped(ctx context.Context, provider, externalID string) (*WriteResult, error) {
	existing, err := r.FindByProviderExternalID(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// only possible if the row was hard-deleted between the two statements
		return nil, httperror.NewHTTPError(http.StatusConflict, "unified object changed concurrently")
	}
	return skippedResult(existing), nil
}

func skippedResult(existing *models.UnifiedObject) *WriteResult {
	if existing.IsDeleted() {
		return &WriteResult{Object: existing, Outcome: OutcomeDeleted}
	}
	return &WriteResult{Object: existing, Outcome: OutcomeUnchanged}
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
