package connection

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

const (
	connectionsTable = "connections"
	cursorsTable     = "sync_cursors"
)

var (
	connectionStruct = database.NewStruct(models.Connection{})
	cursorStruct     = database.NewStruct(models.SyncCursor{})
)

// Repository keeps the local record of provider connections and their poll cursors.
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

// Upsert records the connection. End user fields are only overwritten when the
// incoming value is set, so a bare listing never erases them.
func (r *Repository) Upsert(ctx context.Context, conn models.Connection) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	ib := connectionStruct.InsertInto(connectionsTable, conn)
	ub := ib.OnConflict("connection_id", "provider")
	ub.Set(
		ub.Assign("end_user_id", database.Raw("COALESCE(EXCLUDED.end_user_id, connections.end_user_id)")),
		ub.Assign("end_user_email", database.Raw("COALESCE(EXCLUDED.end_user_email, connections.end_user_email)")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ib = ib.Returning(connectionStruct.Columns()...)

	query, args := ib.Build()
	var saved models.Connection
	if err := r.db.GetContext(ctx, &saved, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": conn.ConnectionID, "provider": conn.Provider}).Error("Failed to upsert connection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save connection")
	}
	return &saved, nil
}

func (r *Repository) Get(ctx context.Context, connectionID, provider string) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.Get")
	defer span.End()

	sb := connectionStruct.SelectFrom(connectionsTable)
	sb.Where(sb.Equal("connection_id", connectionID), sb.Equal("provider", provider))

	query, args := sb.Build()
	var conn models.Connection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "connection not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider}).Error("Failed to get connection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connection")
	}
	return &conn, nil
}

// ListByEndUser returns every connection the end user has made to the provider, oldest first.
func (r *Repository) ListByEndUser(ctx context.Context, provider, endUserID string) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListByEndUser")
	defer span.End()

	sb := connectionStruct.SelectFrom(connectionsTable)
	sb.Where(sb.Equal("provider", provider), sb.Equal("end_user_id", endUserID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var conns []models.Connection
	if err := r.db.SelectContext(ctx, &conns, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": provider, "end_user_id": endUserID}).Error("Failed to list connections by end user")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}
	return conns, nil
}

// MarkReset records that the pre-resync clear ran for the connection. A second
// call keeps the first timestamp.
func (r *Repository) MarkReset(ctx context.Context, connectionID, provider string) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.MarkReset")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(connectionsTable)
	ub.Set(ub.Assign("reset_at", time.Now().UTC()))
	ub.Where(
		ub.Equal("connection_id", connectionID),
		ub.Equal("provider", provider),
		ub.IsNull("reset_at"),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider}).Error("Failed to mark connection reset")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark connection reset")
	}
	return nil
}

// GetCursor returns the last successful poll time for the model, or nil if it was never polled.
func (r *Repository) GetCursor(ctx context.Context, connectionID, provider, model string) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.GetCursor")
	defer span.End()

	sb := cursorStruct.SelectFrom(cursorsTable)
	sb.Where(sb.Equal("connection_id", connectionID), sb.Equal("provider", provider), sb.Equal("model", model))

	query, args := sb.Build()
	var cursor models.SyncCursor
	if err := r.db.GetContext(ctx, &cursor, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider, "model": model}).Error("Failed to get sync cursor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync cursor")
	}
	return &cursor.LastSyncedAt, nil
}

// SetCursor moves the model's cursor forward. An older value never replaces a newer one.
func (r *Repository) SetCursor(ctx context.Context, connectionID, provider, model string, syncedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.SetCursor")
	defer span.End()

	ib := cursorStruct.InsertInto(cursorsTable, models.SyncCursor{
		ConnectionID: connectionID,
		Provider:     provider,
		Model:        model,
		LastSyncedAt: syncedAt.UTC(),
	})
	ub := ib.OnConflict("connection_id", "provider", "model")
	ub.Set(ub.Assign("last_synced_at", database.Raw("GREATEST(sync_cursors.last_synced_at, EXCLUDED.last_synced_at)")))

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": connectionID, "provider": provider, "model": model}).Error("Failed to set sync cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set sync cursor")
	}
	return nil
}
