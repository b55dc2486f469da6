package connection_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/connection"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestRepository_Connections(t *testing.T) {
	db := testutil.Postgres(t)
	repo := connection.NewRepository(db, testutil.Logger())
	ctx := context.Background()

	_, err := repo.Upsert(ctx, models.Connection{ConnectionID: "old", Provider: "github", EndUserID: strPtr("u1")})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, models.Connection{ConnectionID: "new", Provider: "github", EndUserID: strPtr("u1"), EndUserEmail: strPtr("u1@acme.io")})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, models.Connection{ConnectionID: "other", Provider: "github", EndUserID: strPtr("u2")})
	require.NoError(t, err)

	// a listing without end user details keeps the stored ones
	saved, err := repo.Upsert(ctx, models.Connection{ConnectionID: "new", Provider: "github"})
	require.NoError(t, err)
	require.NotNil(t, saved.EndUserID)
	assert.Equal(t, "u1", *saved.EndUserID)
	require.NotNil(t, saved.EndUserEmail)
	assert.Equal(t, "u1@acme.io", *saved.EndUserEmail)

	conns, err := repo.ListByEndUser(ctx, "github", "u1")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "old", conns[0].ConnectionID)
	assert.Equal(t, "new", conns[1].ConnectionID)

	_, err = repo.Get(ctx, "missing", "github")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRepository_Cursors(t *testing.T) {
	db := testutil.Postgres(t)
	repo := connection.NewRepository(db, testutil.Logger())
	ctx := context.Background()

	cursor, err := repo.GetCursor(ctx, "c1", "github", "GithubIssue")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.SetCursor(ctx, "c1", "github", "GithubIssue", later))
	require.NoError(t, repo.SetCursor(ctx, "c1", "github", "GithubIssue", earlier))

	cursor, err = repo.GetCursor(ctx, "c1", "github", "GithubIssue")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, later.Equal(*cursor), "cursor must not move backwards")
}

func TestRepository_MarkReset(t *testing.T) {
	db := testutil.Postgres(t)
	repo := connection.NewRepository(db, testutil.Logger())
	ctx := context.Background()

	saved, err := repo.Upsert(ctx, models.Connection{ConnectionID: "c1", Provider: "github"})
	require.NoError(t, err)
	assert.Nil(t, saved.ResetAt)

	require.NoError(t, repo.MarkReset(ctx, "c1", "github"))
	first, err := repo.Get(ctx, "c1", "github")
	require.NoError(t, err)
	require.NotNil(t, first.ResetAt)

	require.NoError(t, repo.MarkReset(ctx, "c1", "github"))

	// a later upsert from a poll or a redelivered webhook keeps the marker
	again, err := repo.Upsert(ctx, models.Connection{ConnectionID: "c1", Provider: "github"})
	require.NoError(t, err)
	require.NotNil(t, again.ResetAt)
	assert.True(t, first.ResetAt.Equal(*again.ResetAt))
}
