package schemamapping_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/schemamapping"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestRepository_ResolvePrefersModelSpecific(t *testing.T) {
	db := testutil.Postgres(t)
	repo := schemamapping.NewRepository(db, testutil.Logger())
	ctx := context.Background()

	wide, err := repo.Create(ctx, models.CreateSchemaMappingRequest{OwnerID: "o1", Provider: "github", Expression: "{title: title}"})
	require.NoError(t, err)
	specific, err := repo.Create(ctx, models.CreateSchemaMappingRequest{OwnerID: "o1", Provider: "github", Model: strPtr("GithubIssue"), Expression: "{n: metadata_normalized.number}"})
	require.NoError(t, err)

	got, err := repo.Resolve(ctx, "o1", "github", "GithubIssue")
	require.NoError(t, err)
	assert.Equal(t, specific.ID, got.ID)

	got, err = repo.Resolve(ctx, "o1", "github", "GithubRepository")
	require.NoError(t, err)
	assert.Equal(t, wide.ID, got.ID)

	_, err = repo.Resolve(ctx, "o2", "github", "GithubIssue")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	_, err = repo.Create(ctx, models.CreateSchemaMappingRequest{OwnerID: "o1", Provider: "github", Expression: "title"})
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	list, err := repo.List(ctx, "o1", "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
