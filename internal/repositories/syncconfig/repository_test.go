package syncconfig_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/syncconfig"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestRepository_FindAndUpsert(t *testing.T) {
	db := testutil.Postgres(t)
	repo := syncconfig.NewRepository(db, testutil.Logger())
	ctx := context.Background()

	cfg, err := repo.Find(ctx, "c1", "google-drive")
	require.NoError(t, err)
	assert.Nil(t, cfg, "a missing row is not an error")

	saved, err := repo.Upsert(ctx, "c1", "google-drive", map[string]models.DataTypeSetting{
		"folder": {Enabled: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", saved.ConnectionID)

	saved, err = repo.Upsert(ctx, "c1", "google-drive", map[string]models.DataTypeSetting{
		"folder":   {Enabled: true, IncludeInDownstreamPublish: true},
		"document": {Enabled: false},
	})
	require.NoError(t, err)

	cfg, err = repo.Find(ctx, "c1", "google-drive")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	settings := cfg.DataTypes.GetValue()
	assert.Len(t, settings, 2)
	assert.True(t, settings["folder"].IncludeInDownstreamPublish)
	assert.False(t, settings["document"].Enabled)
}
