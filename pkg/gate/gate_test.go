package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	cfg   *models.ConnectionSyncConfig
	err   error
	calls int
}

func (f *fakeStore) Find(_ context.Context, _, _ string) (*models.ConnectionSyncConfig, error) {
	f.calls++
	return f.cfg, f.err
}

func newTestGate(store ConfigStore) *Gate {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewGate(store, normalizers.NewDefaultRegistry(normalizers.Options{}), logger)
}

func configWith(settings map[string]models.DataTypeSetting) *models.ConnectionSyncConfig {
	return &models.ConnectionSyncConfig{
		ConnectionID: "c1",
		Provider:     "google-drive",
		DataTypes:    database.NewJSONB(settings),
	}
}

func TestGate_NoConfigAllowsEveryKnownType(t *testing.T) {
	g := newTestGate(&fakeStore{})

	for _, dt := range []string{normalizers.TypeDocument, normalizers.TypeFile, normalizers.TypeFolder} {
		assert.True(t, g.ShouldSync(context.Background(), "c1", "google-drive", dt), dt)
		assert.True(t, g.ShouldPublish(context.Background(), "c1", "google-drive", dt), dt)
	}
}

func TestGate_ExplicitSettings(t *testing.T) {
	store := &fakeStore{cfg: configWith(map[string]models.DataTypeSetting{
		normalizers.TypeFolder:   {Enabled: false, IncludeInDownstreamPublish: true},
		normalizers.TypeDocument: {Enabled: true, IncludeInDownstreamPublish: false},
	})}
	g := newTestGate(store)
	ctx := context.Background()

	assert.False(t, g.ShouldSync(ctx, "c1", "google-drive", normalizers.TypeFolder))
	assert.False(t, g.ShouldPublish(ctx, "c1", "google-drive", normalizers.TypeFolder), "disabled types never publish")

	assert.True(t, g.ShouldSync(ctx, "c1", "google-drive", normalizers.TypeDocument))
	assert.False(t, g.ShouldPublish(ctx, "c1", "google-drive", normalizers.TypeDocument))

	// type missing from the row falls back to the catalog default
	assert.True(t, g.ShouldSync(ctx, "c1", "google-drive", normalizers.TypeFile))
}

func TestGate_UnknownTypeAllowed(t *testing.T) {
	store := &fakeStore{cfg: configWith(map[string]models.DataTypeSetting{})}
	g := newTestGate(store)

	assert.True(t, g.ShouldSync(context.Background(), "c1", "google-drive", "hologram"))
	assert.True(t, g.ShouldSync(context.Background(), "c1", "unknown-provider", "record"))
}

func TestGate_StoreErrorFailsOpen(t *testing.T) {
	store := &fakeStore{
		cfg: configWith(map[string]models.DataTypeSetting{normalizers.TypeFolder: {Enabled: false}}),
		err: errors.New("connection refused"),
	}
	g := newTestGate(store)

	assert.True(t, g.ShouldSync(context.Background(), "c1", "google-drive", normalizers.TypeFolder))
	assert.True(t, g.ShouldPublish(context.Background(), "c1", "google-drive", normalizers.TypeFolder))
}

func TestPolicy_LoadsOnce(t *testing.T) {
	store := &fakeStore{cfg: configWith(map[string]models.DataTypeSetting{
		normalizers.TypeFolder: {Enabled: false},
	})}
	g := newTestGate(store)

	policy := g.Policy(context.Background(), "c1", "google-drive")
	for i := 0; i < 10; i++ {
		policy.Decide(normalizers.TypeFolder)
	}

	assert.Equal(t, 1, store.calls)
	assert.True(t, policy.AnyEnabled([]string{normalizers.TypeFolder, normalizers.TypeFile}))
	assert.False(t, policy.AnyEnabled([]string{normalizers.TypeFolder}))
	assert.True(t, policy.AnyEnabled(nil))
}

func TestPolicy_NilAllows(t *testing.T) {
	var p *Policy
	assert.Equal(t, Decision{Sync: true, Publish: true}, p.Decide("anything"))
}
