package gate

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ConfigStore reads per-connection sync configuration. A missing row is (nil, nil).
type ConfigStore interface {
	Find(ctx context.Context, connectionID, provider string) (*models.ConnectionSyncConfig, error)
}

// CatalogSource supplies provider defaults.
type CatalogSource interface {
	Catalog(provider string) normalizers.Catalog
}

// Decision is the gate's verdict for one data type.
type Decision struct {
	Sync    bool `json:"sync"`
	Publish bool `json:"publish"`
}

var allowAll = Decision{Sync: true, Publish: true}

// Gate decides whether a data type is synced and published for a connection.
// It is read-only and fails open: a configuration read error allows the type.
type Gate struct {
	store    ConfigStore
	catalogs CatalogSource
	logger   ectologger.Logger
}

func NewGate(store ConfigStore, catalogs CatalogSource, logger ectologger.Logger) *Gate {
	return &Gate{
		store:    store,
		catalogs: catalogs,
		logger:   logger,
	}
}

// ShouldSync reports whether records of dataType are synced for the connection.
func (g *Gate) ShouldSync(ctx context.Context, connectionID, provider, dataType string) bool {
	return g.Policy(ctx, connectionID, provider).Decide(dataType).Sync
}

// ShouldPublish reports whether writes of dataType are published downstream.
func (g *Gate) ShouldPublish(ctx context.Context, connectionID, provider, dataType string) bool {
	return g.Policy(ctx, connectionID, provider).Decide(dataType).Publish
}

// Policy loads the connection's configuration once so a sync pass can decide
// many records without re-reading it.
func (g *Gate) Policy(ctx context.Context, connectionID, provider string) *Policy {
	ctx, span := tracing.StartSpan(ctx, "gate.Gate.Policy")
	defer span.End()

	policy := &Policy{defaults: g.catalogs.Catalog(provider).Defaults()}

	cfg, err := g.store.Find(ctx, connectionID, provider)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connection_id": connectionID,
			"provider":      provider,
		}).Warn("Failed to read sync config, allowing all data types")
		metrics.RecordGateFailOpen(provider)
		policy.failOpen = true
		return policy
	}

	if cfg != nil {
		policy.settings = cfg.DataTypes.GetValue()
	}
	return policy
}

// Policy is a loaded view of one connection's gate configuration.
type Policy struct {
	settings map[string]models.DataTypeSetting
	defaults map[string]bool
	failOpen bool
}

// Decide applies the lookup order: explicit setting, provider default, then allow.
func (p *Policy) Decide(dataType string) Decision {
	if p == nil || p.failOpen {
		return allowAll
	}

	if setting, ok := p.settings[dataType]; ok {
		return Decision{
			Sync:    setting.Enabled,
			Publish: setting.Enabled && setting.IncludeInDownstreamPublish,
		}
	}

	if enabled, ok := p.defaults[dataType]; ok {
		return Decision{Sync: enabled, Publish: enabled}
	}

	// unknown types are allowed until configuration catches up
	return allowAll
}

// AnyEnabled reports whether at least one of dataTypes would sync. An empty list is allowed.
func (p *Policy) AnyEnabled(dataTypes []string) bool {
	if len(dataTypes) == 0 {
		return true
	}
	for _, dt := range dataTypes {
		if p.Decide(dt).Sync {
			return true
		}
	}
	return false
}
