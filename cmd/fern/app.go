package main

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/connection"
	"github.com/Ramsey-B/fern/internal/repositories/schemamapping"
	"github.com/Ramsey-B/fern/internal/repositories/syncconfig"
	"github.com/Ramsey-B/fern/internal/repositories/unifiedobject"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/integrations"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/publisher"
	"github.com/Ramsey-B/fern/pkg/syncer"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, *zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zapLogger = zapLogger.With(zap.String("service", cfg.AppName), zap.String("version", cfg.Version))

	return zapadapter.NewZapEctoLogger(zapLogger, nil), zapLogger, nil
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (*sqlx.DB, error) {
	return database.Connect(ctx, cfg.DatabaseDSN(), database.PoolConfig{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
}

func migrateDatabase(cfg *config.Config, db *sqlx.DB, logger ectologger.Logger) error {
	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(max(cfg.DatabaseMigrationVersion, 0)),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.MigratePostgres(cfg.DatabaseName, db.DB)
}

// core is everything a sync pass needs, shared by serve and sync.
type core struct {
	db           database.DB
	objects      *unifiedobject.Repository
	syncConfigs  *syncconfig.Repository
	connections  *connection.Repository
	mappings     *schemamapping.Repository
	registry     *normalizers.Registry
	gate         *gate.Gate
	platform     *integrations.Platform
	orchestrator *syncer.Orchestrator
	producer     *publisher.Producer
}

func newCore(cfg *config.Config, sqlDB *sqlx.DB, logger ectologger.Logger) *core {
	db := database.NewDatabaseInstance(sqlDB, logger)

	c := &core{
		db:          db,
		objects:     unifiedobject.NewRepository(db, logger),
		syncConfigs: syncconfig.NewRepository(db, logger),
		connections: connection.NewRepository(db, logger),
		mappings:    schemamapping.NewRepository(db, logger),
		registry: normalizers.NewDefaultRegistry(normalizers.Options{
			SalesforceInstanceDomain: cfg.SalesforceInstanceDomain,
			ZohoOrgID:                cfg.ZohoOrgID,
			HubspotPortalID:          cfg.HubspotPortalID,
			JiraSite:                 cfg.JiraSite,
		}),
		platform: integrations.NewPlatform(integrations.PlatformConfig{
			BaseURL:           cfg.IntegrationBaseURL,
			SecretKey:         cfg.IntegrationSecretKey,
			RequestsPerSecond: cfg.IntegrationRequestsPerSecond,
			Burst:             cfg.IntegrationBurst,
			Timeout:           cfg.IntegrationTimeout,
		}, logger),
	}
	c.gate = gate.NewGate(c.syncConfigs, c.registry, logger)
	logger.WithField("providers", c.registry.Providers()).Info("Normalizer registry ready")

	c.orchestrator = syncer.NewOrchestrator(c.platform, c.objects, c.registry, c.gate, c.connections, syncer.Config{
		PageSize:          cfg.SyncPageSize,
		PageTimeout:       cfg.SyncPageTimeout,
		RecordTimeout:     cfg.SyncRecordTimeout,
		RecordConcurrency: cfg.SyncRecordConcurrency,
	}, logger)

	if enricher := integrations.NewEnricher(cfg.EnrichmentBaseURL, cfg.EnrichmentTimeout, logger); enricher != nil {
		c.orchestrator.SetEnricher(enricher)
	}

	c.producer = publisher.NewProducer(publisher.Config{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaObjectTopic,
		Compression: cfg.KafkaCompression,
	}, logger)
	if c.producer != nil {
		c.orchestrator.SetPublisher(c.producer)
	}

	return c
}

func (c *core) Close() error {
	if c.producer != nil {
		return c.producer.Close()
	}
	return nil
}
