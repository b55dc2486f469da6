package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("POLL_SCHEDULE", "@every 5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.WebhookSecret)
	assert.Equal(t, "@every 5m", cfg.PollSchedule)
	assert.Equal(t, 4, cfg.QueueWorkerCount)
	assert.Equal(t, "X-Nango-Hmac-Sha256", cfg.WebhookSignatureHeader)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &Config{QueueWorkerCount: 1, SyncRecordConcurrency: 1}
	assert.Error(t, cfg.Validate(), "missing webhook secret")

	cfg.WebhookSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.QueueWorkerCount = 0
	assert.Error(t, cfg.Validate())

	cfg.QueueWorkerCount = 1
	cfg.SyncRecordConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{DatabaseHost: "db", DatabasePort: "5432", DatabaseUserName: "u", DatabasePassword: "p", DatabaseName: "fern", DatabaseSSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fern sslmode=disable", cfg.DatabaseDSN())
}
