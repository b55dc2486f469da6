package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// DataTypeSetting governs one data type on one connection.
type DataTypeSetting struct {
	Enabled                    bool `json:"enabled"`
	IncludeInDownstreamPublish bool `json:"include_in_downstream_publish"`
}

// ConnectionSyncConfig maps data type keys to settings for a (connection, provider).
type ConnectionSyncConfig struct {
	ConnectionID string                                     `json:"connection_id" db:"connection_id"`
	Provider     string                                     `json:"provider" db:"provider"`
	DataTypes    database.JSONB[map[string]DataTypeSetting] `json:"data_types" db:"data_types"`
	UpdatedAt    time.Time                                  `json:"updated_at" db:"updated_at"`
}

type UpsertSyncConfigRequest struct {
	DataTypes map[string]DataTypeSetting `json:"data_types" validate:"required"`
}
