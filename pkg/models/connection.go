package models

import "time"

// Connection is the local record of an authorized provider account.
type Connection struct {
	ConnectionID string  `json:"connection_id" db:"connection_id"`
	Provider     string  `json:"provider" db:"provider"`
	EndUserID    *string `json:"end_user_id,omitempty" db:"end_user_id"`
	EndUserEmail *string `json:"end_user_email,omitempty" db:"end_user_email"`
	// ResetAt is when the pre-resync clear ran for this connection; nil until then.
	ResetAt   *time.Time `json:"reset_at,omitempty" db:"reset_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// SyncCursor records where the last poll pass for a model left off.
type SyncCursor struct {
	ConnectionID string    `db:"connection_id"`
	Provider     string    `db:"provider"`
	Model        string    `db:"model"`
	LastSyncedAt time.Time `db:"last_synced_at"`
}
