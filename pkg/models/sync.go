package models

import "time"

// SyncRequest identifies one sync pass.
type SyncRequest struct {
	Provider      string     `json:"provider" validate:"required"`
	ConnectionID  string     `json:"connection_id" validate:"required"`
	Model         string     `json:"model" validate:"required"`
	ModifiedAfter *time.Time `json:"modified_after,omitempty"`
}

// SyncResult summarizes a pass. Synced counts created, updated and soft-deleted records.
type SyncResult struct {
	Provider     string `json:"provider"`
	ConnectionID string `json:"connection_id"`
	Model        string `json:"model,omitempty"`
	Synced       int    `json:"synced"`
	Errors       int    `json:"errors"`
	Skipped      int    `json:"skipped"`
}

// ObjectEventType names downstream object events.
type ObjectEventType string

const (
	ObjectEventCreated ObjectEventType = "object.created"
	ObjectEventUpdated ObjectEventType = "object.updated"
	ObjectEventDeleted ObjectEventType = "object.deleted"
)

// ObjectEvent is published downstream after a write when the data type opts in.
type ObjectEvent struct {
	EventType    ObjectEventType `json:"event_type"`
	ObjectID     string          `json:"object_id"`
	Provider     string          `json:"provider"`
	ExternalID   string          `json:"external_id"`
	ConnectionID string          `json:"connection_id"`
	Type         string          `json:"type"`
	CanonicalURL string          `json:"canonical_url"`
	ContentHash  string          `json:"content_hash"`
	Timestamp    time.Time       `json:"timestamp"`
}
