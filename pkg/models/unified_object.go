package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// ObjectState is the lifecycle state of a unified object.
type ObjectState string

const (
	ObjectStateActive  ObjectState = "active"
	ObjectStateDeleted ObjectState = "deleted"
)

// CanonicalURLPrefix prefixes system-assigned object addresses.
const CanonicalURLPrefix = "/item/"

// UnifiedObject is the canonical record of one external entity.
// (provider, external_id) is unique and immutable; canonical_url never changes after create.
type UnifiedObject struct {
	ID                 string                         `json:"id" db:"id"`
	Provider           string                         `json:"provider" db:"provider"`
	ExternalID         string                         `json:"external_id" db:"external_id"`
	ConnectionID       string                         `json:"connection_id" db:"connection_id"`
	Type               string                         `json:"type" db:"type"`
	Title              string                         `json:"title" db:"title"`
	Description        *string                        `json:"description,omitempty" db:"description"`
	SourceURL          *string                        `json:"source_url,omitempty" db:"source_url"`
	MimeType           *string                        `json:"mime_type,omitempty" db:"mime_type"`
	Slug               *string                        `json:"slug,omitempty" db:"slug"`
	CanonicalURL       string                         `json:"canonical_url" db:"canonical_url"`
	MetadataRaw        database.JSONB[map[string]any] `json:"metadata_raw" db:"metadata_raw"`
	MetadataNormalized database.JSONB[map[string]any] `json:"metadata_normalized" db:"metadata_normalized"`
	ContentHash        string                         `json:"content_hash" db:"content_hash"`
	State              ObjectState                    `json:"state" db:"state"`
	CreatedAt          time.Time                      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                      `json:"updated_at" db:"updated_at"`
}

func (o *UnifiedObject) IsDeleted() bool {
	return o.State == ObjectStateDeleted
}

// NormalizedData is the provider-independent shape produced by a normalizer.
type NormalizedData struct {
	Type               string         `json:"type"`
	Title              string         `json:"title"`
	Description        *string        `json:"description,omitempty"`
	SourceURL          *string        `json:"source_url,omitempty"`
	MimeType           *string        `json:"mime_type,omitempty"`
	MetadataNormalized map[string]any `json:"metadata_normalized"`
}

// ObjectCandidate carries everything needed to create or update an object.
type ObjectCandidate struct {
	Provider     string
	ExternalID   string
	ConnectionID string
	Slug         *string
	// CanonicalPath is a caller-supplied slug path kept instead of /item/{id} on create.
	CanonicalPath string
	Data          NormalizedData
	MetadataRaw   map[string]any
	ContentHash   string
}

// CanonicalURLFor returns the address assigned to a new object.
func CanonicalURLFor(id, callerPath string) string {
	if callerPath != "" {
		return callerPath
	}
	return CanonicalURLPrefix + id
}
