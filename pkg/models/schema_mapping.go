package models

import "time"

// SchemaMapping is a JMESPath transform applied when rendering objects for an owner.
// A nil Model applies to every model of the provider.
type SchemaMapping struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	Provider   string    `json:"provider" db:"provider"`
	Model      *string   `json:"model,omitempty" db:"model"`
	Expression string    `json:"expression" db:"expression"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

type CreateSchemaMappingRequest struct {
	OwnerID    string  `json:"owner_id" validate:"required"`
	Provider   string  `json:"provider" validate:"required"`
	Model      *string `json:"model,omitempty"`
	Expression string  `json:"expression" validate:"required"`
}
