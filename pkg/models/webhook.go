package models

import "time"

// WebhookEventKind is the "type" field of an inbound webhook.
type WebhookEventKind string

const (
	WebhookEventAuth WebhookEventKind = "auth"
	WebhookEventSync WebhookEventKind = "sync"
)

// OperationCreation marks an auth event for a newly created connection.
const OperationCreation = "creation"

type EndUser struct {
	EndUserID    string `json:"endUserId"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Organization any    `json:"organization,omitempty"`
}

// WebhookPayload is the notifier's JSON body.
type WebhookPayload struct {
	Type              WebhookEventKind `json:"type" validate:"required"`
	ProviderConfigKey string           `json:"providerConfigKey" validate:"required"`
	ConnectionID      string           `json:"connectionId" validate:"required"`
	Success           bool             `json:"success"`
	Model             string           `json:"model,omitempty"`
	Operation         string           `json:"operation,omitempty"`
	ModifiedAfter     *time.Time       `json:"modifiedAfter,omitempty"`
	EndUser           *EndUser         `json:"endUser,omitempty"`
}
