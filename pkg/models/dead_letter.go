package models

import (
	"encoding/json"
	"time"
)

// DeadLetterReason represents why a job was sent to the DLQ
type DeadLetterReason string

const (
	DLQReasonMaxRetries DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidJob DeadLetterReason = "invalid_job"
	DLQReasonTimeout    DeadLetterReason = "timeout"
	DLQReasonPanic      DeadLetterReason = "panic"
	DLQReasonUnknown    DeadLetterReason = "unknown"
)

// Job is one unit of queued work. Webhook jobs carry the verified request body as Payload
// and the event type as Kind.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	TraceParent string          `json:"traceparent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DeadLetter is a job that exhausted its retries or could not be processed at all.
type DeadLetter struct {
	ID           string           `json:"id"`
	Job          *Job             `json:"job"`
	Reason       DeadLetterReason `json:"reason"`
	ErrorMessage string           `json:"error_message"`
	RetryCount   int              `json:"retry_count"`
	TraceID      string           `json:"trace_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
