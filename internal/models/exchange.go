package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a relay invocation terminated.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeValidation Outcome = "validation_error"
	OutcomeUpstream   Outcome = "upstream_error"
	OutcomeMalformed  Outcome = "malformed_upstream_response"
	OutcomeInternal   Outcome = "internal_error"
)

// Exchange is the content-free record of a single relay invocation.
// It never carries message text.
type Exchange struct {
	ID               uuid.UUID `json:"id"`
	RequestID        string    `json:"request_id"`
	Route            string    `json:"route"`
	Shape            string    `json:"shape"`
	Model            string    `json:"model"`
	Status           int       `json:"status"`
	Outcome          Outcome   `json:"outcome"`
	UpstreamStatus   int       `json:"upstream_status,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
