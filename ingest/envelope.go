// Package ingest implements the ingest.v1 connector submission boundary
// (§4.7): envelope validation, stable deduplication, and idempotent
// persistence into message_inbox.
package ingest

import (
	"strings"
	"time"
)

// IngestionTier controls how much of the payload is persisted.
type IngestionTier string

const (
	TierFull     IngestionTier = "full"
	TierMetadata IngestionTier = "metadata"
	TierSkip     IngestionTier = "skip"
)

// Source identifies the connector and endpoint an envelope arrived through.
type Source struct {
	Channel          string `json:"channel"`
	Provider         string `json:"provider"`
	EndpointIdentity string `json:"endpoint_identity"`
}

// Event carries source-side event identity and timing.
type Event struct {
	ExternalEventID  string    `json:"external_event_id,omitempty"`
	ExternalThreadID string    `json:"external_thread_id,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Sender identifies who produced the message, in source-native form.
type Sender struct {
	Identity string `json:"identity"`
}

// Attachment describes one piece of non-text payload.
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// Payload carries the message body.
type Payload struct {
	Raw            map[string]any `json:"raw,omitempty"`
	NormalizedText string         `json:"normalized_text"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
}

// Control carries submission-level hints that do not describe the message
// itself: idempotency, trace propagation, and persistence tier.
type Control struct {
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	TraceContext   map[string]any `json:"trace_context,omitempty"`
	PolicyTier     string         `json:"policy_tier,omitempty"`
	IngestionTier  IngestionTier  `json:"ingestion_tier"`
}

// Envelope is a parsed, validated ingest.v1 submission.
type Envelope struct {
	Source  Source  `json:"source"`
	Event   Event   `json:"event"`
	Sender  Sender  `json:"sender"`
	Payload Payload `json:"payload"`
	Control Control `json:"control"`
}

var placeholderEventIDs = map[string]struct{}{
	"placeholder": {},
	"unknown":     {},
	"none":        {},
	"":            {},
}

// Validate checks envelope against the ingest.v1 required-field contract.
// Returns *credential.ValidationError-shaped errors via ValidationError so
// callers can distinguish malformed envelopes from infrastructure failures.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.Source.Channel) == "" {
		return &ValidationError{Field: "source.channel", Message: "must not be empty"}
	}
	if strings.TrimSpace(e.Source.EndpointIdentity) == "" {
		return &ValidationError{Field: "source.endpoint_identity", Message: "must not be empty"}
	}
	if e.Event.ObservedAt.IsZero() {
		return &ValidationError{Field: "event.observed_at", Message: "must be set"}
	}
	if strings.TrimSpace(e.Sender.Identity) == "" {
		return &ValidationError{Field: "sender.identity", Message: "must not be empty"}
	}
	if e.Control.IngestionTier != TierSkip && strings.TrimSpace(e.Payload.NormalizedText) == "" {
		return &ValidationError{Field: "payload.normalized_text", Message: "must not be empty unless ingestion_tier is skip"}
	}
	switch e.Control.IngestionTier {
	case TierFull, TierMetadata, TierSkip, "":
	default:
		return &ValidationError{Field: "control.ingestion_tier", Message: "must be one of full, metadata, skip"}
	}
	return nil
}

// ValidationError reports a malformed ingest.v1 envelope field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid ingest.v1 envelope: " + e.Field + ": " + e.Message
}
