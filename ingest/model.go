package ingest

import (
	"encoding/json"
	"time"
)

// MessageInbox is the message_inbox row: the canonical, append-mostly
// record of every accepted ingest.v1 submission.
type MessageInbox struct {
	ID                 string          `gorm:"column:id;primaryKey"`
	ReceivedAt         time.Time       `gorm:"column:received_at"`
	RequestContext     json.RawMessage `gorm:"column:request_context;type:jsonb"`
	RawPayload         json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	NormalizedText     string          `gorm:"column:normalized_text"`
	Attachments        json.RawMessage `gorm:"column:attachments;type:jsonb"`
	LifecycleState     string          `gorm:"column:lifecycle_state"`
	SchemaVersion      string          `gorm:"column:schema_version"`
	ProcessingMetadata json.RawMessage `gorm:"column:processing_metadata;type:jsonb"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`
}

func (MessageInbox) TableName() string { return "message_inbox" }

// RequestContext mirrors the JSON shape stored in MessageInbox.RequestContext.
// Only fields this module reads/writes are modeled; unknown keys persisted by
// other readers survive round-trips because the column is raw JSON, not this
// struct.
type RequestContext struct {
	RequestID              string `json:"request_id"`
	ReceivedAt             string `json:"received_at"`
	SourceChannel          string `json:"source_channel"`
	SourceEndpointIdentity string `json:"source_endpoint_identity"`
	SourceSenderIdentity   string `json:"source_sender_identity"`
	SourceThreadIdentity   string `json:"source_thread_identity,omitempty"`
	IdempotencyKey         string `json:"idempotency_key,omitempty"`
	IngestionTier          string `json:"ingestion_tier"`
	DedupeKey              string `json:"dedupe_key"`
	DedupeStrategy         string `json:"dedupe_strategy"`
	TriageDecision         string `json:"triage_decision,omitempty"`
	TriageTarget           string `json:"triage_target,omitempty"`
	TriageRuleID           string `json:"triage_rule_id,omitempty"`
	TriageRuleType         string `json:"triage_rule_type,omitempty"`
	Direction              string `json:"direction,omitempty"`
}
