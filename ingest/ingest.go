package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
	"github.com/Tzeusy/butlers-sub006/triage"
)

// AcceptedResponse is the canonical response to an accepted ingest.v1
// submission: {request_id, status, duplicate, triage_decision?, triage_target?}.
type AcceptedResponse struct {
	RequestID      string
	Status         string
	Duplicate      bool
	TriageDecision string
	TriageTarget   string
}

// Options configures one Accept call.
type Options struct {
	// TriageRulesProvided false bypasses triage entirely (no annotation).
	// When it is true, triage runs over TriageRules: a nil or empty slice
	// means zero active rules (always pass_through), a populated one is
	// evaluated rule by rule.
	TriageRules          []triage.Rule
	TriageRulesProvided  bool
	TriageCacheAvailable bool
	ThreadAffinityTarget string
}

// Accept implements ingest_v1 (§4.7): validate, deduplicate, triage, and
// persist one ingest.v1 submission.
func Accept(ctx context.Context, db *gorm.DB, envelope *Envelope, opts Options) (*AcceptedResponse, error) {
	if err := envelope.Validate(); err != nil {
		return nil, err
	}

	dedupeKey := computeDedupeKey(envelope)

	existingID, found, err := findByDedupeKey(ctx, db, dedupeKey)
	if err != nil {
		return nil, fmt.Errorf("dedupe lookup failed: %w", err)
	}
	if found {
		return &AcceptedResponse{RequestID: existingID, Status: "accepted", Duplicate: true}, nil
	}

	var decision *triage.Decision
	if opts.TriageRulesProvided {
		d := triage.Evaluate(triage.Envelope{
			SourceChannel:  envelope.Source.Channel,
			SenderIdentity: envelope.Sender.Identity,
			NormalizedText: envelope.Payload.NormalizedText,
		}, opts.TriageRules, opts.ThreadAffinityTarget, opts.TriageCacheAvailable)
		decision = &d
	}

	requestID := idgen.TimeOrdered().String()
	receivedAt := time.Now().UTC()

	rc := RequestContext{
		RequestID:              requestID,
		ReceivedAt:             receivedAt.Format(time.RFC3339Nano),
		SourceChannel:          envelope.Source.Channel,
		SourceEndpointIdentity: envelope.Source.EndpointIdentity,
		SourceSenderIdentity:   envelope.Sender.Identity,
		SourceThreadIdentity:   envelope.Event.ExternalThreadID,
		IdempotencyKey:         envelope.Control.IdempotencyKey,
		IngestionTier:          string(envelope.Control.IngestionTier),
		DedupeKey:              dedupeKey,
		DedupeStrategy:         "connector_api",
	}
	if decision != nil {
		rc.TriageDecision = decision.Decision
		rc.TriageTarget = decision.TargetButler
		rc.TriageRuleID = decision.MatchedRuleID
		rc.TriageRuleType = decision.MatchedRuleType
	}

	rcJSON, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request context: %w", err)
	}
	rawJSON, err := json.Marshal(envelope.Payload.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	attachmentsJSON, err := json.Marshal(envelope.Payload.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}

	lifecycleState := "accepted"
	if envelope.Control.IngestionTier == TierMetadata {
		lifecycleState = "metadata_ref"
	}

	row := MessageInbox{
		ID:                 requestID,
		ReceivedAt:         receivedAt,
		RequestContext:     rcJSON,
		RawPayload:         rawJSON,
		NormalizedText:     envelope.Payload.NormalizedText,
		Attachments:        attachmentsJSON,
		LifecycleState:     lifecycleState,
		SchemaVersion:      "ingest.v1",
		ProcessingMetadata: json.RawMessage(`{}`),
	}

	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		// Two concurrent submissions racing on the same dedupe key: the
		// unique index rejects the loser, which then looks up and returns
		// the winner's request_id rather than erroring the caller.
		if existingID, found, lookupErr := findByDedupeKey(ctx, db, dedupeKey); lookupErr == nil && found {
			return &AcceptedResponse{RequestID: existingID, Status: "accepted", Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to persist message_inbox row: %w", err)
	}

	resp := &AcceptedResponse{RequestID: requestID, Status: "accepted", Duplicate: false}
	if decision != nil {
		resp.TriageDecision = decision.Decision
		resp.TriageTarget = decision.TargetButler
	}
	return resp, nil
}

func findByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (string, bool, error) {
	var row MessageInbox
	err := db.WithContext(ctx).
		Where("request_context ->> 'dedupe_key' = ?", dedupeKey).
		Order("received_at DESC").
		Limit(1).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.ID, true, nil
}
