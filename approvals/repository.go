package approvals

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
)

// ErrActionNotPending is returned by Decide when the target action
// is not currently in the "pending" state.
var ErrActionNotPending = errors.New("approvals: action is not pending")

// Repository is the gorm-backed store for the approvals contract. Its
// ApprovalEvent rows are append-only: this type intentionally exposes no
// UpdateEvent or DeleteEvent method, and no exported function anywhere in
// this package issues an UPDATE or DELETE against approval_events.
type Repository struct {
	db *gorm.DB
}

// New builds a Repository backed by db.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// QueueOption customizes a QueueAction call.
type QueueOption func(*PendingAction)

// WithSummary attaches a human-readable summary of the requested action.
func WithSummary(summary string) QueueOption {
	return func(a *PendingAction) { a.AgentSummary = &summary }
}

// WithSession attaches the originating spawner session.
func WithSession(sessionID uuid.UUID) QueueOption {
	return func(a *PendingAction) { a.SessionID = &sessionID }
}

// WithExpiry sets when the action should be auto-expired if undecided.
func WithExpiry(expiresAt time.Time) QueueOption {
	return func(a *PendingAction) { a.ExpiresAt = &expiresAt }
}

// QueueAction inserts a PendingAction for (toolName, args). If an active,
// unexpired approval rule exists for toolName whose arg_constraints are
// satisfied by args and whose use_count is still under max_uses (when
// bounded), the action auto-transitions to approved and the rule's
// use_count is incremented, all within one transaction. Otherwise the
// action is left pending. Either way an EventQueued ApprovalEvent row is
// appended; an auto-approval appends a second, EventAutoApproved, row.
func (r *Repository) QueueAction(toolName string, args any, opts ...QueueOption) (*PendingAction, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("approvals: marshal tool args: %w", err)
	}

	action := &PendingAction{
		ID:          idgen.TimeOrdered(),
		ToolName:    toolName,
		ToolArgs:    body,
		Status:      StatusPending,
		RequestedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(action)
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(action).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, action.ID, nil, EventQueued, "system:queue", ""); err != nil {
			return err
		}

		rule, err := matchingRule(tx, toolName, body)
		if err != nil {
			return err
		}
		if rule == nil {
			return nil
		}

		now := time.Now().UTC()
		decidedBy := "rule:" + rule.ID.String()
		if err := tx.Model(action).Updates(map[string]any{
			"status":           StatusApproved,
			"decided_by":       decidedBy,
			"decided_at":       now,
			"approval_rule_id": rule.ID,
		}).Error; err != nil {
			return err
		}
		action.Status = StatusApproved
		action.DecidedBy = &decidedBy
		action.DecidedAt = &now
		action.ApprovalRuleID = &rule.ID

		if err := tx.Model(&ApprovalRule{}).Where("id = ?", rule.ID).
			Update("use_count", gorm.Expr("use_count + 1")).Error; err != nil {
			return err
		}

		return appendEvent(tx, action.ID, &rule.ID, EventAutoApproved, decidedBy, "matched standing rule")
	})
	if err != nil {
		return nil, fmt.Errorf("approvals: queue action: %w", err)
	}
	return action, nil
}

// matchingRule finds the first active, unexpired, under-use-limit rule for
// toolName whose arg_constraints are satisfied by args, or nil if none
// matches.
func matchingRule(tx *gorm.DB, toolName string, args json.RawMessage) (*ApprovalRule, error) {
	var rules []ApprovalRule
	now := time.Now().UTC()
	if err := tx.Where("tool_name = ? AND active = ?", toolName, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&rules).Error; err != nil {
		return nil, err
	}

	var argMap map[string]any
	if err := json.Unmarshal(args, &argMap); err != nil {
		return nil, nil
	}

	for i := range rules {
		rule := &rules[i]
		if rule.MaxUses != nil && rule.UseCount >= *rule.MaxUses {
			continue
		}
		if constraintsSatisfied(rule.ArgConstraints, argMap) {
			return rule, nil
		}
	}
	return nil, nil
}

// constraintsSatisfied reports whether every key in constraints is present
// in args with an equal (JSON-decoded) value. An empty or absent
// constraints object matches any args.
func constraintsSatisfied(constraints json.RawMessage, args map[string]any) bool {
	if len(constraints) == 0 {
		return true
	}
	var want map[string]any
	if err := json.Unmarshal(constraints, &want); err != nil {
		return false
	}
	for k, wv := range want {
		av, ok := args[k]
		if !ok {
			return false
		}
		wantJSON, _ := json.Marshal(wv)
		gotJSON, _ := json.Marshal(av)
		if string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}

// Decide records a human decision (approve or reject) on a pending action.
// Fails with ErrActionNotPending if the action is not currently pending.
func (r *Repository) Decide(actionID uuid.UUID, approve bool, decidedBy, reason string) (*PendingAction, error) {
	status := StatusRejected
	eventType := EventRejected
	if approve {
		status = StatusApproved
		eventType = EventApproved
	}

	var action PendingAction
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", actionID).First(&action).Error; err != nil {
			return err
		}
		if action.Status != StatusPending {
			return ErrActionNotPending
		}

		now := time.Now().UTC()
		if err := tx.Model(&action).Updates(map[string]any{
			"status":     status,
			"decided_by": decidedBy,
			"decided_at": now,
		}).Error; err != nil {
			return err
		}
		action.Status = status
		action.DecidedBy = &decidedBy
		action.DecidedAt = &now

		return appendEvent(tx, actionID, nil, eventType, decidedBy, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("approvals: decide action: %w", err)
	}
	return &action, nil
}

// RecordExecution marks an approved action executed, storing its result.
func (r *Repository) RecordExecution(actionID uuid.UUID, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("approvals: marshal execution result: %w", err)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PendingAction{}).Where("id = ?", actionID).
			Updates(map[string]any{
				"status":           StatusExecuted,
				"execution_result": body,
			}).Error; err != nil {
			return err
		}
		return appendEvent(tx, actionID, nil, EventExecuted, "system:executor", "")
	})
}

// ExpireStale transitions every pending action whose expires_at has passed
// to expired, returning the ids it transitioned.
func (r *Repository) ExpireStale() ([]uuid.UUID, error) {
	now := time.Now().UTC()
	var stale []PendingAction
	var expired []uuid.UUID

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			StatusPending, now).Find(&stale).Error; err != nil {
			return err
		}
		for _, action := range stale {
			res := tx.Model(&PendingAction{}).
				Where("id = ? AND status = ?", action.ID, StatusPending).
				Updates(map[string]any{
					"status":     StatusExpired,
					"decided_by": "system:expiry",
					"decided_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := appendEvent(tx, action.ID, nil, EventExpired, "system:expiry", "past expires_at"); err != nil {
				return err
			}
			expired = append(expired, action.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approvals: expire stale: %w", err)
	}
	return expired, nil
}

// RuleOption customizes a CreateRule call.
type RuleOption func(*ApprovalRule)

// WithRuleMaxUses bounds how many times the rule may auto-approve.
func WithRuleMaxUses(maxUses int) RuleOption {
	return func(r *ApprovalRule) { r.MaxUses = &maxUses }
}

// WithRuleExpiry sets when the rule itself stops being considered.
func WithRuleExpiry(expiresAt time.Time) RuleOption {
	return func(r *ApprovalRule) { r.ExpiresAt = &expiresAt }
}

// WithRuleCreatedFrom records the pending action this rule was minted from.
func WithRuleCreatedFrom(actionID uuid.UUID) RuleOption {
	return func(r *ApprovalRule) { r.CreatedFrom = &actionID }
}

// CreateRule inserts a new standing approval rule, active by default.
func (r *Repository) CreateRule(toolName, description string, constraints any, opts ...RuleOption) (*ApprovalRule, error) {
	body, err := json.Marshal(constraints)
	if err != nil {
		return nil, fmt.Errorf("approvals: marshal arg constraints: %w", err)
	}

	rule := &ApprovalRule{
		ID:             idgen.TimeOrdered(),
		ToolName:       toolName,
		ArgConstraints: body,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
		Active:         true,
	}
	for _, opt := range opts {
		opt(rule)
	}
	if err := r.db.Create(rule).Error; err != nil {
		return nil, fmt.Errorf("approvals: create rule: %w", err)
	}
	return rule, nil
}

// RevokeRule deactivates a standing rule so it no longer auto-approves.
func (r *Repository) RevokeRule(ruleID uuid.UUID) error {
	if err := r.db.Model(&ApprovalRule{}).Where("id = ?", ruleID).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("approvals: revoke rule: %w", err)
	}
	return nil
}

// appendEvent inserts one ApprovalEvent row. This is the only function in
// the package that writes to approval_events, and it only ever inserts.
func appendEvent(tx *gorm.DB, actionID uuid.UUID, ruleID *uuid.UUID, eventType, actor, reason string) error {
	event := &ApprovalEvent{
		ActionID:   actionID,
		RuleID:     ruleID,
		EventType:  eventType,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	return tx.Create(event).Error
}
