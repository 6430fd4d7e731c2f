// Package approvals implements the core-referenced approvals contract
// (§3/§4.17): a queue of pending tool invocations gated by standing rules,
// plus an append-only decision trail. Grounded on
// original_source/tests/test_approvals_models.py and
// original_source/src/butlers/api/routers/approvals.py.
package approvals

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the lifecycle state of a PendingAction.
type ActionStatus string

const (
	StatusPending  ActionStatus = "pending"
	StatusApproved ActionStatus = "approved"
	StatusRejected ActionStatus = "rejected"
	StatusExpired  ActionStatus = "expired"
	StatusExecuted ActionStatus = "executed"
)

// PendingAction is one tool invocation awaiting (or having received) a
// decision (§3 "Pending Action").
type PendingAction struct {
	ID              uuid.UUID       `gorm:"column:id;primaryKey;type:uuid"`
	ToolName        string          `gorm:"column:tool_name"`
	ToolArgs        json.RawMessage `gorm:"column:tool_args"`
	AgentSummary    *string         `gorm:"column:agent_summary"`
	SessionID       *uuid.UUID      `gorm:"column:session_id;type:uuid"`
	Status          ActionStatus    `gorm:"column:status"`
	RequestedAt     time.Time       `gorm:"column:requested_at"`
	ExpiresAt       *time.Time      `gorm:"column:expires_at"`
	DecidedBy       *string         `gorm:"column:decided_by"`
	DecidedAt       *time.Time      `gorm:"column:decided_at"`
	ExecutionResult json.RawMessage `gorm:"column:execution_result"`
	ApprovalRuleID  *uuid.UUID      `gorm:"column:approval_rule_id;type:uuid"`
}

func (PendingAction) TableName() string { return "pending_actions" }

// ApprovalRule is a standing, optionally-bounded auto-approval policy for a
// tool/args shape (§3 "Approval Rule").
type ApprovalRule struct {
	ID             uuid.UUID       `gorm:"column:id;primaryKey;type:uuid"`
	ToolName       string          `gorm:"column:tool_name"`
	ArgConstraints json.RawMessage `gorm:"column:arg_constraints"`
	Description    string          `gorm:"column:description"`
	CreatedFrom    *uuid.UUID      `gorm:"column:created_from;type:uuid"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	ExpiresAt      *time.Time      `gorm:"column:expires_at"`
	MaxUses        *int            `gorm:"column:max_uses"`
	UseCount       int             `gorm:"column:use_count"`
	Active         bool            `gorm:"column:active"`
}

func (ApprovalRule) TableName() string { return "approval_rules" }

// ApprovalEvent is one append-only entry in a pending action's decision
// trail (§3 "Approval Event"). Deliberately has no corresponding
// Update/Delete function anywhere in this package — see Repository.
type ApprovalEvent struct {
	ID         int64      `gorm:"column:id;primaryKey"`
	ActionID   uuid.UUID  `gorm:"column:action_id;type:uuid"`
	RuleID     *uuid.UUID `gorm:"column:rule_id;type:uuid"`
	EventType  string     `gorm:"column:event_type"`
	Actor      string     `gorm:"column:actor"`
	Reason     string     `gorm:"column:reason"`
	OccurredAt time.Time  `gorm:"column:occurred_at"`
}

func (ApprovalEvent) TableName() string { return "approval_events" }

// Event type labels written to ApprovalEvent.EventType.
const (
	EventQueued       = "action_queued"
	EventAutoApproved = "action_auto_approved"
	EventApproved     = "action_approved"
	EventRejected     = "action_rejected"
	EventExpired      = "action_expired"
	EventExecuted     = "action_executed"
)

// AllModels is the set of tables this package owns, for AutoMigrate callers.
func AllModels() []any {
	return []any{&PendingAction{}, &ApprovalRule{}, &ApprovalEvent{}}
}
