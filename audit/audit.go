// Package audit appends entries to the central audit_log table owned by
// the switchboard database. Writers are handed the *gorm.DB to write
// through, and a nil handle makes a write a no-op. The daemon hands its own
// database to a switchboard butler's writers and a nil handle to every
// other butler's, so only the switchboard's own entries reach the table.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry is one row of audit_log.
type Entry struct {
	ID         int64           `gorm:"column:id;primaryKey"`
	ButlerName string          `gorm:"column:butler_name"`
	Kind       string          `gorm:"column:kind"`
	Payload    json.RawMessage `gorm:"column:payload"`
	Result     string          `gorm:"column:result"`
	Error      string          `gorm:"column:error"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (Entry) TableName() string { return "audit_log" }

// Option customizes a single WriteEntry call.
type Option func(*Entry)

// WithResult overrides the default result of "ok".
func WithResult(result string) Option {
	return func(e *Entry) { e.Result = result }
}

// WithError records an error string alongside the entry (typically paired
// with WithResult("error")).
func WithError(errText string) Option {
	return func(e *Entry) { e.Error = errText }
}

// WriteEntry appends one audit_log row. db may be nil (daemon not yet
// connected to a switchboard, or running standalone without audit wiring);
// in that case WriteEntry is a no-op. Any failure to write is logged at
// WARN and swallowed — an audit-log outage must never fail the operation
// it is describing.
func WriteEntry(ctx context.Context, db *gorm.DB, logger *zap.Logger, butlerName, kind string, payload any) {
	writeEntry(ctx, db, logger, butlerName, kind, payload)
}

// WriteEntryResult is WriteEntry with an explicit result/error, matching
// the source system's write_audit_entry(..., result="error", error=...)
// call shape.
func WriteEntryResult(ctx context.Context, db *gorm.DB, logger *zap.Logger, butlerName, kind string, payload any, opts ...Option) {
	writeEntry(ctx, db, logger, butlerName, kind, payload, opts...)
}

func writeEntry(ctx context.Context, db *gorm.DB, logger *zap.Logger, butlerName, kind string, payload any, opts ...Option) {
	if db == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		if logger != nil {
			logger.Warn("audit: failed to marshal payload", zap.String("kind", kind), zap.Error(err))
		}
		return
	}

	entry := &Entry{
		ButlerName: butlerName,
		Kind:       kind,
		Payload:    body,
		Result:     "ok",
	}
	for _, opt := range opts {
		opt(entry)
	}

	if err := db.WithContext(ctx).Create(entry).Error; err != nil {
		if logger != nil {
			logger.Warn("audit: failed to write entry", zap.String("kind", kind), zap.Error(err))
		}
	}
}
