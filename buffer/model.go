package buffer

import (
	"encoding/json"
	"time"
)

// routeInboxRow is the route_inbox row backing one durable queue entry.
type routeInboxRow struct {
	MessageInboxID     string          `gorm:"column:message_inbox_id;primaryKey"`
	RequestID          string          `gorm:"column:request_id"`
	ButlerName         string          `gorm:"column:butler_name"`
	MessageText        string          `gorm:"column:message_text"`
	Source             string          `gorm:"column:source"`
	Event              string          `gorm:"column:event"`
	Sender             string          `gorm:"column:sender"`
	EnqueuedAt         time.Time       `gorm:"column:enqueued_at"`
	LeaseOwner         *string         `gorm:"column:lease_owner"`
	LeaseExpiresAt     *time.Time      `gorm:"column:lease_expires_at"`
	NormalizedSnapshot json.RawMessage `gorm:"column:normalized_snapshot"`
	CompletedAt        *time.Time      `gorm:"column:completed_at"`
}

func (routeInboxRow) TableName() string { return "route_inbox" }

// Item is one unit of work flowing through the buffer, matching the
// enqueue(request_id, message_inbox_id, message_text, source, event, sender)
// contract exactly.
type Item struct {
	RequestID      string
	MessageInboxID string
	MessageText    string
	Source         string
	Event          string
	Sender         string
}

func (i Item) toRow(butlerName string, now time.Time) *routeInboxRow {
	return &routeInboxRow{
		MessageInboxID:     i.MessageInboxID,
		RequestID:          i.RequestID,
		ButlerName:         butlerName,
		MessageText:        i.MessageText,
		Source:             i.Source,
		Event:              i.Event,
		Sender:             i.Sender,
		EnqueuedAt:         now,
		NormalizedSnapshot: json.RawMessage(`{}`),
	}
}

func (r routeInboxRow) toItem() Item {
	return Item{
		RequestID:      r.RequestID,
		MessageInboxID: r.MessageInboxID,
		MessageText:    r.MessageText,
		Source:         r.Source,
		Event:          r.Event,
		Sender:         r.Sender,
	}
}
