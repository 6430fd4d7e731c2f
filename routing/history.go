// Package routing implements the switchboard's routing pipeline (§4.9):
// conversation history assembly, routing-prompt construction, classifier
// dispatch, and route_to_butler tool-call parsing.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Direction is which way a historical message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one row of conversation history.
type Message struct {
	ID         string
	SenderID   string
	Content    string
	ReceivedAt time.Time
	Direction  Direction
}

// Strategy is how conversation history is assembled for one channel.
type Strategy string

const (
	StrategyRealtime Strategy = "realtime"
	StrategyEmail    Strategy = "email"
	StrategyNone     Strategy = "none"
)

var channelStrategies = map[string]Strategy{
	"telegram": StrategyRealtime,
	"whatsapp": StrategyRealtime,
	"slack":    StrategyRealtime,
	"discord":  StrategyRealtime,
	"email":    StrategyEmail,
	"api":      StrategyNone,
	"mcp":      StrategyNone,
}

// ResolveStrategy returns the history strategy for channel; unknown
// channels default to realtime.
func ResolveStrategy(channel string) Strategy {
	if s, ok := channelStrategies[strings.ToLower(channel)]; ok {
		return s
	}
	return StrategyRealtime
}

// HistoryConfig tunes the windowing and budget defaults (§4.9).
type HistoryConfig struct {
	MaxTimeWindow  time.Duration // realtime strategy; default 15m
	MaxMessageCount int          // realtime strategy; default 30
	MaxTokens      int           // both strategies; default 50000
}

func (c *HistoryConfig) applyDefaults() {
	if c.MaxTimeWindow <= 0 {
		c.MaxTimeWindow = 15 * time.Minute
	}
	if c.MaxMessageCount <= 0 {
		c.MaxMessageCount = 30
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 50000
	}
}

// messageInboxRow is the subset of message_inbox columns LoadConversationHistory
// reads; request_context carries channel/thread/sender/direction as JSON.
type messageInboxRow struct {
	ID             string          `gorm:"column:id"`
	ReceivedAt     time.Time       `gorm:"column:received_at"`
	RequestContext json.RawMessage `gorm:"column:request_context"`
	NormalizedText string          `gorm:"column:normalized_text"`
}

func (messageInboxRow) TableName() string { return "message_inbox" }

type requestContextFields struct {
	SourceSenderIdentity string `json:"source_sender_identity"`
	Direction            string `json:"direction"`
}

// LoadConversationHistory assembles this thread's history per §4.9. Returns
// "" (not an error) when there is no thread id, the strategy is none, or
// any lookup error occurs — history is best-effort context, never a hard
// dependency of routing.
func LoadConversationHistory(ctx context.Context, db *gorm.DB, channel, threadID string, observedAt time.Time, cfg HistoryConfig) string {
	if threadID == "" {
		return ""
	}
	strategy := ResolveStrategy(channel)
	if strategy == StrategyNone {
		return ""
	}
	cfg.applyDefaults()

	messages, err := loadMessages(ctx, db, channel, threadID, observedAt, strategy, cfg)
	if err != nil || len(messages) == 0 {
		return ""
	}
	return FormatHistory(messages)
}

func loadMessages(ctx context.Context, db *gorm.DB, channel, threadID string, observedAt time.Time, strategy Strategy, cfg HistoryConfig) ([]Message, error) {
	switch strategy {
	case StrategyRealtime:
		return loadRealtimeHistory(ctx, db, channel, threadID, observedAt, cfg)
	case StrategyEmail:
		return loadEmailHistory(ctx, db, channel, threadID, cfg)
	default:
		return nil, nil
	}
}

func loadRealtimeHistory(ctx context.Context, db *gorm.DB, channel, threadID string, observedAt time.Time, cfg HistoryConfig) ([]Message, error) {
	var byTime []messageInboxRow
	since := observedAt.Add(-cfg.MaxTimeWindow)
	err := db.WithContext(ctx).
		Where("request_context ->> 'source_channel' = ? AND request_context ->> 'source_thread_identity' = ? AND received_at > ? AND received_at <= ?",
			channel, threadID, since, observedAt).
		Order("received_at ASC").
		Find(&byTime).Error
	if err != nil {
		return nil, err
	}

	var byCount []messageInboxRow
	err = db.WithContext(ctx).
		Where("request_context ->> 'source_channel' = ? AND request_context ->> 'source_thread_identity' = ?", channel, threadID).
		Order("received_at DESC").
		Limit(cfg.MaxMessageCount).
		Find(&byCount).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]messageInboxRow)
	for _, r := range byTime {
		seen[r.ID] = r
	}
	for _, r := range byCount {
		seen[r.ID] = r
	}

	rows := make([]messageInboxRow, 0, len(seen))
	for _, r := range seen {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ReceivedAt.Before(rows[j].ReceivedAt) })

	messages := toMessages(rows)
	return trimToBudget(messages, cfg.MaxTokens), nil
}

func loadEmailHistory(ctx context.Context, db *gorm.DB, channel, threadID string, cfg HistoryConfig) ([]Message, error) {
	var rows []messageInboxRow
	err := db.WithContext(ctx).
		Where("request_context ->> 'source_channel' = ? AND request_context ->> 'source_thread_identity' = ?", channel, threadID).
		Order("received_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := toMessages(rows)
	return trimToBudget(messages, cfg.MaxTokens), nil
}

func toMessages(rows []messageInboxRow) []Message {
	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		var fields requestContextFields
		_ = json.Unmarshal(r.RequestContext, &fields)

		direction := Direction(fields.Direction)
		if direction != DirectionOutbound {
			direction = DirectionInbound
		}

		messages = append(messages, Message{
			ID:         r.ID,
			SenderID:   fields.SourceSenderIdentity,
			Content:    r.NormalizedText,
			ReceivedAt: r.ReceivedAt,
			Direction:  direction,
		})
	}
	return messages
}

// trimToBudget drops the oldest messages until the total fits within
// maxTokens, never dropping the newest message. Returns an empty slice if
// even the newest alone exceeds the budget.
func trimToBudget(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	total := 0
	counts := make([]int, len(messages))
	for i, m := range messages {
		n := countTokens(formatOne(m))
		counts[i] = n
		total += n
	}
	if total <= maxTokens {
		return messages
	}

	start := 0
	for start < len(messages)-1 && total > maxTokens {
		total -= counts[start]
		start++
	}
	if total > maxTokens {
		// Even the newest message alone exceeds the budget.
		return nil
	}
	return messages[start:]
}

// FormatHistory renders messages per §4.9's format.
func FormatHistory(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent Conversation History\n")
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		ts := m.ReceivedAt.UTC().Format(time.RFC3339)
		if m.Direction == DirectionOutbound {
			fmt.Fprintf(&b, "**butler → %s** (%s): %s", m.SenderID, ts, m.Content)
		} else {
			fmt.Fprintf(&b, "**%s** (%s): %s", m.SenderID, ts, m.Content)
		}
	}
	return b.String()
}

func formatOne(m Message) string {
	if m.Direction == DirectionOutbound {
		return fmt.Sprintf("**butler → %s**: %s", m.SenderID, m.Content)
	}
	return fmt.Sprintf("**%s**: %s", m.SenderID, m.Content)
}
