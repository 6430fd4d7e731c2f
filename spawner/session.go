package spawner

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
	"github.com/Tzeusy/butlers-sub006/llmadapter"
)

// sessionRow is one row of the sessions table: a log of every LLM
// invocation this butler has made, before and after the runtime call.
type sessionRow struct {
	ID             string          `gorm:"column:id;primaryKey"`
	ButlerName     string          `gorm:"column:butler_name"`
	Prompt         string          `gorm:"column:prompt"`
	TriggerSource  string          `gorm:"column:trigger_source"`
	TraceID        string          `gorm:"column:trace_id"`
	Model          string          `gorm:"column:model"`
	RequestID      string          `gorm:"column:request_id"`
	Output         *string         `gorm:"column:output"`
	ToolCalls      json.RawMessage `gorm:"column:tool_calls"`
	Success        *bool           `gorm:"column:success"`
	Error          string          `gorm:"column:error"`
	DurationMs     *int            `gorm:"column:duration_ms"`
	InputTokens    *int            `gorm:"column:input_tokens"`
	OutputTokens   *int            `gorm:"column:output_tokens"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at"`
}

func (sessionRow) TableName() string { return "sessions" }

// sessionCreate inserts the pre-invocation session record and returns its
// id. db may be nil (no session DB wired), in which case a fresh id is
// still minted so the span/result has something to reference, but nothing
// is persisted.
func sessionCreate(ctx context.Context, db *gorm.DB, butlerName, prompt, triggerSource, traceID, model, requestID string) (string, error) {
	id := idgen.TimeOrdered().String()
	if db == nil {
		return id, nil
	}

	row := &sessionRow{
		ID:            id,
		ButlerName:    butlerName,
		Prompt:        prompt,
		TriggerSource: triggerSource,
		TraceID:       traceID,
		Model:         model,
		RequestID:     requestID,
		ToolCalls:     json.RawMessage("[]"),
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		return id, err
	}
	return id, nil
}

// sessionCompleteOK finalizes a successful session row.
func sessionCompleteOK(ctx context.Context, db *gorm.DB, sessionID string, result *llmadapter.InvokeResult, durationMs int) error {
	if db == nil {
		return nil
	}

	toolCalls, err := json.Marshal(result.ToolCalls)
	if err != nil {
		toolCalls = json.RawMessage("[]")
	}
	success := true
	now := time.Now().UTC()
	updates := map[string]any{
		"output":       result.ResultText,
		"tool_calls":   toolCalls,
		"duration_ms":  durationMs,
		"success":      success,
		"completed_at": now,
	}
	if result.Usage != nil {
		updates["input_tokens"] = result.Usage.InputTokens
		updates["output_tokens"] = result.Usage.OutputTokens
	}
	return db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID).Updates(updates).Error
}

// sessionCompleteError finalizes a failed session row.
func sessionCompleteError(ctx context.Context, db *gorm.DB, sessionID string, errText string, durationMs int) error {
	if db == nil {
		return nil
	}

	success := false
	now := time.Now().UTC()
	updates := map[string]any{
		"success":      success,
		"error":        errText,
		"duration_ms":  durationMs,
		"completed_at": now,
	}
	return db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID).Updates(updates).Error
}
