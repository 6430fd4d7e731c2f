package routing

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/llmadapter"
)

// DispatchFunc invokes the routing classifier (typically a spawner.Trigger
// bound to the switchboard's "router" butler) with the assembled prompt and
// returns the tool calls it made.
type DispatchFunc func(ctx context.Context, prompt string) ([]llmadapter.ToolCall, error)

const routeToButlerTool = "route_to_butler"

// RouteInput describes one message to route.
type RouteInput struct {
	// DedupeScope is the ingress_dedupe.butler_name column value; callers
	// typically pass a fixed scope like "switchboard".
	DedupeScope string
	DedupeKey   string
	Channel     string
	ThreadID    string
	SenderID    string
	ObservedAt  time.Time
	MessageText string
}

// RoutingResult is the outcome of one Route call.
type RoutingResult struct {
	TargetButler string
	// RouteResult is "routed" when the classifier made an explicit
	// route_to_butler call, "fallback" when it did not, or "skipped" when
	// the message was already processed (ingress dedupe hit).
	RouteResult string
	Skipped     bool
}

// Route implements the routing pipeline (§4.9) end to end: dedupe check,
// history load, prompt assembly, classifier dispatch, and fallback.
func Route(ctx context.Context, db *gorm.DB, metrics *Metrics, logger *zap.Logger, input RouteInput,
	butlers []ButlerDescriptor, historyCfg HistoryConfig, dispatch DispatchFunc, fallbackButler string) (*RoutingResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallbackButler == "" {
		fallbackButler = "general"
	}

	t0 := time.Now()

	dup, err := alreadyProcessed(ctx, db, input.DedupeScope, input.DedupeKey)
	if err != nil {
		return nil, err
	}
	if dup {
		return &RoutingResult{RouteResult: "skipped", Skipped: true}, nil
	}

	history := LoadConversationHistory(ctx, db, input.Channel, input.ThreadID, input.ObservedAt, historyCfg)
	prompt := BuildRoutingPrompt(butlers, history, input.MessageText)

	metrics.observeAccept(float64(time.Since(t0).Milliseconds()))

	toolCalls, dispatchErr := dispatch(ctx, prompt)
	if dispatchErr != nil {
		logger.Warn("routing classifier dispatch failed; falling back", zap.Error(dispatchErr))
		toolCalls = nil
	}

	target, routed := lastRouteToButler(toolCalls)
	result := &RoutingResult{RouteResult: "routed", TargetButler: target}
	if !routed {
		result.TargetButler = fallbackButler
		result.RouteResult = "fallback"
	}

	if err := recordProcessed(ctx, db, input.DedupeScope, input.DedupeKey); err != nil {
		logger.Warn("failed to record ingress dedupe entry", zap.Error(err))
	}

	metrics.observeProcess(float64(time.Since(t0).Milliseconds()))

	return result, nil
}

// lastRouteToButler returns the butler named by the last successful
// route_to_butler tool call, if any.
func lastRouteToButler(toolCalls []llmadapter.ToolCall) (string, bool) {
	for i := len(toolCalls) - 1; i >= 0; i-- {
		call := toolCalls[i]
		if call.Name != routeToButlerTool {
			continue
		}
		butler, ok := call.Input["butler"].(string)
		if !ok || butler == "" {
			continue
		}
		return butler, true
	}
	return "", false
}
