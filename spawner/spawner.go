// Package spawner invokes ephemeral LLM runtime sessions for a single
// butler (§4.5). It owns that butler's concurrency slot pool, the session
// audit trail, and the wiring between an llmadapter.Adapter, the memory
// module (when enabled), and the daemon's audit log.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/audit"
	"github.com/Tzeusy/butlers-sub006/llmadapter"
)

const defaultMemoryContextTokenBudget = 3000

// ErrNotAccepting is returned by Trigger once StopAccepting has been called.
var ErrNotAccepting = errors.New("spawner: not accepting new triggers")

// Result is the outcome of one Trigger call.
type Result struct {
	Output       *string
	Success      bool
	ToolCalls    []llmadapter.ToolCall
	Error        string
	DurationMs   int
	Model        string
	SessionID    string
	InputTokens  *int
	OutputTokens *int
}

// MemoryHooks lets the memory module (when enabled) participate in a
// session without ever being able to fail it: both methods' errors are
// logged at WARN and otherwise ignored by the caller.
type MemoryHooks interface {
	FetchContext(ctx context.Context, butlerName, prompt string, tokenBudget int) (string, error)
	StoreEpisode(ctx context.Context, butlerName, output, sessionID string) error
}

// Config configures one butler's Spawner.
type Config struct {
	ButlerName            string
	ConfigDir             string
	Port                  int
	Model                 string
	MaxConcurrentSessions int
	EnvRequired           []string
	EnvOptional           []string
	ModuleCredentialsEnv  map[string][]string
	MemoryEnabled         bool
	MemoryContextBudget   int
}

// Spawner dispatches LLM sessions for one butler, bounded by a weighted
// semaphore sized to runtime.max_concurrent_sessions.
type Spawner struct {
	cfg     Config
	db      *gorm.DB // this butler's own DB, for the sessions table
	auditDB *gorm.DB // switchboard DB; nil is valid (audit becomes a no-op)
	adapter llmadapter.Adapter
	memory  MemoryHooks
	logger  *zap.Logger
	metrics *Metrics

	sem *semaphore.Weighted

	mu        sync.Mutex
	inFlight  map[int64]context.CancelFunc
	nextID    int64
	emptyCh   chan struct{}
	accepting bool
}

// New constructs a Spawner. db is this butler's own database (for session
// logging); auditDB is the switchboard's database (for the shared audit
// log) and may be nil. memory may be nil when the memory module is
// disabled for this butler.
func New(cfg Config, db, auditDB *gorm.DB, adapter llmadapter.Adapter, memory MemoryHooks, logger *zap.Logger, metrics *Metrics) *Spawner {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 1
	}
	if cfg.MemoryContextBudget <= 0 {
		cfg.MemoryContextBudget = defaultMemoryContextTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	emptyCh := make(chan struct{})
	close(emptyCh) // no sessions in flight at construction

	return &Spawner{
		cfg:       cfg,
		db:        db,
		auditDB:   auditDB,
		adapter:   adapter,
		memory:    memory,
		logger:    logger,
		metrics:   metrics,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions)),
		inFlight:  make(map[int64]context.CancelFunc),
		emptyCh:   emptyCh,
		accepting: true,
	}
}

// InFlightCount returns the number of sessions currently running.
func (s *Spawner) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// StopAccepting causes all subsequent Trigger calls to fail immediately.
// In-flight sessions are unaffected; call Drain afterward to wait for them.
func (s *Spawner) StopAccepting() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
	s.logger.Info("spawner stopped accepting new triggers", zap.String("butler", s.cfg.ButlerName))
}

// Drain waits up to timeout for in-flight sessions to finish, then cancels
// whatever remains.
func (s *Spawner) Drain(timeout time.Duration) {
	s.mu.Lock()
	n := len(s.inFlight)
	ch := s.emptyCh
	s.mu.Unlock()

	if n == 0 {
		s.logger.Info("no in-flight sessions to drain", zap.String("butler", s.cfg.ButlerName))
		return
	}

	s.logger.Info("draining in-flight sessions",
		zap.String("butler", s.cfg.ButlerName), zap.Int("count", n), zap.Duration("timeout", timeout))

	select {
	case <-ch:
		s.logger.Info("all in-flight sessions drained", zap.String("butler", s.cfg.ButlerName))
	case <-time.After(timeout):
		s.mu.Lock()
		remaining := len(s.inFlight)
		cancels := make([]context.CancelFunc, 0, remaining)
		for _, cancel := range s.inFlight {
			cancels = append(cancels, cancel)
		}
		s.mu.Unlock()

		s.logger.Warn("drain timeout; cancelling in-flight sessions",
			zap.String("butler", s.cfg.ButlerName), zap.Int("remaining", remaining))
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// TriggerSource values recognized by the self-trigger deadlock guard.
const TriggerSourceTrigger = "trigger"

// Trigger spawns an ephemeral runtime instance. requestID may be empty
// when this invocation did not originate from an ingested message; the
// session span is a child of whatever span ctx carries.
func (s *Spawner) Trigger(ctx context.Context, prompt, triggerSource string, contextPrefix string, maxTurns int, requestID string) (*Result, error) {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return nil, ErrNotAccepting
	}
	s.mu.Unlock()

	// Self-trigger deadlock guard: a trigger-sourced session calling the
	// trigger tool on itself must never block waiting for a slot that it
	// is itself occupying. TryAcquire is the non-blocking fast path; when
	// it fails, every slot is genuinely taken right now.
	if triggerSource == TriggerSourceTrigger {
		if !s.sem.TryAcquire(1) {
			msg := "runtime invocation rejected: trigger tool cannot be called while another session is in flight"
			s.logger.Warn(msg, zap.String("butler", s.cfg.ButlerName))
			return &Result{Success: false, Error: msg, Model: s.cfg.Model}, nil
		}
	} else {
		if s.metrics != nil {
			s.metrics.queuedTriggersInc()
		}
		err := s.sem.Acquire(ctx, 1)
		if s.metrics != nil {
			s.metrics.queuedTriggersDec()
		}
		if err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.activeSessionsInc()
	}
	defer func() {
		s.sem.Release(1)
		if s.metrics != nil {
			s.metrics.activeSessionsDec()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	taskID := s.registerInFlight(cancel)
	defer s.unregisterInFlight(taskID)

	return s.run(runCtx, prompt, triggerSource, contextPrefix, maxTurns, requestID)
}

func (s *Spawner) registerInFlight(cancel context.CancelFunc) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if len(s.inFlight) == 0 {
		s.emptyCh = make(chan struct{})
	}
	s.inFlight[id] = cancel
	return id
}

func (s *Spawner) unregisterInFlight(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
	if len(s.inFlight) == 0 {
		close(s.emptyCh)
	}
}

func (s *Spawner) run(ctx context.Context, prompt, triggerSource, contextPrefix string, maxTurns int, requestID string) (*Result, error) {
	finalPrompt := prompt
	if contextPrefix != "" {
		finalPrompt = contextPrefix + "\n\n" + prompt
	}

	model := s.cfg.Model

	tracer := otel.Tracer("butlers")
	spanCtx, span := tracer.Start(ctx, "butler.llm_session",
		trace.WithAttributes(
			attribute.String("butler.name", s.cfg.ButlerName),
			attribute.Int("prompt_length", len(finalPrompt)),
		),
	)
	defer span.End()

	t0 := time.Now()
	traceID := span.SpanContext().TraceID().String()

	sessionID, err := sessionCreate(spanCtx, s.db, s.cfg.ButlerName, finalPrompt, triggerSource, traceID, model, requestID)
	if err != nil {
		s.logger.Warn("failed to create session record", zap.Error(err))
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	systemPrompt, err := s.adapter.ParseSystemPromptFile(s.cfg.ConfigDir)
	if err != nil {
		s.logger.Warn("failed to read system prompt", zap.Error(err))
	}

	if s.cfg.MemoryEnabled && s.memory != nil {
		memCtx, err := s.memory.FetchContext(spanCtx, s.cfg.ButlerName, finalPrompt, s.cfg.MemoryContextBudget)
		if err != nil {
			s.logger.Warn("failed to fetch memory context", zap.String("butler", s.cfg.ButlerName), zap.Error(err))
		} else if memCtx != "" {
			systemPrompt = systemPrompt + "\n\n" + memCtx
		}
	}

	env := s.buildEnv(spanCtx)

	mcpServers := []llmadapter.MCPServer{
		{Name: s.cfg.ButlerName, URL: fmt.Sprintf("http://localhost:%d/sse", s.cfg.Port)},
	}

	invokeResult, invokeErr := s.adapter.Invoke(spanCtx, llmadapter.InvokeOptions{
		Prompt:       finalPrompt,
		SystemPrompt: systemPrompt,
		MCPServers:   mcpServers,
		Env:          env,
		MaxTurns:     maxTurns,
		Model:        model,
		WorkDir:      s.cfg.ConfigDir,
	})

	elapsed := time.Since(t0)
	durationMs := int(elapsed.Milliseconds())
	if s.metrics != nil {
		s.metrics.recordSessionDuration(elapsed)
	}

	if invokeErr != nil {
		errMsg := invokeErr.Error()
		s.logger.Error("runtime invocation failed", zap.String("butler", s.cfg.ButlerName), zap.Error(invokeErr))

		span.RecordError(invokeErr)
		span.SetStatus(codes.Error, errMsg)

		if err := sessionCompleteError(spanCtx, s.db, sessionID, errMsg, durationMs); err != nil {
			s.logger.Warn("failed to record failed session", zap.Error(err))
		}

		audit.WriteEntryResult(spanCtx, s.auditDB, s.logger, s.cfg.ButlerName, "session", map[string]any{
			"session_id":     sessionID,
			"trigger_source": triggerSource,
			"prompt":         truncate(finalPrompt, 200),
			"duration_ms":    durationMs,
		}, audit.WithResult("error"), audit.WithError(errMsg))

		return &Result{
			Success:    false,
			Error:      errMsg,
			DurationMs: durationMs,
			Model:      model,
			SessionID:  sessionID,
		}, nil
	}

	if err := sessionCompleteOK(spanCtx, s.db, sessionID, invokeResult, durationMs); err != nil {
		s.logger.Warn("failed to record completed session", zap.Error(err))
	}

	var inputTokens, outputTokens *int
	if invokeResult.Usage != nil {
		in, out := invokeResult.Usage.InputTokens, invokeResult.Usage.OutputTokens
		inputTokens, outputTokens = &in, &out
	}

	audit.WriteEntry(spanCtx, s.auditDB, s.logger, s.cfg.ButlerName, "session", map[string]any{
		"session_id":        sessionID,
		"trigger_source":    triggerSource,
		"prompt":            truncate(finalPrompt, 200),
		"duration_ms":       durationMs,
		"tool_calls_count":  len(invokeResult.ToolCalls),
		"model":             model,
		"input_tokens":      inputTokens,
		"output_tokens":     outputTokens,
	})

	result := &Result{
		Output:       invokeResult.ResultText,
		Success:      true,
		ToolCalls:    invokeResult.ToolCalls,
		DurationMs:   durationMs,
		Model:        model,
		SessionID:    sessionID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}

	if s.cfg.MemoryEnabled && s.memory != nil && result.Output != nil && *result.Output != "" {
		if err := s.memory.StoreEpisode(spanCtx, s.cfg.ButlerName, *result.Output, sessionID); err != nil {
			s.logger.Warn("failed to store session episode", zap.String("butler", s.cfg.ButlerName), zap.Error(err))
		}
	}

	return result, nil
}

// buildEnv assembles the subprocess env: always the model's API key when
// present, plus butler-declared env vars, plus every module's declared
// credential vars, plus traceparent for trace propagation. Only vars
// actually present in the process environment make it through; nothing
// undeclared ever leaks in.
func (s *Spawner) buildEnv(ctx context.Context) map[string]string {
	env := make(map[string]string)

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		env["ANTHROPIC_API_KEY"] = apiKey
	}

	for _, v := range append(append([]string{}, s.cfg.EnvRequired...), s.cfg.EnvOptional...) {
		if val, ok := os.LookupEnv(v); ok {
			env[v] = val
		}
	}

	for _, vars := range s.cfg.ModuleCredentialsEnv {
		for _, v := range vars {
			if val, ok := os.LookupEnv(v); ok {
				env[v] = val
			}
		}
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if traceparent, ok := carrier["traceparent"]; ok {
		env["traceparent"] = traceparent
	}

	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
