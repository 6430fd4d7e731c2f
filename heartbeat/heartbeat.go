package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MCPCaller is the subset of an MCP client a heartbeat needs to deliver its
// envelope. Kept minimal so this package never depends on a concrete
// transport.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, envelope map[string]any) (any, error)
}

const toolName = "connector.heartbeat"

// ConnectorHeartbeat periodically reports liveness, health, and counters to
// the switchboard's connector.heartbeat MCP tool (§4.10). Used both by
// external connector runtimes and, in simplified form, by butlers reporting
// their own module health.
type ConnectorHeartbeat struct {
	cfg             Config
	mcpClient       MCPCaller
	gatherer        prometheus.Gatherer
	logger          *zap.Logger
	getHealthState  HealthStateFunc
	getCheckpoint   GetCheckpointFunc
	getCapabilities GetCapabilitiesFunc

	instanceID uuid.UUID
	startedAt  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures optional callbacks on a ConnectorHeartbeat.
type Option func(*ConnectorHeartbeat)

// WithCheckpoint registers a callback reporting the connector's durable
// cursor. Omitted entirely from the envelope when not set.
func WithCheckpoint(fn GetCheckpointFunc) Option {
	return func(h *ConnectorHeartbeat) { h.getCheckpoint = fn }
}

// WithCapabilities registers a callback reporting optional connector
// capabilities. Omitted from the envelope when not set or when it returns
// an empty map.
func WithCapabilities(fn GetCapabilitiesFunc) Option {
	return func(h *ConnectorHeartbeat) { h.getCapabilities = fn }
}

// New constructs a ConnectorHeartbeat. gatherer is typically a
// *prometheus.Registry scoped to this process; getHealthState is required.
func New(cfg Config, mcpClient MCPCaller, gatherer prometheus.Gatherer, logger *zap.Logger, getHealthState HealthStateFunc, opts ...Option) *ConnectorHeartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &ConnectorHeartbeat{
		cfg:            cfg,
		mcpClient:      mcpClient,
		gatherer:       gatherer,
		logger:         logger,
		getHealthState: getHealthState,
		instanceID:     uuid.New(),
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InstanceID is the stable identifier generated once at construction and
// reused for every envelope this instance sends.
func (h *ConnectorHeartbeat) InstanceID() uuid.UUID {
	return h.instanceID
}

// Start launches the background reporting loop. No-op when the config
// disables the heartbeat. Safe to call once; a second call while already
// running is a no-op.
func (h *ConnectorHeartbeat) Start() {
	if !h.cfg.Enabled {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.run(ctx, h.done)
}

// Stop cancels the loop and waits for it to exit. Safe to call when Start
// was never called or the heartbeat was disabled.
func (h *ConnectorHeartbeat) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is currently active.
func (h *ConnectorHeartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *ConnectorHeartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(h.cfg.IntervalS) * time.Second
	if interval <= 0 {
		interval = DefaultIntervalS * time.Second
	}
	initialDelay := interval
	if initialDelay > 5*time.Second {
		initialDelay = 5 * time.Second
	}

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			h.send(ctx)
			timer.Reset(interval)
		}
	}
}

func (h *ConnectorHeartbeat) send(ctx context.Context) {
	envelope := h.buildEnvelope()
	if _, err := h.mcpClient.CallTool(ctx, toolName, envelope); err != nil {
		h.logger.Warn("failed to send connector heartbeat",
			zap.String("connector_type", h.cfg.ConnectorType),
			zap.String("endpoint_identity", h.cfg.EndpointIdentity),
			zap.Error(err))
	}
}
