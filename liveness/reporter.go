// Package liveness implements the butler → switchboard heartbeat loop
// (§4.11): every non-switchboard butler daemon posts its name to the
// switchboard periodically so the switchboard can track fleet eligibility.
package liveness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tzeusy/butlers-sub006/internal/tlsutil"
)

// DefaultIntervalSeconds is used when a butler.toml omits
// [butler.scheduler].heartbeat_interval_seconds.
const DefaultIntervalSeconds = 120

const requestTimeout = 10 * time.Second

// Config configures one Reporter.
type Config struct {
	ButlerName      string
	SwitchboardURL  string
	IntervalSeconds int
}

// Validate rejects a non-positive interval, matching the butler.toml loader's
// rejection of heartbeat_interval_seconds <= 0.
func (c Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("liveness: heartbeat_interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	return nil
}

// Reporter periodically POSTs {butler_name} to the switchboard's
// /api/switchboard/heartbeat endpoint.
type Reporter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reporter. A nil client defaults to
// tlsutil.SecureHTTPClient(requestTimeout).
func New(cfg Config, client *http.Client, logger *zap.Logger) *Reporter {
	if client == nil {
		client = tlsutil.SecureHTTPClient(requestTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{cfg: cfg, client: client, logger: logger}
}

// Start launches the background reporting loop. Safe to call once; a
// second call while already running is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
}

// Stop cancels the loop and waits for it to exit. Safe to call when Start
// was never called.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is currently active.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(r.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = DefaultIntervalSeconds * time.Second
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
			r.send(ctx)
			timer.Reset(interval)
		}
	}
}

func (r *Reporter) send(ctx context.Context) {
	body, err := json.Marshal(map[string]any{"butler_name": r.cfg.ButlerName})
	if err != nil {
		r.logger.Warn("failed to encode liveness heartbeat body", zap.Error(err))
		return
	}

	url := r.cfg.SwitchboardURL + "/api/switchboard/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("failed to build liveness heartbeat request", zap.String("butler", r.cfg.ButlerName), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("liveness heartbeat failed",
			zap.String("butler", r.cfg.ButlerName), zap.String("switchboard_url", r.cfg.SwitchboardURL), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("liveness heartbeat rejected",
			zap.String("butler", r.cfg.ButlerName), zap.Int("status_code", resp.StatusCode))
	}
}
