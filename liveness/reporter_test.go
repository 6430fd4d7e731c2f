package liveness

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	path string
	body map[string]any
}

type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	failN    int // first failN requests return 503
	seen     int
}

func newCaptureServer(failN int) (*httptest.Server, *captureServer) {
	cs := &captureServer{failN: failN}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)

		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{path: req.URL.Path, body: body})
		idx := cs.seen
		cs.seen++
		cs.mu.Unlock()

		if idx < cs.failN {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "eligibility_state": "active"})
	}))
	return srv, cs
}

func (cs *captureServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.requests)
}

func (cs *captureServer) first() capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests[0]
}

func TestConfig_ValidateRejectsNonPositiveInterval(t *testing.T) {
	assert.Error(t, Config{ButlerName: "b", SwitchboardURL: "http://x", IntervalSeconds: 0}.Validate())
	assert.Error(t, Config{ButlerName: "b", SwitchboardURL: "http://x", IntervalSeconds: -10}.Validate())
	assert.NoError(t, Config{ButlerName: "b", SwitchboardURL: "http://x", IntervalSeconds: 120}.Validate())
}

func TestReporter_SendsInitialHeartbeatPromptly(t *testing.T) {
	srv, cs := newCaptureServer(0)
	defer srv.Close()

	r := New(Config{ButlerName: "my-butler", SwitchboardURL: srv.URL, IntervalSeconds: 1}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return cs.count() >= 1 }, 5*time.Second, 10*time.Millisecond)

	first := cs.first()
	assert.Equal(t, "/api/switchboard/heartbeat", first.path)
	assert.Equal(t, "my-butler", first.body["butler_name"])
}

func TestReporter_SendsPeriodically(t *testing.T) {
	srv, cs := newCaptureServer(0)
	defer srv.Close()

	r := New(Config{ButlerName: "my-butler", SwitchboardURL: srv.URL, IntervalSeconds: 1}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return cs.count() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestReporter_ConnectionFailuresDoNotStopLoop(t *testing.T) {
	srv, cs := newCaptureServer(2)
	defer srv.Close()

	r := New(Config{ButlerName: "my-butler", SwitchboardURL: srv.URL, IntervalSeconds: 1}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return cs.count() >= 3 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, r.Running())
}

func TestReporter_UsesConfiguredSwitchboardURL(t *testing.T) {
	srv, cs := newCaptureServer(0)
	defer srv.Close()

	r := New(Config{ButlerName: "b", SwitchboardURL: srv.URL, IntervalSeconds: 1}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return cs.count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/api/switchboard/heartbeat", cs.first().path)
}

func TestReporter_StopCancelsLoopCleanly(t *testing.T) {
	srv, _ := newCaptureServer(0)
	defer srv.Close()

	r := New(Config{ButlerName: "b", SwitchboardURL: srv.URL, IntervalSeconds: 120}, nil, zap.NewNop())
	r.Start()
	assert.True(t, r.Running())

	r.Stop()
	assert.False(t, r.Running())
}

func TestReporter_StartIsIdempotent(t *testing.T) {
	srv, _ := newCaptureServer(0)
	defer srv.Close()

	r := New(Config{ButlerName: "b", SwitchboardURL: srv.URL, IntervalSeconds: 120}, nil, zap.NewNop())
	r.Start()
	r.Start()
	assert.True(t, r.Running())
	r.Stop()
}
