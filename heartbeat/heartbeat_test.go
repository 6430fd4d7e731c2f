package heartbeat

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMCPClient struct {
	mu        sync.Mutex
	calls     []map[string]any
	err       error
	toolNames []string
}

func (f *fakeMCPClient) CallTool(ctx context.Context, name string, envelope map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolNames = append(f.toolNames, name)
	f.calls = append(f.calls, envelope)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "accepted"}, nil
}

func (f *fakeMCPClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeMCPClient) firstEnvelope() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[0]
}

func healthy() (string, string) { return "healthy", "" }

func TestFromEnv_Defaults(t *testing.T) {
	os.Unsetenv(envIntervalS)
	os.Unsetenv(envEnabled)

	cfg := FromEnv("test_connector", "test@example.com", "")
	assert.Equal(t, "test_connector", cfg.ConnectorType)
	assert.Equal(t, "test@example.com", cfg.EndpointIdentity)
	assert.Equal(t, "", cfg.Version)
	assert.Equal(t, DefaultIntervalS, cfg.IntervalS)
	assert.True(t, cfg.Enabled)
}

func TestFromEnv_CustomInterval(t *testing.T) {
	t.Setenv(envIntervalS, "60")
	cfg := FromEnv("test_connector", "test@example.com", "")
	assert.Equal(t, 60, cfg.IntervalS)
}

func TestFromEnv_DisabledValues(t *testing.T) {
	for _, v := range []string{"false", "0", "no", "off", "False"} {
		t.Setenv(envEnabled, v)
		cfg := FromEnv("test_connector", "test@example.com", "")
		assert.False(t, cfg.Enabled, "value %q should disable heartbeat", v)
	}
}

func TestFromEnv_IntervalBoundedToMin(t *testing.T) {
	t.Setenv(envIntervalS, "10")
	cfg := FromEnv("test_connector", "test@example.com", "")
	assert.Equal(t, MinIntervalS, cfg.IntervalS)
}

func TestFromEnv_IntervalBoundedToMax(t *testing.T) {
	t.Setenv(envIntervalS, "1000")
	cfg := FromEnv("test_connector", "test@example.com", "")
	assert.Equal(t, MaxIntervalS, cfg.IntervalS)
}

func TestFromEnv_WithVersion(t *testing.T) {
	cfg := FromEnv("test_connector", "test@example.com", "1.2.3")
	assert.Equal(t, "1.2.3", cfg.Version)
}

func testConfig() Config {
	return Config{
		ConnectorType:    "test_connector",
		EndpointIdentity: "test@example.com",
		IntervalS:        1,
		Enabled:          true,
	}
}

func TestInstanceID_StableAcrossCalls(t *testing.T) {
	h := New(testConfig(), &fakeMCPClient{}, prometheus.NewRegistry(), zap.NewNop(), healthy)
	assert.Equal(t, h.InstanceID(), h.InstanceID())
}

func TestInstanceID_DifferentPerInstance(t *testing.T) {
	h1 := New(testConfig(), &fakeMCPClient{}, prometheus.NewRegistry(), zap.NewNop(), healthy)
	h2 := New(testConfig(), &fakeMCPClient{}, prometheus.NewRegistry(), zap.NewNop(), healthy)
	assert.NotEqual(t, h1.InstanceID(), h2.InstanceID())
}

func TestStart_WhenDisabled_NeverRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	h := New(cfg, &fakeMCPClient{}, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	assert.False(t, h.Running())
}

func TestHeartbeat_SendsPeriodically(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 2 }, 5*time.Second, 10*time.Millisecond)

	for _, name := range client.toolNames {
		assert.Equal(t, toolName, name)
	}
	envelope := client.firstEnvelope()
	assert.Equal(t, SchemaVersion, envelope["schema_version"])
	connector := envelope["connector"].(map[string]any)
	assert.Equal(t, "test_connector", connector["connector_type"])
	assert.Equal(t, "test@example.com", connector["endpoint_identity"])
	assert.Contains(t, connector, "instance_id")
	status := envelope["status"].(map[string]any)
	assert.Equal(t, "healthy", status["state"])
}

func TestHeartbeat_EnvelopeStructure(t *testing.T) {
	client := &fakeMCPClient{}
	savedAt := time.Now().UTC()
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy,
		WithCheckpoint(func() (string, time.Time) { return "checkpoint-cursor", savedAt }))

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)

	envelope := client.firstEnvelope()
	status := envelope["status"].(map[string]any)
	assert.Contains(t, []string{"healthy", "degraded", "error"}, status["state"])
	assert.IsType(t, int(0), status["uptime_s"])

	counters := envelope["counters"].(map[string]any)
	for _, key := range []string{"messages_ingested", "messages_failed", "source_api_calls", "checkpoint_saves", "dedupe_accepted"} {
		assert.Contains(t, counters, key)
	}

	checkpoint := envelope["checkpoint"].(map[string]any)
	assert.Equal(t, "checkpoint-cursor", checkpoint["cursor"])
	assert.Contains(t, envelope, "sent_at")
}

func TestHeartbeat_IncludesHealthState(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(),
		func() (string, string) { return "error", "Source API unreachable" })

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)

	status := client.firstEnvelope()["status"].(map[string]any)
	assert.Equal(t, "error", status["state"])
	assert.Equal(t, "Source API unreachable", status["error_message"])
}

func TestHeartbeat_GracefulShutdown(t *testing.T) {
	h := New(testConfig(), &fakeMCPClient{}, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	assert.True(t, h.Running())

	h.Stop()
	assert.False(t, h.Running())
}

func TestHeartbeat_FailureDoesNotStopLoop(t *testing.T) {
	client := &fakeMCPClient{err: assertError("mcp error")}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.Running())
}

func TestHeartbeat_WithoutCheckpoint(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, client.firstEnvelope(), "checkpoint")
}

func TestCollectCounters_FromPrometheusRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricIngestSubmissions}, []string{"connector_type", "endpoint_identity", "status"})
	apiCalls := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricSourceAPICalls}, []string{"connector_type", "endpoint_identity", "status"})
	checkpoints := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricCheckpointSaves}, []string{"connector_type", "endpoint_identity", "status"})
	reg.MustRegister(ingest, apiCalls, checkpoints)

	ingest.WithLabelValues("test_connector", "test@example.com", "success").Add(42)
	ingest.WithLabelValues("test_connector", "test@example.com", "error").Add(3)
	ingest.WithLabelValues("test_connector", "test@example.com", "duplicate").Add(5)
	apiCalls.WithLabelValues("test_connector", "test@example.com", "success").Add(100)
	checkpoints.WithLabelValues("test_connector", "test@example.com", "success").Add(10)

	client := &fakeMCPClient{}
	h := New(testConfig(), client, reg, zap.NewNop(), healthy)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)

	counters := client.firstEnvelope()["counters"].(map[string]any)
	assert.Equal(t, 42, counters["messages_ingested"])
	assert.Equal(t, 3, counters["messages_failed"])
	assert.Equal(t, 5, counters["dedupe_accepted"])
	assert.Equal(t, 100, counters["source_api_calls"])
	assert.Equal(t, 10, counters["checkpoint_saves"])
}

func TestHeartbeat_IncludesCapabilitiesWhenProvided(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy,
		WithCapabilities(func() map[string]any { return map[string]any{"backfill": true} }))

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]any{"backfill": true}, client.firstEnvelope()["capabilities"])
}

func TestHeartbeat_OmitsCapabilitiesWhenNotProvided(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, client.firstEnvelope(), "capabilities")
}

func TestHeartbeat_OmitsCapabilitiesWhenEmptyMapReturned(t *testing.T) {
	client := &fakeMCPClient{}
	h := New(testConfig(), client, prometheus.NewRegistry(), zap.NewNop(), healthy,
		WithCapabilities(func() map[string]any { return map[string]any{} }))

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, client.firstEnvelope(), "capabilities")
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
