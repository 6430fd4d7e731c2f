package heartbeat

import (
	"time"

	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// SchemaVersion is the wire schema tag carried by every heartbeat envelope.
const SchemaVersion = "connector.heartbeat.v1"

// Metric names scraped from the local registry to populate the counters
// section. Any producer (connector or butler) that wants its activity
// reflected in heartbeats registers counters under these names, labeled
// with connector_type, endpoint_identity, and status.
const (
	metricIngestSubmissions = "connector_ingest_submissions_total"
	metricSourceAPICalls    = "connector_source_api_calls_total"
	metricCheckpointSaves   = "connector_checkpoint_saves_total"
)

// HealthStateFunc reports the current health state ("healthy", "degraded",
// "error") and, for non-healthy states, a human-readable error message.
type HealthStateFunc func() (state, errorMessage string)

// GetCheckpointFunc reports the connector's current durable cursor, or
// returns an empty cursor when no checkpoint exists yet.
type GetCheckpointFunc func() (cursor string, savedAt time.Time)

// GetCapabilitiesFunc reports optional connector capabilities; a nil or
// empty return omits the capabilities key from the envelope entirely.
type GetCapabilitiesFunc func() map[string]any

func (h *ConnectorHeartbeat) buildEnvelope() map[string]any {
	state, errMsg := h.getHealthState()

	status := map[string]any{
		"state":     state,
		"uptime_s":  int(time.Since(h.startedAt).Seconds()),
	}
	if errMsg != "" {
		status["error_message"] = errMsg
	}

	connector := map[string]any{
		"connector_type":    h.cfg.ConnectorType,
		"endpoint_identity": h.cfg.EndpointIdentity,
		"instance_id":       h.instanceID.String(),
	}
	if h.cfg.Version != "" {
		connector["version"] = h.cfg.Version
	}

	envelope := map[string]any{
		"schema_version": SchemaVersion,
		"connector":      connector,
		"status":         status,
		"counters":       h.collectCounters(),
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	}

	if h.getCheckpoint != nil {
		cursor, savedAt := h.getCheckpoint()
		envelope["checkpoint"] = map[string]any{
			"cursor":   cursor,
			"saved_at": savedAt.UTC().Format(time.RFC3339),
		}
	}

	if h.getCapabilities != nil {
		if caps := h.getCapabilities(); len(caps) > 0 {
			envelope["capabilities"] = caps
		}
	}

	return envelope
}

func (h *ConnectorHeartbeat) collectCounters() map[string]any {
	families, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Warn("failed to gather metrics for heartbeat", zap.Error(err))
		families = nil
	}

	return map[string]any{
		"messages_ingested": h.sumCounter(families, metricIngestSubmissions, "success"),
		"messages_failed":   h.sumCounter(families, metricIngestSubmissions, "error"),
		"dedupe_accepted":   h.sumCounter(families, metricIngestSubmissions, "duplicate"),
		"source_api_calls":  h.sumCounter(families, metricSourceAPICalls, ""),
		"checkpoint_saves":  h.sumCounter(families, metricCheckpointSaves, "success"),
	}
}

// sumCounter sums the values of every sample of metricName whose labels
// match this connector's type/endpoint identity and, when statusFilter is
// non-empty, whose status label equals it.
func (h *ConnectorHeartbeat) sumCounter(families []*dto.MetricFamily, metricName, statusFilter string) int {
	var total float64
	for _, mf := range families {
		if mf.GetName() != metricName {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := labelMap(m.GetLabel())
			if labels["connector_type"] != h.cfg.ConnectorType {
				continue
			}
			if labels["endpoint_identity"] != h.cfg.EndpointIdentity {
				continue
			}
			if statusFilter != "" && labels["status"] != statusFilter {
				continue
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
	}
	return int(total)
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.GetName()] = p.GetValue()
	}
	return out
}
