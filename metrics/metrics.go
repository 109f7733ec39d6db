package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// BridgeMetrics are the bridge's own counters. A nil *BridgeMetrics is valid
// and records nothing.
type BridgeMetrics struct {
	Envelopes        prometheus.Counter
	PairOutcomes     *prometheus.CounterVec // labels: status
	DecodedBlocks    *prometheus.CounterVec // labels: kind
	Commands         *prometheus.CounterVec // labels: action, result
	RestorePolls     *prometheus.CounterVec // labels: result
	BridgePolls      *prometheus.CounterVec // labels: result
	SuspendedDevices prometheus.Gauge
}

// NewBridgeMetrics registers and returns the bridge metrics.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Envelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_envelopes_total",
			Help: "Telemetry envelopes received.",
		}),
		PairOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_pair_outcomes_total",
			Help: "Request/response pairs by outcome.",
		}, []string{"status"}),
		DecodedBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_decoded_blocks_total",
			Help: "Decoded register blocks by kind.",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_commands_total",
			Help: "Control commands by action and result.",
		}, []string{"action", "result"}),
		RestorePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_restore_polls_total",
			Help: "Polling list re-publications after a command.",
		}, []string{"result"}),
		BridgePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_bridge_polls_total",
			Help: "Bridge-initiated poll publications.",
		}, []string{"result"}),
		SuspendedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_suspended_devices",
			Help: "Devices whose bridge-side polling is suspended.",
		}),
	}
	reg.MustRegister(m.Envelopes, m.PairOutcomes, m.DecodedBlocks, m.Commands,
		m.RestorePolls, m.BridgePolls, m.SuspendedDevices)
	return m
}

func (m *BridgeMetrics) ObserveEnvelope() {
	if m != nil {
		m.Envelopes.Inc()
	}
}

func (m *BridgeMetrics) ObservePair(status string) {
	if m != nil {
		m.PairOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *BridgeMetrics) ObserveBlock(kind string) {
	if m != nil {
		m.DecodedBlocks.WithLabelValues(kind).Inc()
	}
}

func (m *BridgeMetrics) ObserveCommand(action, result string) {
	if m != nil {
		m.Commands.WithLabelValues(action, result).Inc()
	}
}

func (m *BridgeMetrics) ObserveRestorePoll(result string) {
	if m != nil {
		m.RestorePolls.WithLabelValues(result).Inc()
	}
}

func (m *BridgeMetrics) ObserveBridgePoll(result string) {
	if m != nil {
		m.BridgePolls.WithLabelValues(result).Inc()
	}
}

func (m *BridgeMetrics) SetSuspended(n int) {
	if m != nil {
		m.SuspendedDevices.Set(float64(n))
	}
}
