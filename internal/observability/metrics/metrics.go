package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatMetrics exposes counters/histograms for the chat and escalation
// flows.
type ChatMetrics struct {
	messagesTotal      *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	assistantLatency   prometheus.Histogram
	assistantFallbacks prometheus.Counter
	wsConnections      *prometheus.GaugeVec
	deliveryFailures   prometheus.Counter
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindhaven",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Total chat messages persisted",
		}, []string{"sender"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindhaven",
			Subsystem: "chat",
			Name:      "escalations_total",
			Help:      "Total escalations triggered",
		}, []string{"reason"}),
		assistantLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mindhaven",
			Subsystem: "assistant",
			Name:      "reply_latency_seconds",
			Help:      "Latency of assistant reply generation",
			Buckets:   prometheus.DefBuckets,
		}),
		assistantFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mindhaven",
			Subsystem: "assistant",
			Name:      "fallback_total",
			Help:      "Replies served by the canned fallback",
		}),
		wsConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mindhaven",
			Subsystem: "chat",
			Name:      "ws_connections",
			Help:      "Open websocket connections",
		}, []string{"role"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mindhaven",
			Subsystem: "chat",
			Name:      "delivery_failures_total",
			Help:      "Websocket writes that failed and disconnected the peer",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.messagesTotal, m.escalationsTotal, m.assistantLatency,
		m.assistantFallbacks, m.wsConnections, m.deliveryFailures,
	)
	return m
}

func (m *ChatMetrics) ObserveMessage(sender string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(sender).Inc()
}

func (m *ChatMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(reason).Inc()
}

func (m *ChatMetrics) ObserveAssistantLatency(seconds float64) {
	if m == nil {
		return
	}
	m.assistantLatency.Observe(seconds)
}

func (m *ChatMetrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.assistantFallbacks.Inc()
}

func (m *ChatMetrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(role).Inc()
}

func (m *ChatMetrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(role).Dec()
}

func (m *ChatMetrics) ObserveDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}
