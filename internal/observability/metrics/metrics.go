package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the intake and flush
// pipeline. A nil receiver is safe everywhere, so components can treat
// metrics as optional wiring.
type PipelineMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	flushTotal     *prometheus.CounterVec
	ordersTotal    *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echopost",
			Subsystem: "pipeline",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Chatwoot webhooks",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echopost",
			Subsystem: "pipeline",
			Name:      "outbound_total",
			Help:      "Total outbound send decisions by the policy gate",
		}, []string{"kind", "allowed"}),
		flushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echopost",
			Subsystem: "pipeline",
			Name:      "buffer_flush_total",
			Help:      "Total buffer flushes by resolved intent",
		}, []string{"intent", "reason"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echopost",
			Subsystem: "pipeline",
			Name:      "orders_total",
			Help:      "Total order dispatch outcomes",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "echopost",
			Subsystem: "pipeline",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Chatwoot webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.flushTotal, m.ordersTotal, m.webhookLatency)
	return m
}

func (m *PipelineMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *PipelineMetrics) ObserveOutbound(kind string, allowed bool) {
	if m == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	m.outboundTotal.WithLabelValues(kind, label).Inc()
}

func (m *PipelineMetrics) ObserveFlush(intent, reason string) {
	if m == nil {
		return
	}
	m.flushTotal.WithLabelValues(intent, reason).Inc()
}

func (m *PipelineMetrics) ObserveOrder(status string) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}
