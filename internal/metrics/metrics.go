package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for inbound webhook deliveries.
const (
	InboundMatched   = "matched"
	InboundNoMatch   = "no_match"
	InboundInvalid   = "invalid"
	InboundDuplicate = "duplicate"
	InboundOutbound  = "outbound"
	InboundError     = "error"
)

// Outbound message kinds.
const (
	KindAddressRequest = "address_request"
	KindThankYou       = "thank_you"
)

// PostcardMetrics exposes counters/histograms for the address-collection flow.
type PostcardMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	webhookLatency prometheus.Histogram
	sweepTotal     *prometheus.CounterVec
}

func NewPostcardMetrics(reg prometheus.Registerer) *PostcardMetrics {
	m := &PostcardMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postcard",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Sendblue webhooks by outcome",
		}, []string{"outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postcard",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound Sendblue sends",
		}, []string{"kind", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postcard",
			Subsystem: "workflow",
			Name:      "status_transitions_total",
			Help:      "Postcard status transitions written by the workflow",
		}, []string{"to"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "postcard",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postcard",
			Subsystem: "sweeper",
			Name:      "requests_total",
			Help:      "Address requests re-sent by the pending sweeper",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.transitions, m.webhookLatency, m.sweepTotal)
	return m
}

func (m *PostcardMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

// ObserveOutbound records one send attempt result; status is "sent" or the
// gateway error kind.
func (m *PostcardMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *PostcardMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *PostcardMetrics) ObserveWebhookLatency(seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(seconds)
}

func (m *PostcardMetrics) ObserveSweep(requested, failed int) {
	if m == nil {
		return
	}
	m.sweepTotal.WithLabelValues("requested").Add(float64(requested))
	m.sweepTotal.WithLabelValues("failed").Add(float64(failed))
}
