package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for channel webhooks, outbound
// sends and booking attempts.
type Metrics struct {
	inboundTotal    *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	bookingAttempts *prometheus.CounterVec
	remindersTotal  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound channel webhooks",
		}, []string{"channel", "event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound channel messages",
		}, []string{"channel", "kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicbooking",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel", "event_type"}),
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Reminders processed by final status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency, m.bookingAttempts, m.remindersTotal)
	return m
}

func (m *Metrics) ObserveInbound(channel, eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, eventType, status).Inc()
}

func (m *Metrics) ObserveOutbound(channel, kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(channel, kind, status).Inc()
}

func (m *Metrics) ObserveWebhookLatency(channel, eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel, eventType).Observe(seconds)
}

// ObserveBooking counts one CreateAppointment outcome ("booked" or a rejection reason).
func (m *Metrics) ObserveBooking(channel, outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) ObserveReminder(status string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(status).Inc()
}
