package monitoring

import (
	"coachmeet/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionState prometheus.Gauge
	joinAttempts    prometheus.Counter
	joinFailures    prometheus.Counter
	joins           prometheus.Counter
	reconnects      prometheus.Counter
	joinDuration    prometheus.Histogram

	toggleFailures *prometheus.CounterVec
	bindRetries    *prometheus.CounterVec
	bindFailures   *prometheus.CounterVec

	chatSent     prometheus.Counter
	chatReceived *prometheus.CounterVec
	chatDeduped  *prometheus.CounterVec
	chatUnread   prometheus.Gauge

	participants prometheus.Gauge
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coachmeet_connection_state",
			Help: "Current connection state as an ordinal (0=idle, 4=failed)",
		}),

		joinAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coachmeet_join_attempts_total",
			Help: "Total number of SDK join attempts",
		}),

		joinFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coachmeet_join_failures_total",
			Help: "Total number of joins that exhausted retries",
		}),

		joins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coachmeet_joins_total",
			Help: "Total number of confirmed joins",
		}),

		reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coachmeet_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		}),

		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachmeet_join_duration_seconds",
			Help:    "Time from join request to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		toggleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmeet_toggle_failures_total",
			Help: "Capability toggle failures by media kind",
		}, []string{"kind"}),

		bindRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmeet_bind_retries_total",
			Help: "Track bind retries by media kind",
		}, []string{"kind"}),

		bindFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmeet_bind_failures_total",
			Help: "Track binds that exhausted retries, by media kind",
		}, []string{"kind"}),

		chatSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coachmeet_chat_sent_total",
			Help: "Total chat messages sent locally",
		}),

		chatReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmeet_chat_received_total",
			Help: "Accepted inbound chat messages by delivery channel",
		}, []string{"channel"}),

		chatDeduped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmeet_chat_deduped_total",
			Help: "Inbound chat messages dropped as duplicates, by channel",
		}, []string{"channel"}),

		chatUnread: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coachmeet_chat_unread",
			Help: "Unread chat messages while the panel is hidden",
		}),

		participants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coachmeet_participants",
			Help: "Participants currently in the meeting",
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionState(state domain.ConnectionState) {
	p.connectionState.Set(float64(state))
}

func (p *PrometheusCollector) RecordJoinAttempt() {
	p.joinAttempts.Inc()
}

func (p *PrometheusCollector) RecordJoined(seconds float64) {
	p.joins.Inc()
	p.joinDuration.Observe(seconds)
}

func (p *PrometheusCollector) RecordJoinFailed() {
	p.joinFailures.Inc()
}

func (p *PrometheusCollector) RecordReconnect() {
	p.reconnects.Inc()
}

func (p *PrometheusCollector) RecordToggleFailure(kind domain.MediaKind) {
	p.toggleFailures.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordBindRetry(kind domain.MediaKind) {
	p.bindRetries.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordBindFailure(kind domain.MediaKind) {
	p.bindFailures.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordChatSent() {
	p.chatSent.Inc()
}

func (p *PrometheusCollector) RecordChatReceived(channel string) {
	p.chatReceived.WithLabelValues(channel).Inc()
}

func (p *PrometheusCollector) RecordChatDeduped(channel string) {
	p.chatDeduped.WithLabelValues(channel).Inc()
}

func (p *PrometheusCollector) RecordUnread(n int) {
	p.chatUnread.Set(float64(n))
}

func (p *PrometheusCollector) RecordParticipantCount(n int) {
	p.participants.Set(float64(n))
}
