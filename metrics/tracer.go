// Package metrics provides a Prometheus tracer for NTS client sessions.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nts-go/nts-go/logging"
)

const metricNamespace = "ntsgo"

var (
	keyExchanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "key_exchanges_completed_total",
			Help:      "Completed NTS-KE exchanges",
		},
	)
	exchangesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "exchanges_completed_total",
			Help:      "Completed NTS sessions",
		},
	)
	exchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of a whole NTS session",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "received_packets_dropped_total",
			Help:      "NTP datagrams dropped during response validation",
		},
		[]string{"reason"},
	)
	retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "retransmissions_total",
			Help:      "NTP request retransmissions",
		},
	)
	requestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "requests_rejected_total",
			Help:      "Kiss-of-Death responses",
		},
		[]string{"kiss_code"},
	)
)

// NewTracer creates a new tracer using the default Prometheus registerer.
func NewTracer() *logging.Tracer {
	return NewTracerWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTracerWithRegisterer creates a new tracer using a given Prometheus
// registerer. Set the result on the Tracer field of nts.Config.
func NewTracerWithRegisterer(registerer prometheus.Registerer) *logging.Tracer {
	for _, c := range [...]prometheus.Collector{
		keyExchanges,
		exchangesCompleted,
		exchangeDuration,
		packetsDropped,
		retransmissions,
		requestsRejected,
	} {
		if err := registerer.Register(c); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if !errors.As(err, are) {
				panic(err)
			}
		}
	}

	var start time.Time
	return &logging.Tracer{
		StateChanged: func(state logging.State) {
			if state == logging.StateKeyExchangeInit {
				start = time.Now()
			}
		},
		KeyExchangeCompleted: func(string, uint16) {
			keyExchanges.Inc()
		},
		DroppedPacket: func(_ int, reason logging.PacketDropReason) {
			packetsDropped.WithLabelValues(reason.String()).Inc()
		},
		RetransmissionTimeout: func(time.Duration) {
			retransmissions.Inc()
		},
		RequestRejected: func(code logging.KissCode) {
			requestsRejected.WithLabelValues(code.String()).Inc()
		},
		Completed: func(time.Time) {
			exchangesCompleted.Inc()
			if !start.IsZero() {
				exchangeDuration.Observe(time.Since(start).Seconds())
			}
		},
	}
}
