package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const namespace = "yacall"

// Relay holds the relay's prometheus collectors. A nil *Relay is valid and
// records nothing.
type Relay struct {
	callsCurrent        atomic.Int32
	participantsCurrent atomic.Int32

	promCallsCurrent        prometheus.Gauge
	promParticipantsCurrent prometheus.Gauge
	promCallDuration        prometheus.Histogram
	promCallEvents          *prometheus.CounterVec
	promSignals             *prometheus.CounterVec
	promConnections         prometheus.Gauge
}

func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		promCallsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "total",
		}),
		promParticipantsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "total",
		}),
		promCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "duration_seconds",
			Buckets:   []float64{5, 10, 60, 5 * 60, 10 * 60, 30 * 60, 60 * 60, 2 * 60 * 60},
		}),
		promCallEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "events",
		}, []string{"event", "status"}),
		promSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "forwarded",
		}, []string{"event", "status"}),
		promConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
		}),
	}
	reg.MustRegister(
		m.promCallsCurrent,
		m.promParticipantsCurrent,
		m.promCallDuration,
		m.promCallEvents,
		m.promSignals,
		m.promConnections,
	)
	return m
}

func (m *Relay) CallStarted() {
	if m == nil {
		return
	}
	m.promCallsCurrent.Set(float64(m.callsCurrent.Inc()))
	m.promCallEvents.WithLabelValues("start", "success").Inc()
}

func (m *Relay) CallEnded(startedAt time.Time) {
	if m == nil {
		return
	}
	m.promCallsCurrent.Set(float64(m.callsCurrent.Dec()))
	if !startedAt.IsZero() {
		m.promCallDuration.Observe(time.Since(startedAt).Seconds())
	}
}

func (m *Relay) ParticipantJoined() {
	if m == nil {
		return
	}
	m.promParticipantsCurrent.Set(float64(m.participantsCurrent.Inc()))
	m.promCallEvents.WithLabelValues("join", "success").Inc()
}

func (m *Relay) ParticipantLeft() {
	if m == nil {
		return
	}
	m.promParticipantsCurrent.Set(float64(m.participantsCurrent.Dec()))
	m.promCallEvents.WithLabelValues("leave", "success").Inc()
}

// CallRejected counts a refused start/join/leave, labelled by error.
func (m *Relay) CallRejected(op string, err error) {
	if m == nil {
		return
	}
	m.promCallEvents.WithLabelValues(op, errorLabel(err)).Inc()
}

func (m *Relay) SignalForwarded(event string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = errorLabel(err)
	}
	m.promSignals.WithLabelValues(event, status).Inc()
}

func (m *Relay) ConnectionOpened() {
	if m == nil {
		return
	}
	m.promConnections.Inc()
}

func (m *Relay) ConnectionClosed() {
	if m == nil {
		return
	}
	m.promConnections.Dec()
}

func errorLabel(err error) string {
	if err == nil {
		return "success"
	}
	return err.Error()
}
