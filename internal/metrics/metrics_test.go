package metrics

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRelayGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelay(reg)

	m.CallStarted()
	m.ParticipantJoined()
	m.ParticipantJoined()
	m.ParticipantLeft()

	require.Equal(t, float64(1), testutil.ToFloat64(m.promCallsCurrent))
	require.Equal(t, float64(1), testutil.ToFloat64(m.promParticipantsCurrent))

	m.CallEnded(time.Now().Add(-time.Minute))
	require.Equal(t, float64(0), testutil.ToFloat64(m.promCallsCurrent))
}

func TestRelaySignals(t *testing.T) {
	m := NewRelay(prometheus.NewRegistry())

	m.SignalForwarded("group-call-webrtc-offer", nil)
	m.SignalForwarded("group-call-webrtc-offer", errors.New("dropped"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.promSignals.WithLabelValues("group-call-webrtc-offer", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.promSignals.WithLabelValues("group-call-webrtc-offer", "dropped")))
}

func TestNilRelay(t *testing.T) {
	var m *Relay
	require.NotPanics(t, func() {
		m.CallStarted()
		m.CallEnded(time.Now())
		m.ParticipantJoined()
		m.SignalForwarded("x", nil)
	})
}
