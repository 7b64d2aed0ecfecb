package pion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type candidateQueue struct {
	mu      sync.Mutex
	target  port.PeerConnection
	pending []webrtc.ICECandidateInit
}

func (q *candidateQueue) add(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.target == nil {
		q.pending = append(q.pending, c)
		return
	}
	_ = q.target.AddICECandidate(c)
}

func (q *candidateQueue) flush(target port.PeerConnection) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.target = target
	for _, c := range q.pending {
		_ = target.AddICECandidate(c)
	}
	q.pending = nil
}

func TestPeersNegotiateAndReceiveAudio(t *testing.T) {
	factory, err := NewPeerFactory(FactoryOptions{})
	require.NoError(t, err)

	stream, err := NewSyntheticDevice().GetUserMedia(context.Background(), port.MediaConstraints{Audio: true})
	require.NoError(t, err)
	defer stopAll(stream.Tracks())

	toAnswerer, toOfferer := &candidateQueue{}, &candidateQueue{}
	var tracks atomic.Int32
	var connected atomic.Bool

	offerer, err := factory.NewPeer("b", port.PeerCallbacks{OnICECandidate: toAnswerer.add})
	require.NoError(t, err)
	defer offerer.Close()

	answerer, err := factory.NewPeer("a", port.PeerCallbacks{
		OnICECandidate: toOfferer.add,
		OnTrack: func(tr port.RemoteTrack) {
			if tr.Kind() == domain.TrackAudio {
				tracks.Inc()
			}
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			if s == webrtc.PeerConnectionStateConnected {
				connected.Store(true)
			}
		},
	})
	require.NoError(t, err)
	defer answerer.Close()

	require.NoError(t, offerer.AddStream(stream))
	require.NoError(t, answerer.AddStream(nil))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetRemoteDescription(offer))
	toAnswerer.flush(answerer)

	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetRemoteDescription(answer))
	toOfferer.flush(offerer)

	require.Eventually(t, connected.Load, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return tracks.Load() == 1 }, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return answerer.BytesReceived() > 0 }, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, answerer.Close())
	require.NoError(t, answerer.Close())
}

func TestRecvOnlyPeerStillOffersBothKinds(t *testing.T) {
	factory, err := NewPeerFactory(FactoryOptions{})
	require.NoError(t, err)

	p, err := factory.NewPeer("x", port.PeerCallbacks{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AddStream(nil))
	offer, err := p.CreateOffer()
	require.NoError(t, err)
	require.Contains(t, offer.SDP, "m=audio")
	require.Contains(t, offer.SDP, "m=video")
	require.Contains(t, offer.SDP, "a=recvonly")
}

func TestLocalTrackEnableAndStop(t *testing.T) {
	stream, err := NewSyntheticDevice().GetUserMedia(context.Background(), port.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks(), 1)

	track := stream.Tracks()[0].(*LocalTrack)
	require.Equal(t, domain.TrackAudio, track.Kind())
	require.True(t, track.Enabled())
	require.True(t, track.Live())

	track.SetEnabled(false)
	require.False(t, track.Enabled())
	require.True(t, track.Live(), "disabling keeps the track alive")

	track.Stop()
	track.Stop()
	require.False(t, track.Live())
	select {
	case <-track.Ended():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestSyntheticDeviceRequiresAudio(t *testing.T) {
	_, err := NewSyntheticDevice().GetUserMedia(context.Background(), port.MediaConstraints{Video: true})
	require.ErrorIs(t, err, domain.ErrMediaAccessDenied)
}
