package port

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaDevice opens local capture streams.
type MediaDevice interface {
	// GetUserMedia returns domain.ErrMediaAccessDenied (wrapped) when capture
	// is refused or no device exists. It never returns a partial stream.
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (LocalStream, error)
}

type LocalStream interface {
	ID() string
	Tracks() []LocalTrack
}

// LocalTrack is a captured track that can be attached to any number of peer
// connections. Disabling keeps the track alive but sends nothing.
type LocalTrack interface {
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop ends capture for good. Safe to call more than once.
	Stop()
	Live() bool
	// TrackLocal is what gets attached to a peer connection.
	TrackLocal() webrtc.TrackLocal
}

type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() domain.TrackKind
}

type PeerCallbacks struct {
	OnICECandidate func(candidate webrtc.ICECandidateInit)
	OnTrack        func(track RemoteTrack)
	OnStateChange  func(state webrtc.PeerConnectionState)
}

// PeerFactory builds one transport per remote participant.
type PeerFactory interface {
	NewPeer(remoteID domain.UserID, callbacks PeerCallbacks) (PeerConnection, error)
}

// PeerConnection is the negotiation unit behind a PeerLink.
type PeerConnection interface {
	// AddStream attaches every track of the stream. With a nil stream the
	// connection only receives.
	AddStream(stream LocalStream) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	BytesReceived() uint64
	Close() error
}
