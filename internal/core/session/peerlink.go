package session

import (
	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type linkRole string

const (
	roleOfferer  linkRole = "offerer"
	roleAnswerer linkRole = "answerer"
)

// PeerLink is the negotiated transport to one remote participant.
// It is only touched from the event loop.
type PeerLink struct {
	remoteID domain.UserID
	role     linkRole
	conn     port.PeerConnection

	attached  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	stream *domain.RemoteStream
	state  webrtc.PeerConnectionState

	closed core.Fuse
}

func newPeerLink(remoteID domain.UserID, role linkRole, conn port.PeerConnection) *PeerLink {
	return &PeerLink{
		remoteID: remoteID,
		role:     role,
		conn:     conn,
		state:    webrtc.PeerConnectionStateNew,
		closed:   core.NewFuse(),
	}
}

func (p *PeerLink) RemoteID() domain.UserID {
	return p.remoteID
}

// Stream returns the inbound media, nil until the first remote track arrives.
func (p *PeerLink) Stream() *domain.RemoteStream {
	return p.stream
}

func (p *PeerLink) State() webrtc.PeerConnectionState {
	return p.state
}

// attach adds the local tracks once. A nil stream leaves the link receive-only.
func (p *PeerLink) attach(stream port.LocalStream) error {
	if p.attached || stream == nil {
		return nil
	}
	if err := p.conn.AddStream(stream); err != nil {
		return err
	}
	p.attached = true
	return nil
}

// setRemote applies desc and flushes candidates that arrived before it.
// Candidate failures are returned as the first error but do not stop the flush.
func (p *PeerLink) setRemote(desc webrtc.SessionDescription) error {
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.remoteSet = true

	var first error
	for _, c := range p.pending {
		if err := p.conn.AddICECandidate(c); err != nil && first == nil {
			first = err
		}
	}
	p.pending = nil
	return first
}

func (p *PeerLink) addCandidate(c webrtc.ICECandidateInit) error {
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	return p.conn.AddICECandidate(c)
}

func (p *PeerLink) addTrack(t port.RemoteTrack) {
	if p.stream == nil || p.stream.StreamID != t.StreamID() {
		p.stream = &domain.RemoteStream{ParticipantID: p.remoteID, StreamID: t.StreamID()}
	}
	for _, existing := range p.stream.Tracks {
		if existing.ID == t.ID() {
			return
		}
	}
	p.stream.Tracks = append(p.stream.Tracks, domain.TrackInfo{ID: t.ID(), Kind: t.Kind()})
}

// close shuts the transport down. Only the first call has any effect.
func (p *PeerLink) close() error {
	if p.closed.IsBroken() {
		return nil
	}
	p.closed.Break()
	p.stream = nil
	p.pending = nil
	return p.conn.Close()
}
