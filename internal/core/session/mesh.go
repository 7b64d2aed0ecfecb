package session

import (
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type peerSignaler interface {
	SendOffer(channelID domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error
	SendAnswer(channelID domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error
	SendICECandidate(channelID domain.ChannelID, to domain.UserID, candidate webrtc.ICECandidateInit) error
}

type meshConfig struct {
	ChannelID domain.ChannelID
	SelfID    domain.UserID
	Factory   port.PeerFactory
	Signaler  peerSignaler
	// Post schedules work on the owning event loop.
	Post func(func()) bool
	// LocalStream returns the stream to attach, nil for receive-only links.
	LocalStream func() port.LocalStream
	OnChange    func()
	MaxLinks    int
}

// Mesh keeps one PeerLink per remote participant of a session. Every method
// must run on the event loop; transport callbacks are posted back to it and
// dropped once their link is no longer current.
type Mesh struct {
	cfg    meshConfig
	links  map[domain.UserID]*PeerLink
	closed bool
	logger zerolog.Logger
}

func newMesh(cfg meshConfig) *Mesh {
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}
	if cfg.LocalStream == nil {
		cfg.LocalStream = func() port.LocalStream { return nil }
	}
	return &Mesh{
		cfg:    cfg,
		links:  make(map[domain.UserID]*PeerLink),
		logger: log.With().Str("channel_id", cfg.ChannelID.String()).Logger(),
	}
}

// Connect opens a link to remoteID as offerer and sends the offer.
// Existing links are left untouched.
func (m *Mesh) Connect(remoteID domain.UserID) error {
	if m.closed || remoteID == "" || remoteID == m.cfg.SelfID {
		return nil
	}
	if _, ok := m.links[remoteID]; ok {
		return nil
	}

	link, err := m.open(remoteID, roleOfferer)
	if err != nil {
		return err
	}
	if err := link.attach(m.cfg.LocalStream()); err != nil {
		return m.failed(remoteID, "attach", err)
	}
	offer, err := link.conn.CreateOffer()
	if err != nil {
		return m.failed(remoteID, "create-offer", err)
	}
	if err := m.cfg.Signaler.SendOffer(m.cfg.ChannelID, remoteID, offer); err != nil {
		return m.failed(remoteID, "send-offer", err)
	}
	m.logger.Debug().Str("remote_id", remoteID.String()).Msg("Offer sent")
	return nil
}

// HandleOffer answers an offer, creating the link as answerer when needed.
func (m *Mesh) HandleOffer(msg domain.SessionDescription) error {
	from := msg.FromUserID
	if m.closed || from == "" || from == m.cfg.SelfID || msg.SDP == nil {
		return nil
	}

	link := m.links[from]
	if link != nil && link.role == roleOfferer && !link.remoteSet {
		// Both sides offered. The lower id keeps its offer.
		if m.cfg.SelfID < from {
			m.logger.Debug().Str("remote_id", from.String()).Msg("Ignoring colliding offer")
			return nil
		}
		m.Remove(from)
		link = nil
	}
	if link == nil {
		var err error
		if link, err = m.open(from, roleAnswerer); err != nil {
			return err
		}
	}

	if err := link.attach(m.cfg.LocalStream()); err != nil {
		return m.failed(from, "attach", err)
	}
	if err := link.setRemote(*msg.SDP); err != nil {
		return m.failed(from, "set-remote-offer", err)
	}
	answer, err := link.conn.CreateAnswer()
	if err != nil {
		return m.failed(from, "create-answer", err)
	}
	if err := m.cfg.Signaler.SendAnswer(m.cfg.ChannelID, from, answer); err != nil {
		return m.failed(from, "send-answer", err)
	}
	m.logger.Debug().Str("remote_id", from.String()).Msg("Answer sent")
	return nil
}

// HandleAnswer completes an offer we sent. Answers without a link are stale.
func (m *Mesh) HandleAnswer(msg domain.SessionDescription) error {
	link, ok := m.links[msg.FromUserID]
	if m.closed || !ok || msg.SDP == nil {
		m.stale(msg.FromUserID, "answer")
		return nil
	}
	if err := link.setRemote(*msg.SDP); err != nil {
		return m.failed(msg.FromUserID, "set-remote-answer", err)
	}
	return nil
}

// HandleICE applies a remote candidate. Candidates without a link are dropped.
func (m *Mesh) HandleICE(msg domain.ICECandidate) error {
	link, ok := m.links[msg.FromUserID]
	if m.closed || !ok || msg.Candidate == nil {
		m.stale(msg.FromUserID, "ice")
		return nil
	}
	if err := link.addCandidate(*msg.Candidate); err != nil {
		return m.failed(msg.FromUserID, "add-ice", err)
	}
	return nil
}

// Remove closes the link to remoteID and reports whether one existed.
func (m *Mesh) Remove(remoteID domain.UserID) bool {
	link, ok := m.links[remoteID]
	if !ok {
		return false
	}
	delete(m.links, remoteID)
	if err := link.close(); err != nil {
		m.logger.Warn().Err(err).Str("remote_id", remoteID.String()).Msg("Closing peer link")
	}
	m.logger.Debug().Str("remote_id", remoteID.String()).Msg("Peer link removed")
	m.cfg.OnChange()
	return true
}

// Prune closes every link whose remote is not in keep.
func (m *Mesh) Prune(keep []domain.UserID) {
	set := make(map[domain.UserID]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	for id := range m.links {
		if _, ok := set[id]; !ok {
			m.Remove(id)
		}
	}
}

// Close closes every link. Later calls and late callbacks are no-ops.
func (m *Mesh) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for id, link := range m.links {
		delete(m.links, id)
		if err := link.close(); err != nil {
			m.logger.Warn().Err(err).Str("remote_id", id.String()).Msg("Closing peer link")
		}
	}
}

func (m *Mesh) Len() int {
	return len(m.links)
}

func (m *Mesh) Link(remoteID domain.UserID) *PeerLink {
	return m.links[remoteID]
}

// Links returns the remote ids with an open link, sorted.
func (m *Mesh) Links() []domain.UserID {
	ids := make([]domain.UserID, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Streams returns a copy of the inbound streams keyed by participant.
func (m *Mesh) Streams() map[domain.UserID]domain.RemoteStream {
	out := make(map[domain.UserID]domain.RemoteStream)
	for id, link := range m.links {
		if s := link.Stream(); s != nil {
			cp := *s
			cp.Tracks = append([]domain.TrackInfo(nil), s.Tracks...)
			out[id] = cp
		}
	}
	return out
}

func (m *Mesh) open(remoteID domain.UserID, role linkRole) (*PeerLink, error) {
	if m.cfg.MaxLinks > 0 && len(m.links) >= m.cfg.MaxLinks {
		m.logger.Warn().Str("remote_id", remoteID.String()).Int("links", len(m.links)).Msg("Mesh full, refusing peer")
		return nil, domain.ErrMeshFull
	}

	var link *PeerLink
	conn, err := m.cfg.Factory.NewPeer(remoteID, port.PeerCallbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.cfg.Post(func() {
				if !m.current(link) {
					return
				}
				if err := m.cfg.Signaler.SendICECandidate(m.cfg.ChannelID, remoteID, c); err != nil {
					m.logger.Warn().Err(err).Str("remote_id", remoteID.String()).Msg("Sending ICE candidate")
				}
			})
		},
		OnTrack: func(t port.RemoteTrack) {
			m.cfg.Post(func() {
				if !m.current(link) {
					return
				}
				link.addTrack(t)
				m.logger.Info().Str("remote_id", remoteID.String()).Str("kind", string(t.Kind())).Msg("Remote track")
				m.cfg.OnChange()
			})
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			m.cfg.Post(func() {
				if !m.current(link) {
					return
				}
				link.state = s
				m.logger.Debug().Str("remote_id", remoteID.String()).Str("state", s.String()).Msg("Peer connection state")
				m.cfg.OnChange()
			})
		},
	})
	if err != nil {
		return nil, m.failed(remoteID, "new-peer", err)
	}

	link = newPeerLink(remoteID, role, conn)
	m.links[remoteID] = link
	m.logger.Debug().Str("remote_id", remoteID.String()).Str("role", string(role)).Msg("Peer link opened")
	m.cfg.OnChange()
	return link, nil
}

func (m *Mesh) current(link *PeerLink) bool {
	return link != nil && !m.closed && m.links[link.remoteID] == link
}

func (m *Mesh) failed(remoteID domain.UserID, step string, err error) error {
	nerr := &domain.NegotiationError{RemoteID: remoteID, Step: step, Err: err}
	m.logger.Warn().Err(nerr).Msg("Negotiation failed")
	return nerr
}

func (m *Mesh) stale(remoteID domain.UserID, what string) {
	m.logger.Debug().Str("remote_id", remoteID.String()).Str("signal", what).Err(domain.ErrStaleMessage).Msg("No peer link")
}
