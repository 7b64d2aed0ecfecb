package pion

import (
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const pliInterval = 3 * time.Second

// Peer is one pion PeerConnection to a remote participant.
type Peer struct {
	remoteID  domain.UserID
	pc        *webrtc.PeerConnection
	callbacks port.PeerCallbacks

	bytesReceived atomic.Uint64
	closed        core.Fuse
	logger        zerolog.Logger
}

func newPeer(remoteID domain.UserID, pc *webrtc.PeerConnection, callbacks port.PeerCallbacks) *Peer {
	p := &Peer{
		remoteID:  remoteID,
		pc:        pc,
		callbacks: callbacks,
		closed:    core.NewFuse(),
		logger:    log.With().Str("remote_id", remoteID.String()).Logger(),
	}

	// Trickle ICE
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.callbacks.OnICECandidate == nil {
			return
		}
		p.callbacks.OnICECandidate(c.ToJSON())
	})

	pc.OnTrack(p.onTrack)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug().Str("state", s.String()).Msg("Connection state")
		if p.callbacks.OnStateChange != nil {
			p.callbacks.OnStateChange(s)
		}
	})
	return p
}

func (p *Peer) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := domain.TrackAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackVideo
	}
	p.logger.Debug().Str("kind", string(kind)).Str("track_id", remote.ID()).Msg("Received remote track")

	if kind == domain.TrackVideo {
		go p.requestKeyframes(remote)
	}
	go p.drain(remote)

	if p.callbacks.OnTrack != nil {
		p.callbacks.OnTrack(&remoteTrack{id: remote.ID(), streamID: remote.StreamID(), kind: kind})
	}
}

// drain reads inbound RTP so the interceptors keep running and counts bytes.
func (p *Peer) drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}
		p.bytesReceived.Add(uint64(n))
	}
}

// requestKeyframes sends a PLI immediately and then periodically.
func (p *Peer) requestKeyframes(remote *webrtc.TrackRemote) {
	sendPLI := func() error {
		return p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
	}
	if err := sendPLI(); err != nil {
		return
	}

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed.Watch():
			return
		case <-ticker.C:
			if err := sendPLI(); err != nil {
				return
			}
		}
	}
}

func (p *Peer) AddStream(stream port.LocalStream) error {
	var hasAudio, hasVideo bool
	if stream != nil {
		for _, t := range stream.Tracks() {
			sender, err := p.pc.AddTrack(t.TrackLocal())
			if err != nil {
				return err
			}
			go drainRTCP(sender)
			switch t.Kind() {
			case domain.TrackAudio:
				hasAudio = true
			case domain.TrackVideo:
				hasVideo = true
			}
		}
	}

	// keep both m-lines so the remote side can always send us media
	if !hasAudio {
		if err := p.addRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	if !hasVideo {
		if err := p.addRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) addRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}

func (p *Peer) Close() error {
	if p.closed.IsBroken() {
		return nil
	}
	p.closed.Break()
	return p.pc.Close()
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type remoteTrack struct {
	id       string
	streamID string
	kind     domain.TrackKind
}

func (t *remoteTrack) ID() string             { return t.id }
func (t *remoteTrack) StreamID() string       { return t.streamID }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }
