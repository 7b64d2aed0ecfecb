package session

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// SessionHandler receives the signaling of one call session.
type SessionHandler interface {
	OnParticipantJoined(msg domain.ParticipantJoined)
	OnParticipantLeft(msg domain.ParticipantLeft)
	OnCallLeft(msg domain.CallLeft)
	OnCallEnded(msg domain.CallEnded)
	OnOffer(msg domain.SessionDescription)
	OnAnswer(msg domain.SessionDescription)
	OnICECandidate(msg domain.ICECandidate)
}

type sessionSub struct {
	channelID domain.ChannelID
	handler   SessionHandler
}

// SignalingClient is a typed view of the relay bus. Inbound messages are
// delivered only to the subscriptions of their channel; everything else is
// dropped as stale. Outbound messages are fire-and-forget.
type SignalingClient struct {
	bus    port.SignalBus
	selfID domain.UserID

	mu       sync.RWMutex
	nextID   int
	lobby    map[int]func(domain.CallStarted)
	sessions map[int]sessionSub

	done core.Fuse
}

// NewSignalingClient subscribes to bus and starts dispatching immediately.
func NewSignalingClient(bus port.SignalBus, selfID domain.UserID) *SignalingClient {
	s := &SignalingClient{
		bus:      bus,
		selfID:   selfID,
		lobby:    make(map[int]func(domain.CallStarted)),
		sessions: make(map[int]sessionSub),
		done:     core.NewFuse(),
	}
	ch, cancel := bus.Subscribe()
	go s.dispatchLoop(ch, cancel)
	return s
}

// SubscribeLobby registers fn for call announcements on any channel.
func (s *SignalingClient) SubscribeLobby(fn func(domain.CallStarted)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.lobby[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.lobby, id)
		s.mu.Unlock()
	}
}

// SubscribeSession registers h for the messages of one channel.
func (s *SignalingClient) SubscribeSession(channelID domain.ChannelID, h SessionHandler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.sessions[id] = sessionSub{channelID: channelID, handler: h}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}
}

func (s *SignalingClient) SendOffer(channelID domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error {
	return s.send(domain.EventOffer, domain.SessionDescription{ChannelID: channelID, ToUserID: to, FromUserID: s.selfID, SDP: &sdp})
}

func (s *SignalingClient) SendAnswer(channelID domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error {
	return s.send(domain.EventAnswer, domain.SessionDescription{ChannelID: channelID, ToUserID: to, FromUserID: s.selfID, SDP: &sdp})
}

func (s *SignalingClient) SendICECandidate(channelID domain.ChannelID, to domain.UserID, candidate webrtc.ICECandidateInit) error {
	return s.send(domain.EventICE, domain.ICECandidate{ChannelID: channelID, ToUserID: to, FromUserID: s.selfID, Candidate: &candidate})
}

func (s *SignalingClient) SendLeave(channelID domain.ChannelID) error {
	return s.send(domain.EventLeave, domain.LeaveRequest{ChannelID: channelID})
}

func (s *SignalingClient) send(ev domain.Event, payload any) error {
	env, err := domain.NewEnvelope(ev, payload)
	if err != nil {
		return err
	}
	return s.bus.Send(env)
}

// Close stops dispatching. Pending inbound messages are dropped.
func (s *SignalingClient) Close() {
	s.done.Break()
}

func (s *SignalingClient) dispatchLoop(ch <-chan domain.Envelope, cancel func()) {
	defer cancel()
	for {
		select {
		case <-s.done.Watch():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(env)
		}
	}
}

func (s *SignalingClient) dispatch(env domain.Envelope) {
	l := log.With().Str("event", string(env.Event)).Logger()

	switch env.Event {
	case domain.EventCallStarted:
		var msg domain.CallStarted
		if err := env.Decode(&msg); err != nil {
			l.Warn().Err(err).Msg("Invalid signaling payload")
			return
		}
		s.mu.RLock()
		handlers := make([]func(domain.CallStarted), 0, len(s.lobby))
		for _, fn := range s.lobby {
			handlers = append(handlers, fn)
		}
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(msg)
		}
		return

	case domain.EventParticipantJoined:
		var msg domain.ParticipantJoined
		if s.decode(env, &msg) {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnParticipantJoined(msg) })
		}
	case domain.EventParticipantLeft:
		var msg domain.ParticipantLeft
		if s.decode(env, &msg) {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnParticipantLeft(msg) })
		}
	case domain.EventCallLeft:
		var msg domain.CallLeft
		if s.decode(env, &msg) {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnCallLeft(msg) })
		}
	case domain.EventCallEnded:
		var msg domain.CallEnded
		if s.decode(env, &msg) {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnCallEnded(msg) })
		}
	case domain.EventOffer, domain.EventAnswer:
		var msg domain.SessionDescription
		if !s.decode(env, &msg) || !s.addressedToSelf(env.Event, msg.ToUserID) {
			return
		}
		if env.Event == domain.EventOffer {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnOffer(msg) })
		} else {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnAnswer(msg) })
		}
	case domain.EventICE:
		var msg domain.ICECandidate
		if s.decode(env, &msg) && s.addressedToSelf(env.Event, msg.ToUserID) {
			s.deliver(env.Event, msg.ChannelID, func(h SessionHandler) { h.OnICECandidate(msg) })
		}
	default:
		l.Debug().Msg("Ignoring unknown event")
	}
}

func (s *SignalingClient) decode(env domain.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		log.Warn().Err(err).Str("event", string(env.Event)).Msg("Invalid signaling payload")
		return false
	}
	return true
}

func (s *SignalingClient) addressedToSelf(ev domain.Event, to domain.UserID) bool {
	if to != "" && to != s.selfID {
		log.Debug().Str("event", string(ev)).Str("to", to.String()).Err(domain.ErrStaleMessage).Msg("Dropping signal for another user")
		return false
	}
	return true
}

func (s *SignalingClient) deliver(ev domain.Event, channelID domain.ChannelID, fn func(SessionHandler)) {
	s.mu.RLock()
	var handlers []SessionHandler
	for _, sub := range s.sessions {
		if sub.channelID == channelID {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event", string(ev)).Str("channel_id", channelID.String()).Err(domain.ErrStaleMessage).Msg("No session for channel")
		return
	}
	for _, h := range handlers {
		fn(h)
	}
}
