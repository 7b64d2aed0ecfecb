package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

const DefaultMaxParticipants = 8

// CallService is the relay's view of group calls: it registers sessions,
// fans membership events out to channel members and forwards peer signals.
type CallService struct {
	calls    port.CallRegistry
	channels port.ChannelDirectory
	gateway  port.RealTimeGateway
	metrics  *metrics.Relay

	maxParticipants int

	// mu serialises read-modify-write cycles on the registry.
	mu sync.Mutex
}

func NewCallService(calls port.CallRegistry, channels port.ChannelDirectory, gateway port.RealTimeGateway, m *metrics.Relay, maxParticipants int) *CallService {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &CallService{
		calls:           calls,
		channels:        channels,
		gateway:         gateway,
		metrics:         m,
		maxParticipants: maxParticipants,
	}
}

// StartCall opens a call in channelID with user as the only participant and
// announces it to the other channel members.
func (s *CallService) StartCall(ctx context.Context, user domain.Participant, channelID domain.ChannelID) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.member(ctx, user.ID, channelID)
	if err != nil {
		s.metrics.CallRejected("start", err)
		return nil, err
	}
	if !ch.IsAdmin(user.ID) {
		s.metrics.CallRejected("start", domain.ErrNotAdmin)
		return nil, domain.ErrNotAdmin
	}

	user = s.named(ch, user)
	call := &domain.Call{
		ChannelID:     channelID,
		ChannelName:   channelName(ch),
		InitiatorID:   user.ID,
		InitiatorName: user.Name,
		Participants:  []domain.Participant{user},
		StartedAt:     time.Now(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		s.metrics.CallRejected("start", err)
		return nil, err
	}
	s.metrics.CallStarted()
	s.metrics.ParticipantJoined()

	log.Info().Str("channel_id", channelID.String()).Str("user_id", user.ID.String()).Msg("Group call started")

	started := domain.CallStarted{
		ChannelID:     channelID,
		ChannelName:   call.ChannelName,
		InitiatorID:   user.ID,
		InitiatorName: user.Name,
	}
	for _, id := range ch.MemberIDs() {
		if id != user.ID {
			s.send(ctx, id, domain.EventCallStarted, started)
		}
	}
	return call, nil
}

// Status returns the active call of channelID, or nil when there is none.
func (s *CallService) Status(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) (*domain.Call, error) {
	if _, err := s.member(ctx, userID, channelID); err != nil {
		return nil, err
	}
	call, err := s.calls.Get(ctx, channelID)
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil, nil
	}
	return call, err
}

// JoinCall adds user to the call and sends the full roster to every participant.
// Joining twice returns the current call unchanged.
func (s *CallService) JoinCall(ctx context.Context, user domain.Participant, channelID domain.ChannelID) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.calls.Get(ctx, channelID)
	if err != nil {
		s.metrics.CallRejected("join", err)
		return nil, err
	}
	if call.Has(user.ID) {
		return call, nil
	}
	ch, err := s.member(ctx, user.ID, channelID)
	if err != nil {
		s.metrics.CallRejected("join", err)
		return nil, err
	}
	if len(call.Participants) >= s.maxParticipants {
		s.metrics.CallRejected("join", domain.ErrCallFull)
		return nil, domain.ErrCallFull
	}

	user = s.named(ch, user)
	call.Participants = append(call.Participants, user)
	if err := s.calls.Save(ctx, call); err != nil {
		return nil, errors.Wrap(err, "saving call")
	}
	s.metrics.ParticipantJoined()

	log.Info().Str("channel_id", channelID.String()).Str("user_id", user.ID.String()).
		Int("participants", len(call.Participants)).Msg("Participant joined group call")

	joined := domain.ParticipantJoined{
		ChannelID:      channelID,
		ChannelName:    call.ChannelName,
		JoinerID:       user.ID,
		JoinerName:     user.Name,
		ParticipantIDs: call.ParticipantIDs(),
		Participants:   call.Participants,
	}
	for _, id := range call.ParticipantIDs() {
		s.send(ctx, id, domain.EventParticipantJoined, joined)
	}
	return call, nil
}

// LeaveCall removes userID from the call of channelID. The initiator leaving,
// or the last participant leaving, ends the call. Leaving a call that does not
// exist succeeds.
func (s *CallService) LeaveCall(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leave(ctx, userID, channelID)
}

func (s *CallService) leave(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) error {
	call, err := s.calls.Get(ctx, channelID)
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	l := log.With().Str("channel_id", channelID.String()).Str("user_id", userID.String()).Logger()

	if userID == call.InitiatorID || (len(call.Participants) == 1 && call.Has(userID)) {
		l.Info().Msg("Group call ended")
		return s.end(ctx, call)
	}
	if !call.Remove(userID) {
		return nil
	}
	if err := s.calls.Save(ctx, call); err != nil {
		return errors.Wrap(err, "saving call")
	}
	s.metrics.ParticipantLeft()
	l.Info().Int("participants", len(call.Participants)).Msg("Participant left group call")

	left := domain.ParticipantLeft{
		ChannelID:      channelID,
		UserID:         userID,
		ParticipantIDs: call.ParticipantIDs(),
	}
	for _, id := range left.ParticipantIDs {
		s.send(ctx, id, domain.EventParticipantLeft, left)
	}
	s.send(ctx, userID, domain.EventCallLeft, domain.CallLeft{
		ChannelID:      channelID,
		UserID:         userID,
		ParticipantIDs: left.ParticipantIDs,
	})
	return nil
}

func (s *CallService) end(ctx context.Context, call *domain.Call) error {
	if err := s.calls.Delete(ctx, call.ChannelID); err != nil {
		return errors.Wrap(err, "deleting call")
	}
	for range call.Participants {
		s.metrics.ParticipantLeft()
	}
	s.metrics.CallEnded(call.StartedAt)

	recipients := call.ParticipantIDs()
	if ch, err := s.channels.Channel(ctx, call.ChannelID); err == nil {
		recipients = ch.MemberIDs()
	}
	ended := domain.CallEnded{ChannelID: call.ChannelID}
	for _, id := range recipients {
		s.send(ctx, id, domain.EventCallEnded, ended)
	}
	return nil
}

// HandleMessage processes one envelope a client sent over the relay.
func (s *CallService) HandleMessage(ctx context.Context, from domain.UserID, env domain.Envelope) error {
	switch {
	case env.Event.IsPeerSignal():
		return s.Forward(ctx, from, env)
	case env.Event == domain.EventLeave:
		var req domain.LeaveRequest
		if err := env.Decode(&req); err != nil || req.ChannelID == "" {
			return errors.Wrap(domain.ErrBadRequest, "leave without channel")
		}
		return s.LeaveCall(ctx, from, req.ChannelID)
	default:
		log.Debug().Str("event", string(env.Event)).Str("user_id", from.String()).Msg("Ignoring client event")
		return nil
	}
}

// Forward relays an offer, answer or ICE candidate to its target, stamping
// the sender from the connection identity.
func (s *CallService) Forward(ctx context.Context, from domain.UserID, env domain.Envelope) (err error) {
	defer func() { s.metrics.SignalForwarded(string(env.Event), err) }()

	if from == "" {
		return errors.Wrap(domain.ErrBadRequest, "signal without sender")
	}

	var (
		to      domain.UserID
		payload any
	)
	switch env.Event {
	case domain.EventOffer, domain.EventAnswer:
		var msg domain.SessionDescription
		if err := env.Decode(&msg); err != nil {
			return errors.Wrap(domain.ErrBadRequest, err.Error())
		}
		if msg.SDP == nil {
			return errors.Wrap(domain.ErrBadRequest, "signal without sdp")
		}
		msg.FromUserID = from
		to, payload = msg.ToUserID, msg
	case domain.EventICE:
		var msg domain.ICECandidate
		if err := env.Decode(&msg); err != nil {
			return errors.Wrap(domain.ErrBadRequest, err.Error())
		}
		msg.FromUserID = from
		to, payload = msg.ToUserID, msg
	default:
		return errors.Wrapf(domain.ErrBadRequest, "cannot forward %s", env.Event)
	}
	if to == "" {
		return errors.Wrap(domain.ErrBadRequest, "signal without target")
	}
	return s.gateway.SendToUser(ctx, to, env.Event, payload)
}

// Disconnect removes userID from every call once their connection is gone.
func (s *CallService) Disconnect(ctx context.Context, userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls, err := s.calls.List(ctx)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Listing calls on disconnect")
		return
	}
	for _, call := range calls {
		if !call.Has(userID) {
			continue
		}
		if err := s.leave(ctx, userID, call.ChannelID); err != nil {
			log.Error().Err(err).Str("channel_id", call.ChannelID.String()).Str("user_id", userID.String()).Msg("Leaving call on disconnect")
		}
	}
}

func (s *CallService) member(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) (*domain.Channel, error) {
	ch, err := s.channels.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsMember(userID) {
		return nil, domain.ErrNotMember
	}
	return ch, nil
}

func (s *CallService) named(ch *domain.Channel, p domain.Participant) domain.Participant {
	if p.Name == "" {
		p.Name = ch.MemberName(p.ID)
	}
	return p
}

func (s *CallService) send(ctx context.Context, to domain.UserID, ev domain.Event, payload any) {
	if err := s.gateway.SendToUser(ctx, to, ev, payload); err != nil {
		log.Error().Err(err).Str("user_id", to.String()).Str("event", string(ev)).Msg("Failed to send signal to gateway")
	}
}

func channelName(ch *domain.Channel) string {
	if ch.Name == "" {
		return domain.DefaultChannelName
	}
	return ch.Name
}
