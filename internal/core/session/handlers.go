package session

import (
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// The SessionHandler methods run on the signaling goroutine and only hop
// onto the event loop.

func (c *Controller) OnParticipantJoined(msg domain.ParticipantJoined) {
	c.route(domain.EventParticipantJoined, msg.ChannelID, func(s *callSession) { c.participantJoined(s, msg) })
}

func (c *Controller) OnParticipantLeft(msg domain.ParticipantLeft) {
	c.route(domain.EventParticipantLeft, msg.ChannelID, func(s *callSession) { c.participantLeft(s, msg) })
}

func (c *Controller) OnCallLeft(msg domain.CallLeft) {
	c.route(domain.EventCallLeft, msg.ChannelID, func(*callSession) { c.cleanup() })
}

func (c *Controller) OnCallEnded(msg domain.CallEnded) {
	c.route(domain.EventCallEnded, msg.ChannelID, func(*callSession) { c.cleanup() })
}

func (c *Controller) OnOffer(msg domain.SessionDescription) {
	c.route(domain.EventOffer, msg.ChannelID, func(s *callSession) {
		if s.state == domain.StateIncoming || msg.FromUserID == c.opts.Self.ID {
			c.stale(domain.EventOffer, msg.ChannelID)
			return
		}
		if err := s.mesh.HandleOffer(msg); err == nil && s.state != domain.StateActive && s.mesh.Link(msg.FromUserID) != nil {
			s.state = domain.StateActive
			c.notify()
		}
	})
}

func (c *Controller) OnAnswer(msg domain.SessionDescription) {
	c.route(domain.EventAnswer, msg.ChannelID, func(s *callSession) {
		if s.mesh != nil {
			_ = s.mesh.HandleAnswer(msg)
		}
	})
}

func (c *Controller) OnICECandidate(msg domain.ICECandidate) {
	c.route(domain.EventICE, msg.ChannelID, func(s *callSession) {
		if s.mesh != nil {
			_ = s.mesh.HandleICE(msg)
		}
	})
}

// route runs fn on the loop against the session of channelID. While a start
// or join for that channel is in flight, fn is buffered and replayed after it.
func (c *Controller) route(ev domain.Event, channelID domain.ChannelID, fn func(*callSession)) {
	var task func()
	task = func() {
		if p := c.pending; p != nil && p.channelID == channelID && !p.aborted {
			p.events.PushBack(task)
			return
		}
		s := c.session
		if s == nil || s.channelID != channelID || s.leaving {
			c.stale(ev, channelID)
			return
		}
		fn(s)
	}
	c.loop.post(task)
}

func (c *Controller) stale(ev domain.Event, channelID domain.ChannelID) {
	log.Debug().Str("event", string(ev)).Str("channel_id", channelID.String()).Err(domain.ErrStaleMessage).Msg("Dropping signal")
}

func (c *Controller) participantJoined(s *callSession, msg domain.ParticipantJoined) {
	if s.state == domain.StateIncoming {
		return
	}
	if msg.ChannelName != "" {
		s.channelName = msg.ChannelName
	}

	switch {
	case len(msg.Participants) > 0:
		s.roster.Replace(msg.Participants)
	case len(msg.ParticipantIDs) > 0:
		s.roster.ReplaceIDs(msg.ParticipantIDs, map[domain.UserID]string{msg.JoinerID: msg.JoinerName})
	default:
		ids := append(participantIDs(s.roster.List()), msg.JoinerID)
		s.roster.ReplaceIDs(ids, map[domain.UserID]string{msg.JoinerID: msg.JoinerName})
	}
	remotes := s.roster.Remotes()
	s.mesh.Prune(remotes)

	if msg.JoinerID == c.opts.Self.ID {
		s.confirmed = true
		if len(remotes) > 0 {
			s.state = domain.StateActive
		}
		c.notify()
		return
	}

	canOffer := s.state == domain.StateWaiting || s.state == domain.StateActive ||
		(s.state == domain.StateJoined && s.confirmed)
	if c.media.Stream() != nil && canOffer {
		s.state = domain.StateActive
		_ = s.mesh.Connect(msg.JoinerID)
	}
	c.notify()
}

func (c *Controller) participantLeft(s *callSession, msg domain.ParticipantLeft) {
	if s.state == domain.StateIncoming {
		if len(msg.ParticipantIDs) == 0 {
			c.cleanup()
		}
		return
	}
	if msg.UserID == c.opts.Self.ID {
		c.cleanup()
		return
	}

	s.mesh.Remove(msg.UserID)
	s.roster.ReplaceIDs(msg.ParticipantIDs, nil)
	remotes := s.roster.Remotes()
	if len(remotes) == 0 {
		log.Info().Str("channel_id", s.channelID.String()).Msg("Last remote participant left, ending session")
		channelID := s.channelID
		c.cleanup()
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.bestEffortLeave(channelID)
		}()
		return
	}
	s.mesh.Prune(remotes)
	c.notify()
}

// onCallStarted runs on the signaling goroutine for every announcement.
func (c *Controller) onCallStarted(msg domain.CallStarted) {
	c.loop.post(func() {
		if msg.InitiatorID == c.opts.Self.ID || c.pending != nil || c.closed {
			return
		}
		if s := c.session; s != nil {
			if s.state == domain.StateIncoming && s.channelID == msg.ChannelID {
				s.channelName = orDefault(msg.ChannelName, domain.DefaultChannelName)
				s.initiatorID = msg.InitiatorID
				s.initiatorName = orDefault(msg.InitiatorName, domain.DefaultInitiatorName)
				c.notify()
			}
			return
		}
		c.enterIncoming(msg.ChannelID, msg.ChannelName, msg.InitiatorID, msg.InitiatorName)
	})
}

func (c *Controller) enterIncoming(channelID domain.ChannelID, channelName string, initiatorID domain.UserID, initiatorName string) {
	c.session = &callSession{
		channelID:     channelID,
		channelName:   orDefault(channelName, domain.DefaultChannelName),
		state:         domain.StateIncoming,
		initiatorID:   initiatorID,
		initiatorName: orDefault(initiatorName, domain.DefaultInitiatorName),
		roster:        domain.NewRoster(c.opts.Self),
		unsubscribe:   c.sig.SubscribeSession(channelID, c),
	}
	c.lastErr = ""
	log.Info().Str("channel_id", channelID.String()).Str("initiator_id", initiatorID.String()).Msg("Incoming call")
	c.notify()
}

func (c *Controller) applyStatus(channelID domain.ChannelID, channelName string, status *port.CallStatus) {
	if c.closed || c.pending != nil {
		return
	}
	self := c.opts.Self.ID
	s := c.session

	if s == nil {
		if status == nil || !status.Active || status.InitiatorID == self || containsID(status.ParticipantIDs, self) {
			return
		}
		c.enterIncoming(channelID, orDefault(status.ChannelName, channelName), status.InitiatorID, status.InitiatorName)
		return
	}
	if s.channelID != channelID || s.leaving {
		return
	}
	if status == nil || !status.Active {
		c.cleanup()
		return
	}
	if s.state == domain.StateIncoming {
		return
	}
	if len(status.Participants) > 0 {
		s.roster.Replace(status.Participants)
	} else if len(status.ParticipantIDs) > 0 {
		s.roster.ReplaceIDs(status.ParticipantIDs, nil)
	}
	c.notify()
}

func participantIDs(ps []domain.Participant) []domain.UserID {
	ids := make([]domain.UserID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

func containsID(ids []domain.UserID, id domain.UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
