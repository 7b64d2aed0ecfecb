package session

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const (
	DefaultMaxParticipants = 8
	DefaultLeaveTimeout    = 5 * time.Second
)

type Options struct {
	Self domain.Participant
	// Video requests a camera track next to the microphone.
	Video           bool
	MaxParticipants int
	// LeaveTimeout bounds the best-effort backend calls made while leaving.
	LeaveTimeout time.Duration
}

type opKind string

const (
	opStart opKind = "start"
	opJoin  opKind = "join"
)

// pendingOp is a start or join waiting on media or the backend. Session
// events that arrive meanwhile are buffered and replayed on commit.
type pendingOp struct {
	kind          opKind
	channelID     domain.ChannelID
	channelName   string
	initiatorID   domain.UserID
	initiatorName string

	events      deque.Deque[func()]
	aborted     bool
	unsubscribe func()
}

type callSession struct {
	channelID     domain.ChannelID
	channelName   string
	state         domain.CallState
	initiatorID   domain.UserID
	initiatorName string

	roster      *domain.Roster
	mesh        *Mesh
	unsubscribe func()
	// confirmed is set once the relay echoed our own join.
	confirmed bool
	leaving   bool
}

// Controller drives one user's group call sessions. Public methods are safe
// for concurrent use; everything they touch is owned by a single event loop.
type Controller struct {
	opts    Options
	api     port.CallAPI
	media   *MediaManager
	sig     *SignalingClient
	factory port.PeerFactory
	loop    *eventLoop

	session   *callSession
	pending   *pendingOp
	lastErr   string
	muted     bool
	video     bool
	listeners map[int]func(domain.CallSession)
	nextID    int
	closed    bool
	// bg tracks leave requests sent after the session ended on its own.
	bg sync.WaitGroup

	unsubscribeLobby func()
}

func NewController(opts Options, api port.CallAPI, device port.MediaDevice, factory port.PeerFactory, bus port.SignalBus) *Controller {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = DefaultMaxParticipants
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = DefaultLeaveTimeout
	}
	if opts.Self.Name == "" {
		opts.Self.Name = domain.DefaultSelfName
	}

	c := &Controller{
		opts:      opts,
		api:       api,
		media:     NewMediaManager(device, opts.Video),
		sig:       NewSignalingClient(bus, opts.Self.ID),
		factory:   factory,
		loop:      newEventLoop(),
		video:     opts.Video,
		listeners: make(map[int]func(domain.CallSession)),
	}
	c.unsubscribeLobby = c.sig.SubscribeLobby(c.onCallStarted)
	return c
}

// Start registers a new call in channelID and waits alone for others.
func (c *Controller) Start(ctx context.Context, channelID domain.ChannelID, channelName string) error {
	self := c.opts.Self
	return c.run(ctx, opStart, channelID, channelName, self.ID, self.Name)
}

// Join enters the call another member started in channelID.
func (c *Controller) Join(ctx context.Context, channelID domain.ChannelID, channelName string, initiatorID domain.UserID, initiatorName string) error {
	return c.run(ctx, opJoin, channelID, channelName, initiatorID, initiatorName)
}

func (c *Controller) run(ctx context.Context, kind opKind, channelID domain.ChannelID, channelName string, initiatorID domain.UserID, initiatorName string) error {
	if c.opts.Self.ID == "" {
		return domain.ErrNoLocalUser
	}
	if channelName == "" {
		channelName = domain.DefaultChannelName
	}
	if initiatorName == "" {
		initiatorName = domain.DefaultInitiatorName
	}
	l := log.With().Str("op", string(kind)).Str("channel_id", channelID.String()).Logger()

	var (
		p   *pendingOp
		err error
	)
	if !c.loop.do(func() {
		p, err = c.beginPending(kind, channelID, channelName, initiatorID, initiatorName)
	}) {
		return domain.ErrSessionAborted
	}
	if err != nil {
		return err
	}

	stream, err := c.media.Acquire(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Media acquisition failed")
		c.loop.do(func() { c.fail(p, "Microphone access denied") })
		return err
	}

	var aborted bool
	if !c.loop.do(func() {
		if aborted = p.aborted; aborted {
			c.fail(p, "")
		}
	}) || aborted {
		l.Info().Msg("Aborted during media acquisition, releasing")
		c.media.Release()
		return domain.ErrSessionAborted
	}

	var joined *port.JoinResult
	if kind == opStart {
		err = c.api.StartCall(ctx, channelID)
	} else {
		joined, err = c.api.JoinCall(ctx, channelID)
	}
	if err != nil {
		c.media.Release()
		fallback := "Failed to start call"
		if kind == opJoin {
			fallback = "Failed to join call"
		}
		l.Warn().Err(err).Msg("Backend registration failed")
		c.loop.do(func() { c.fail(p, userMessage(err, fallback)) })
		return errors.Wrap(domain.ErrSessionRegistrationFailed, err.Error())
	}

	if !c.loop.do(func() { aborted = c.commit(p, stream, joined) }) {
		aborted = true
	}
	if aborted {
		l.Info().Msg("Aborted before commit, releasing")
		c.media.Release()
		c.bestEffortLeave(channelID)
		return domain.ErrSessionAborted
	}
	l.Info().Msg("Call session established")
	return nil
}

// Leave ends the current session. It never fails on network errors and is a
// no-op when idle. A start or join still in flight is aborted.
func (c *Controller) Leave(ctx context.Context) error {
	var (
		s       *callSession
		release bool
	)
	c.loop.do(func() {
		if p := c.pending; p != nil {
			if !p.aborted {
				p.aborted = true
				release = true
				p.unsubscribe()
				c.notify()
			}
			return
		}
		if c.session == nil || c.session.leaving {
			return
		}
		if c.session.state == domain.StateIncoming {
			c.cleanup()
			return
		}
		s = c.session
		s.leaving = true
		s.mesh.Close()
	})
	if release {
		// the pending run releases again if acquisition lands after this
		c.media.Release()
	}
	if s == nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, c.opts.LeaveTimeout)
	defer cancel()
	if err := c.api.LeaveCall(lctx, s.channelID); err != nil {
		log.Warn().Err(err).Str("channel_id", s.channelID.String()).Msg("Backend leave failed, cleaning up anyway")
	}
	if err := c.sig.SendLeave(s.channelID); err != nil {
		log.Warn().Err(err).Str("channel_id", s.channelID.String()).Msg("Relay leave failed")
	}

	c.loop.do(func() {
		if c.session == s {
			c.cleanup()
		}
	})
	return nil
}

// DismissIncoming drops the pending call notice.
func (c *Controller) DismissIncoming() error {
	err := domain.ErrNotIncoming
	c.loop.do(func() {
		if c.session != nil && c.session.state == domain.StateIncoming {
			c.cleanup()
			err = nil
		}
	})
	return err
}

// ToggleMute flips the microphone and returns the new muted flag.
func (c *Controller) ToggleMute() bool {
	var muted bool
	c.loop.do(func() {
		if c.media.Stream() != nil {
			c.muted = !c.muted
			c.media.SetMuted(c.muted)
			c.notify()
		}
		muted = c.muted
	})
	return muted
}

// ToggleVideo flips the camera and returns whether it is now enabled.
func (c *Controller) ToggleVideo() bool {
	var enabled bool
	c.loop.do(func() {
		if c.media.Stream() != nil && c.media.Video() {
			c.video = !c.video
			c.media.SetVideoEnabled(c.video)
			c.notify()
		}
		enabled = c.video
	})
	return enabled
}

// SyncStatus reads the backend state of channelID. It surfaces calls missed
// while offline and drops sessions the backend no longer knows.
func (c *Controller) SyncStatus(ctx context.Context, channelID domain.ChannelID, channelName string) error {
	status, err := c.api.GetCallStatus(ctx, channelID)
	if err != nil {
		return err
	}
	c.loop.do(func() { c.applyStatus(channelID, channelName, status) })
	return nil
}

func (c *Controller) Snapshot() domain.CallSession {
	var snap domain.CallSession
	if !c.loop.do(func() { snap = c.snapshot() }) {
		snap = domain.CallSession{State: domain.StateIdle}
	}
	return snap
}

// OnChange registers fn for every state change. fn runs on the event loop
// and must not call back into the controller's blocking methods.
func (c *Controller) OnChange(fn func(domain.CallSession)) func() {
	var id int
	c.loop.do(func() {
		id = c.nextID
		c.nextID++
		c.listeners[id] = fn
	})
	return func() {
		c.loop.post(func() { delete(c.listeners, id) })
	}
}

// Close leaves any session and stops the controller.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Leave(ctx)
	c.loop.do(func() {
		c.closed = true
		c.unsubscribeLobby()
		if c.session != nil {
			c.cleanup()
		}
	})
	c.bg.Wait()
	c.sig.Close()
	c.loop.stop()
	return err
}

func (c *Controller) beginPending(kind opKind, channelID domain.ChannelID, channelName string, initiatorID domain.UserID, initiatorName string) (*pendingOp, error) {
	if c.pending != nil {
		return nil, domain.ErrCallInProgress
	}
	if s := c.session; s != nil {
		if s.state != domain.StateIncoming {
			return nil, domain.ErrCallInProgress
		}
		if kind == opJoin && s.channelID == channelID && initiatorName == domain.DefaultInitiatorName {
			initiatorName = s.initiatorName
		}
		s.unsubscribe()
		c.session = nil
	}

	p := &pendingOp{
		kind:          kind,
		channelID:     channelID,
		channelName:   channelName,
		initiatorID:   initiatorID,
		initiatorName: initiatorName,
	}
	p.unsubscribe = c.sig.SubscribeSession(channelID, c)
	c.pending = p
	c.lastErr = ""
	c.notify()
	return p, nil
}

func (c *Controller) fail(p *pendingOp, msg string) {
	if c.pending != p {
		return
	}
	c.pending = nil
	p.unsubscribe()
	if !p.aborted {
		c.lastErr = msg
	}
	c.notify()
}

// commit turns p into the live session. It reports true when p was aborted.
func (c *Controller) commit(p *pendingOp, stream port.LocalStream, joined *port.JoinResult) bool {
	if c.pending != p {
		return true
	}
	c.pending = nil
	if p.aborted || c.closed {
		p.unsubscribe()
		return true
	}

	s := &callSession{
		channelID:     p.channelID,
		channelName:   p.channelName,
		initiatorID:   p.initiatorID,
		initiatorName: p.initiatorName,
		roster:        domain.NewRoster(c.opts.Self),
		unsubscribe:   p.unsubscribe,
	}
	switch {
	case p.kind == opStart:
		s.state = domain.StateWaiting
		s.roster.Replace([]domain.Participant{c.opts.Self})
	case joined != nil && len(joined.Participants) > 0:
		s.state = domain.StateJoined
		s.roster.Replace(joined.Participants)
	case joined != nil && len(joined.ParticipantIDs) > 0:
		s.state = domain.StateJoined
		s.roster.ReplaceIDs(joined.ParticipantIDs, map[domain.UserID]string{p.initiatorID: p.initiatorName})
	default:
		s.state = domain.StateJoined
		s.roster.Replace([]domain.Participant{c.opts.Self})
	}
	s.mesh = newMesh(meshConfig{
		ChannelID:   s.channelID,
		SelfID:      c.opts.Self.ID,
		Factory:     c.factory,
		Signaler:    c.sig,
		Post:        c.loop.post,
		LocalStream: func() port.LocalStream { return stream },
		OnChange:    c.notify,
		MaxLinks:    c.opts.MaxParticipants - 1,
	})

	c.session = s
	c.muted = false
	c.video = c.media.Video()
	c.lastErr = ""
	c.notify()

	for p.events.Len() > 0 {
		p.events.PopFront()()
	}
	return false
}

// cleanup is the single exit to idle.
func (c *Controller) cleanup() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	if s.mesh != nil {
		s.mesh.Close()
	}
	s.unsubscribe()
	c.media.Release()
	c.muted = false
	c.video = c.media.Video()
	c.lastErr = ""
	log.Info().Str("channel_id", s.channelID.String()).Str("state", string(s.state)).Msg("Call session closed")
	c.notify()
}

func (c *Controller) bestEffortLeave(channelID domain.ChannelID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LeaveTimeout)
	defer cancel()
	if err := c.api.LeaveCall(ctx, channelID); err != nil {
		log.Debug().Err(err).Str("channel_id", channelID.String()).Msg("Best-effort leave failed")
	}
	if err := c.sig.SendLeave(channelID); err != nil {
		log.Debug().Err(err).Str("channel_id", channelID.String()).Msg("Best-effort relay leave failed")
	}
}

func (c *Controller) snapshot() domain.CallSession {
	s := c.session
	if s == nil {
		return domain.CallSession{
			State:        domain.StateIdle,
			Error:        c.lastErr,
			VideoEnabled: c.video,
		}
	}
	snap := domain.CallSession{
		ChannelID:     s.channelID,
		ChannelName:   s.channelName,
		State:         s.state,
		InitiatorID:   s.initiatorID,
		InitiatorName: s.initiatorName,
		Participants:  s.roster.List(),
		LocalMuted:    c.muted,
		VideoEnabled:  c.video,
	}
	if s.mesh != nil {
		snap.PeerLinks = s.mesh.Links()
		snap.RemoteStreams = s.mesh.Streams()
	}
	return snap
}

func (c *Controller) notify() {
	if len(c.listeners) == 0 {
		return
	}
	snap := c.snapshot()
	for _, fn := range c.listeners {
		fn(snap)
	}
}

func userMessage(err error, fallback string) string {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
