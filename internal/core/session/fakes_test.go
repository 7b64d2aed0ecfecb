package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/Wyydra/yacall/internal/adapter/driven/directory/static"
	"github.com/Wyydra/yacall/internal/adapter/driven/registry/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
)

const (
	testChannel domain.ChannelID = "team"

	testWait = 3 * time.Second
	testTick = 10 * time.Millisecond
)

var (
	alice = domain.Participant{ID: "a", Name: "Alice"}
	bob   = domain.Participant{ID: "b", Name: "Bob"}
	carol = domain.Participant{ID: "c", Name: "Carol"}
)

// testRelay runs the real relay service in process and routes its output to
// in-memory buses.
type testRelay struct {
	t   *testing.T
	svc *service.CallService

	mu    sync.Mutex
	buses map[domain.UserID]*memBus
}

func newTestRelay(t *testing.T, members ...domain.Participant) *testRelay {
	r := &testRelay{t: t, buses: make(map[domain.UserID]*memBus)}
	dir := static.NewDirectory([]domain.Channel{{ID: testChannel, Name: "Team", Members: members}})
	r.svc = service.NewCallService(memory.NewCallRepository(), dir, r, nil, 0)
	return r
}

func (r *testRelay) SendToUser(_ context.Context, userID domain.UserID, event domain.Event, payload any) error {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	b := r.buses[userID]
	r.mu.Unlock()
	if b != nil {
		b.deliver(env)
	}
	return nil
}

func (r *testRelay) IsOnline(userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buses[userID]
	return ok
}

func (r *testRelay) activeCall() *domain.Call {
	call, err := r.svc.Status(context.Background(), alice.ID, testChannel)
	require.NoError(r.t, err)
	return call
}

type testUser struct {
	self    domain.Participant
	api     *relayAPI
	device  *fakeDevice
	factory *fakeFactory
	bus     *memBus
	ctrl    *Controller
}

func (r *testRelay) user(p domain.Participant, video bool) *testUser {
	bus := &memBus{userID: p.ID, relay: r, subs: make(map[int]chan domain.Envelope)}
	r.mu.Lock()
	r.buses[p.ID] = bus
	r.mu.Unlock()

	u := &testUser{
		self:    p,
		api:     &relayAPI{svc: r.svc, self: p},
		device:  &fakeDevice{},
		factory: &fakeFactory{self: p.ID},
		bus:     bus,
	}
	u.ctrl = NewController(Options{Self: p, Video: video, LeaveTimeout: time.Second}, u.api, u.device, u.factory, bus)
	r.t.Cleanup(func() { _ = u.ctrl.Close(context.Background()) })
	return u
}

func (u *testUser) waitFor(t *testing.T, msg string, cond func(domain.CallSession) bool) domain.CallSession {
	t.Helper()
	var snap domain.CallSession
	require.Eventually(t, func() bool {
		snap = u.ctrl.Snapshot()
		return cond(snap)
	}, testWait, testTick, msg)
	return snap
}

func inState(state domain.CallState) func(domain.CallSession) bool {
	return func(s domain.CallSession) bool { return s.State == state }
}

// memBus is a SignalBus wired straight into testRelay.
type memBus struct {
	userID domain.UserID
	relay  *testRelay

	mu     sync.Mutex
	subs   map[int]chan domain.Envelope
	nextID int
}

func (b *memBus) Send(env domain.Envelope) error {
	return b.relay.svc.HandleMessage(context.Background(), b.userID, env)
}

func (b *memBus) Subscribe() (<-chan domain.Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.Envelope, 1024)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *memBus) deliver(env domain.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.relay.t.Errorf("bus of %s overflowed", b.userID)
		}
	}
}

// relayAPI plays the REST backend by calling the relay service directly.
type relayAPI struct {
	svc  *service.CallService
	self domain.Participant

	startErr error
	joinErr  error
	// gate, when set, holds StartCall until it is closed. entered fires first.
	gate    chan struct{}
	entered chan struct{}
	// leaveGate holds LeaveCall the same way.
	leaveGate    chan struct{}
	leaveEntered chan struct{}

	starts atomic.Int32
	leaves atomic.Int32
}

func (a *relayAPI) StartCall(ctx context.Context, channelID domain.ChannelID) error {
	a.starts.Inc()
	if a.gate != nil {
		a.entered <- struct{}{}
		<-a.gate
	}
	if a.startErr != nil {
		return a.startErr
	}
	_, err := a.svc.StartCall(ctx, a.self, channelID)
	return err
}

func (a *relayAPI) GetCallStatus(ctx context.Context, channelID domain.ChannelID) (*port.CallStatus, error) {
	call, err := a.svc.Status(ctx, a.self.ID, channelID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return &port.CallStatus{ChannelID: channelID}, nil
	}
	return &port.CallStatus{
		Active:         true,
		ChannelID:      call.ChannelID,
		ChannelName:    call.ChannelName,
		InitiatorID:    call.InitiatorID,
		InitiatorName:  call.InitiatorName,
		ParticipantIDs: call.ParticipantIDs(),
		Participants:   call.Participants,
	}, nil
}

func (a *relayAPI) JoinCall(ctx context.Context, channelID domain.ChannelID) (*port.JoinResult, error) {
	if a.joinErr != nil {
		return nil, a.joinErr
	}
	call, err := a.svc.JoinCall(ctx, a.self, channelID)
	if err != nil {
		return nil, err
	}
	return &port.JoinResult{ParticipantIDs: call.ParticipantIDs(), Participants: call.Participants}, nil
}

func (a *relayAPI) LeaveCall(ctx context.Context, channelID domain.ChannelID) error {
	a.leaves.Inc()
	if a.leaveGate != nil {
		a.leaveEntered <- struct{}{}
		<-a.leaveGate
	}
	return a.svc.LeaveCall(ctx, a.self.ID, channelID)
}

type fakeTrack struct {
	kind    domain.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(kind domain.TrackKind) *fakeTrack {
	t := &fakeTrack{kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) Kind() domain.TrackKind        { return t.kind }
func (t *fakeTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *fakeTrack) Stop()                         { t.stopped.Store(true) }
func (t *fakeTrack) Live() bool                    { return !t.stopped.Load() }
func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }

type fakeStream struct {
	id     string
	tracks []port.LocalTrack
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) Tracks() []port.LocalTrack { return s.tracks }

type fakeDevice struct {
	deny atomic.Bool
	// gate, when set, holds GetUserMedia until it is closed. entered fires first.
	gate    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	streams []*fakeStream
}

func (d *fakeDevice) GetUserMedia(_ context.Context, c port.MediaConstraints) (port.LocalStream, error) {
	if d.deny.Load() {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, "permission dismissed")
	}
	if d.gate != nil {
		d.entered <- struct{}{}
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{id: fmt.Sprintf("local-%d", len(d.streams))}
	if c.Audio {
		s.tracks = append(s.tracks, newFakeTrack(domain.TrackAudio))
	}
	if c.Video {
		s.tracks = append(s.tracks, newFakeTrack(domain.TrackVideo))
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeDevice) liveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		for _, t := range s.tracks {
			if t.Live() {
				n++
			}
		}
	}
	return n
}

func (d *fakeDevice) track(kind domain.TrackKind) port.LocalTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	for _, t := range d.streams[len(d.streams)-1].tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

type fakeFactory struct {
	self domain.UserID

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer(remoteID domain.UserID, cb port.PeerCallbacks) (port.PeerConnection, error) {
	p := &fakePeer{self: f.self, remote: remoteID, cb: cb}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.peers {
		if !p.isClosed() {
			n++
		}
	}
	return n
}

// fakePeer negotiates with plain strings. Once both descriptions are set it
// emits a candidate, an audio track and a connected state, like a transport would.
type fakePeer struct {
	self   domain.UserID
	remote domain.UserID
	cb     port.PeerCallbacks

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	streams    int
	closed     bool
	fired      bool
}

func (p *fakePeer) AddStream(port.LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams++
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s>%s", p.self, p.remote)}
	p.local = &d
	p.maybeConnect()
	return d, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil || p.remoteDesc.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s>%s", p.self, p.remote)}
	p.local = &d
	p.maybeConnect()
	return d, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.remoteDesc = &desc
	p.maybeConnect()
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) BytesReceived() uint64 { return 0 }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *fakePeer) maybeConnect() {
	if p.fired || p.local == nil || p.remoteDesc == nil {
		return
	}
	p.fired = true
	remote := p.remote
	go func() {
		p.cb.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 9 typ host"})
		p.cb.OnTrack(fakeRemoteTrack{id: "audio-" + remote.String(), stream: "stream-" + remote.String(), kind: domain.TrackAudio})
		p.cb.OnStateChange(webrtc.PeerConnectionStateConnected)
	}()
}

type fakeRemoteTrack struct {
	id     string
	stream string
	kind   domain.TrackKind
}

func (t fakeRemoteTrack) ID() string             { return t.id }
func (t fakeRemoteTrack) StreamID() string       { return t.stream }
func (t fakeRemoteTrack) Kind() domain.TrackKind { return t.kind }
