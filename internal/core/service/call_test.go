package service

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"unicode"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/adapter/driven/directory/static"
	"github.com/Wyydra/yacall/internal/adapter/driven/registry/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
)

type sent struct {
	to      domain.UserID
	event   domain.Event
	payload any
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sent
}

func (g *recordingGateway) SendToUser(_ context.Context, userID domain.UserID, event domain.Event, payload any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sent{to: userID, event: event, payload: payload})
	return nil
}

func (g *recordingGateway) IsOnline(domain.UserID) bool { return true }

func (g *recordingGateway) take() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.sent
	g.sent = nil
	return out
}

func recipients(msgs []sent, ev domain.Event) []domain.UserID {
	var out []domain.UserID
	for _, m := range msgs {
		if m.event == ev {
			out = append(out, m.to)
		}
	}
	return out
}

var (
	alice = domain.Participant{ID: "a", Name: "Alice"}
	bob   = domain.Participant{ID: "b", Name: "Bob"}
	carol = domain.Participant{ID: "c", Name: "Carol"}
	dave  = domain.Participant{ID: "d"}
)

func newTestService(max int) (*CallService, *recordingGateway) {
	dir := static.NewDirectory([]domain.Channel{
		{
			ID:      "c1",
			Name:    "general",
			Members: []domain.Participant{alice, bob, carol, {ID: "d", Name: "Dave"}},
		},
		{
			ID:      "c2",
			Members: []domain.Participant{alice, bob},
			Admins:  []domain.UserID{"a"},
		},
	})
	gw := &recordingGateway{}
	return NewCallService(memory.NewCallRepository(), dir, gw, nil, max), gw
}

func TestStartCall(t *testing.T) {
	ctx := context.Background()
	svc, gw := newTestService(0)

	call, err := svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	require.Equal(t, "general", call.ChannelName)
	require.Equal(t, []domain.UserID{"a"}, call.ParticipantIDs())
	require.ElementsMatch(t, []domain.UserID{"b", "c", "d"}, recipients(gw.take(), domain.EventCallStarted))

	_, err = svc.StartCall(ctx, bob, "c1")
	require.ErrorIs(t, err, domain.ErrCallExists)

	_, err = svc.StartCall(ctx, alice, "missing")
	require.ErrorIs(t, err, domain.ErrChannelNotFound)

	_, err = svc.StartCall(ctx, domain.Participant{ID: "x"}, "c1")
	require.ErrorIs(t, err, domain.ErrNotMember)

	_, err = svc.StartCall(ctx, bob, "c2")
	require.ErrorIs(t, err, domain.ErrNotAdmin)
}

func TestJoinCall(t *testing.T) {
	ctx := context.Background()
	svc, gw := newTestService(0)

	_, err := svc.JoinCall(ctx, bob, "c1")
	require.ErrorIs(t, err, domain.ErrCallNotFound)

	_, err = svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	gw.take()

	call, err := svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	require.Equal(t, []domain.UserID{"a", "b"}, call.ParticipantIDs())

	msgs := gw.take()
	require.ElementsMatch(t, []domain.UserID{"a", "b"}, recipients(msgs, domain.EventParticipantJoined))
	joined := msgs[0].payload.(domain.ParticipantJoined)
	require.Equal(t, domain.UserID("b"), joined.JoinerID)
	require.Equal(t, "Bob", joined.JoinerName)
	require.Len(t, joined.Participants, 2)

	// joining twice is a no-op
	call, err = svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	require.Len(t, call.Participants, 2)
	require.Empty(t, gw.take())

	// names come from the directory when the caller has none
	call, err = svc.JoinCall(ctx, dave, "c1")
	require.NoError(t, err)
	require.Equal(t, "Dave", call.Participants[2].Name)
}

func TestJoinCallFull(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(2)

	_, err := svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, carol, "c1")
	require.ErrorIs(t, err, domain.ErrCallFull)
}

func TestLeaveCall(t *testing.T) {
	ctx := context.Background()
	svc, gw := newTestService(0)

	require.NoError(t, svc.LeaveCall(ctx, "a", "c1"), "leaving without a call succeeds")

	_, err := svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, carol, "c1")
	require.NoError(t, err)
	gw.take()

	require.NoError(t, svc.LeaveCall(ctx, "b", "c1"))
	msgs := gw.take()
	require.ElementsMatch(t, []domain.UserID{"a", "c"}, recipients(msgs, domain.EventParticipantLeft))
	require.Equal(t, []domain.UserID{"b"}, recipients(msgs, domain.EventCallLeft))
	for _, m := range msgs {
		if m.event == domain.EventParticipantLeft {
			require.Equal(t, []domain.UserID{"a", "c"}, m.payload.(domain.ParticipantLeft).ParticipantIDs)
		}
	}

	status, err := svc.Status(ctx, "a", "c1")
	require.NoError(t, err)
	require.Equal(t, []domain.UserID{"a", "c"}, status.ParticipantIDs())

	// the initiator leaving ends the call for every member
	require.NoError(t, svc.LeaveCall(ctx, "a", "c1"))
	require.ElementsMatch(t, []domain.UserID{"a", "b", "c", "d"}, recipients(gw.take(), domain.EventCallEnded))

	status, err = svc.Status(ctx, "a", "c1")
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	svc, gw := newTestService(0)

	offer, err := domain.NewEnvelope(domain.EventOffer, domain.SessionDescription{
		ChannelID:  "c1",
		ToUserID:   "b",
		FromUserID: "spoofed",
		SDP:        &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandleMessage(ctx, "a", offer))

	msgs := gw.take()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.UserID("b"), msgs[0].to)
	require.Equal(t, domain.UserID("a"), msgs[0].payload.(domain.SessionDescription).FromUserID)

	noSDP := domain.Envelope{Event: domain.EventAnswer, Data: json.RawMessage(`{"channelId":"c1","toUserId":"b"}`)}
	require.ErrorIs(t, svc.HandleMessage(ctx, "a", noSDP), domain.ErrBadRequest)

	noTarget := domain.Envelope{Event: domain.EventICE, Data: json.RawMessage(`{"channelId":"c1","candidate":{"candidate":"x"}}`)}
	require.ErrorIs(t, svc.HandleMessage(ctx, "a", noTarget), domain.ErrBadRequest)

	require.ErrorIs(t, svc.Forward(ctx, "", offer), domain.ErrBadRequest)
	require.Empty(t, gw.take())
}

func TestLeaveMessageAndDisconnect(t *testing.T) {
	ctx := context.Background()
	svc, gw := newTestService(0)

	_, err := svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, carol, "c1")
	require.NoError(t, err)
	gw.take()

	leave, err := domain.NewEnvelope(domain.EventLeave, domain.LeaveRequest{ChannelID: "c1"})
	require.NoError(t, err)
	require.NoError(t, svc.HandleMessage(ctx, "c", leave))
	require.Equal(t, []domain.UserID{"c"}, recipients(gw.take(), domain.EventCallLeft))

	svc.Disconnect(ctx, "b")
	status, err := svc.Status(ctx, "a", "c1")
	require.NoError(t, err)
	require.Equal(t, []domain.UserID{"a"}, status.ParticipantIDs())
}

func TestCallLifecycleLogs(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	ctx := context.Background()
	svc, _ := newTestService(0)
	_, err := svc.StartCall(ctx, alice, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, bob, "c1")
	require.NoError(t, err)
	_, err = svc.JoinCall(ctx, carol, "c1")
	require.NoError(t, err)
	require.NoError(t, svc.LeaveCall(ctx, carol.ID, "c1"))
	require.NoError(t, svc.LeaveCall(ctx, alice.ID, "c1"))

	var messages []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line struct {
			Message string `json:"message"`
		}
		require.NoError(t, dec.Decode(&line))
		messages = append(messages, line.Message)
		require.NotEmpty(t, line.Message)
		require.True(t, unicode.IsUpper([]rune(line.Message)[0]), "log message %q is not capitalised", line.Message)
	}
	require.Equal(t, []string{
		"Group call started",
		"Participant joined group call",
		"Participant joined group call",
		"Participant left group call",
		"Group call ended",
	}, messages)
}
