package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParticipantJoinedAcceptsNumericIDs(t *testing.T) {
	env := Envelope{
		Event: EventParticipantJoined,
		Data:  []byte(`{"channelId":42,"joinerId":7,"joinerName":"Bob","participantIds":[3,"7"],"participants":[{"id":3,"name":"Ann"},{"id":"7"}]}`),
	}

	var msg ParticipantJoined
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, ChannelID("42"), msg.ChannelID)
	require.Equal(t, UserID("7"), msg.JoinerID)
	require.Equal(t, []UserID{"3", "7"}, msg.ParticipantIDs)
	require.Equal(t, []Participant{{ID: "3", Name: "Ann"}, {ID: "7"}}, msg.Participants)
}

func TestNullIDDecodesEmpty(t *testing.T) {
	var msg CallEnded
	require.NoError(t, Envelope{Data: []byte(`{"channelId":null}`)}.Decode(&msg))
	require.Empty(t, msg.ChannelID)
}

func TestIsPeerSignal(t *testing.T) {
	require.True(t, EventOffer.IsPeerSignal())
	require.True(t, EventICE.IsPeerSignal())
	require.False(t, EventLeave.IsPeerSignal())
	require.False(t, EventCallStarted.IsPeerSignal())
}
