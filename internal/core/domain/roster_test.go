package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRosterReplaceDedupesAndKeepsSelf(t *testing.T) {
	r := NewRoster(Participant{ID: "a", Name: "Alice"})

	r.Replace([]Participant{{ID: "b", Name: "Bob"}, {ID: "b", Name: "Bobby"}, {ID: "c"}})

	require.Equal(t, []Participant{
		{ID: "a", Name: "Alice"},
		{ID: "b", Name: "Bob"},
		{ID: "c", Name: DefaultUserName},
	}, r.List())
	require.ElementsMatch(t, []UserID{"b", "c"}, r.Remotes())
}

func TestRosterReplaceIDsReusesKnownNames(t *testing.T) {
	r := NewRoster(Participant{ID: "a"})
	r.Replace([]Participant{{ID: "a"}, {ID: "b", Name: "Bob"}, {ID: "c", Name: "Carol"}})

	r.ReplaceIDs([]UserID{"a", "c", "d"}, map[UserID]string{"d": "Dave"})

	require.Equal(t, []Participant{
		{ID: "a", Name: DefaultSelfName},
		{ID: "c", Name: "Carol"},
		{ID: "d", Name: "Dave"},
	}, r.List())
	require.False(t, r.Has("b"))
}

func TestRosterReplaceEmptyClears(t *testing.T) {
	r := NewRoster(Participant{ID: "a"})
	r.Replace([]Participant{{ID: "a"}, {ID: "b"}})
	require.Equal(t, 2, r.Len())

	r.Replace(nil)
	require.Zero(t, r.Len())
	require.Empty(t, r.Remotes())
}

func TestCallRemove(t *testing.T) {
	c := &Call{Participants: []Participant{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	require.True(t, c.Remove("b"))
	require.False(t, c.Remove("b"))
	require.Equal(t, []UserID{"a", "c"}, c.ParticipantIDs())
}

func TestChannelAdmins(t *testing.T) {
	open := &Channel{Members: []Participant{{ID: "a"}, {ID: "b"}}}
	require.True(t, open.IsAdmin("b"))
	require.False(t, open.IsAdmin("z"))

	restricted := &Channel{Members: []Participant{{ID: "a"}, {ID: "b"}}, Admins: []UserID{"a"}}
	require.True(t, restricted.IsAdmin("a"))
	require.False(t, restricted.IsAdmin("b"))
}
