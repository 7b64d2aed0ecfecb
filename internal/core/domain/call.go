package domain

import "time"

// CallState is the client-side state of a group call session.
type CallState string

const (
	StateIdle     CallState = "idle"     // no call
	StateWaiting  CallState = "waiting"  // we started, nobody joined yet
	StateIncoming CallState = "incoming" // someone else started, we have not answered
	StateJoined   CallState = "joined"   // we joined, roster not confirmed yet
	StateActive   CallState = "active"   // at least one remote participant
)

// InSession reports whether the local user holds media and is a member of the call.
func (s CallState) InSession() bool {
	return s == StateWaiting || s == StateJoined || s == StateActive
}

const (
	DefaultChannelName   = "Group"
	DefaultSelfName      = "You"
	DefaultInitiatorName = "Someone"
	DefaultUserName      = "User"
)

type Participant struct {
	ID   UserID `json:"id"`
	Name string `json:"name,omitempty"`
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type TrackInfo struct {
	ID   string
	Kind TrackKind
}

// RemoteStream is the inbound media of one remote participant.
type RemoteStream struct {
	ParticipantID UserID
	StreamID      string
	Tracks        []TrackInfo
}

// CallSession is a point-in-time copy of the client session.
type CallSession struct {
	ChannelID     ChannelID
	ChannelName   string
	State         CallState
	InitiatorID   UserID
	InitiatorName string
	Participants  []Participant
	LocalMuted    bool
	VideoEnabled  bool
	Error         string
	PeerLinks     []UserID
	RemoteStreams map[UserID]RemoteStream
}

// Call is the relay's record of an active group call.
type Call struct {
	ChannelID     ChannelID     `json:"channelId"`
	ChannelName   string        `json:"channelName"`
	InitiatorID   UserID        `json:"initiatorId"`
	InitiatorName string        `json:"initiatorName"`
	Participants  []Participant `json:"participants"`
	StartedAt     time.Time     `json:"startedAt"`
}

func (c *Call) ParticipantIDs() []UserID {
	ids := make([]UserID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *Call) Has(id UserID) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Remove drops id from the participants and reports whether it was present.
func (c *Call) Remove(id UserID) bool {
	for i, p := range c.Participants {
		if p.ID == id {
			c.Participants = append(c.Participants[:i:i], c.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// Channel is a chat channel as seen by the relay.
type Channel struct {
	ID      ChannelID
	Name    string
	Members []Participant
	Admins  []UserID
}

func (c *Channel) IsMember(id UserID) bool {
	for _, m := range c.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// IsAdmin reports whether id may start calls. Channels without admins let any member start.
func (c *Channel) IsAdmin(id UserID) bool {
	if len(c.Admins) == 0 {
		return c.IsMember(id)
	}
	for _, a := range c.Admins {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Channel) MemberName(id UserID) string {
	for _, m := range c.Members {
		if m.ID == id && m.Name != "" {
			return m.Name
		}
	}
	return DefaultUserName
}

func (c *Channel) MemberIDs() []UserID {
	ids := make([]UserID, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}
