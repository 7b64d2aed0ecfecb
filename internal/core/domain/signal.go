package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Event names a message on the signaling bus.
type Event string

const (
	EventCallStarted       Event = "group-call-started"
	EventParticipantJoined Event = "group-call-participant-joined"
	EventParticipantLeft   Event = "group-call-participant-left"
	EventCallLeft          Event = "group-call-left"
	EventCallEnded         Event = "group-call-ended"
	EventOffer             Event = "group-call-webrtc-offer"
	EventAnswer            Event = "group-call-webrtc-answer"
	EventICE               Event = "group-call-webrtc-ice"
	EventLeave             Event = "group-call-leave"
)

// IsPeerSignal reports whether the event is relayed client to client.
func (e Event) IsPeerSignal() bool {
	return e == EventOffer || e == EventAnswer || e == EventICE
}

// Envelope is the wire frame of the signaling bus.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewEnvelope(ev Event, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: ev, Data: data}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type CallStarted struct {
	ChannelID     ChannelID `json:"channelId"`
	ChannelName   string    `json:"channelName"`
	InitiatorID   UserID    `json:"initiatorId"`
	InitiatorName string    `json:"initiatorName"`
}

type ParticipantJoined struct {
	ChannelID      ChannelID     `json:"channelId"`
	ChannelName    string        `json:"channelName,omitempty"`
	JoinerID       UserID        `json:"joinerId"`
	JoinerName     string        `json:"joinerName"`
	ParticipantIDs []UserID      `json:"participantIds"`
	Participants   []Participant `json:"participants,omitempty"`
}

type ParticipantLeft struct {
	ChannelID      ChannelID `json:"channelId"`
	UserID         UserID    `json:"userId"`
	ParticipantIDs []UserID  `json:"participantIds"`
}

// CallLeft confirms to the leaver that the relay removed them.
type CallLeft struct {
	ChannelID      ChannelID `json:"channelId"`
	UserID         UserID    `json:"userId,omitempty"`
	ParticipantIDs []UserID  `json:"participantIds,omitempty"`
}

type CallEnded struct {
	ChannelID ChannelID `json:"channelId"`
}

// SessionDescription carries an offer or an answer between two participants.
type SessionDescription struct {
	ChannelID  ChannelID                  `json:"channelId"`
	ToUserID   UserID                     `json:"toUserId"`
	FromUserID UserID                     `json:"fromUserId,omitempty"`
	SDP        *webrtc.SessionDescription `json:"sdp"`
}

type ICECandidate struct {
	ChannelID  ChannelID                `json:"channelId"`
	ToUserID   UserID                   `json:"toUserId"`
	FromUserID UserID                   `json:"fromUserId,omitempty"`
	Candidate  *webrtc.ICECandidateInit `json:"candidate"`
}

type LeaveRequest struct {
	ChannelID ChannelID `json:"channelId"`
}

// PeerSignal is the routing header shared by offer, answer and ICE payloads.
type PeerSignal struct {
	ChannelID  ChannelID `json:"channelId"`
	ToUserID   UserID    `json:"toUserId"`
	FromUserID UserID    `json:"fromUserId,omitempty"`
}
