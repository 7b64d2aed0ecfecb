package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallStatus struct {
	Active         bool
	ChannelID      domain.ChannelID
	ChannelName    string
	InitiatorID    domain.UserID
	InitiatorName  string
	ParticipantIDs []domain.UserID
	Participants   []domain.Participant
}

type JoinResult struct {
	ParticipantIDs []domain.UserID
	Participants   []domain.Participant
}

// CallAPI is the stateless session registration API of the backend.
type CallAPI interface {
	StartCall(ctx context.Context, channelID domain.ChannelID) error
	GetCallStatus(ctx context.Context, channelID domain.ChannelID) (*CallStatus, error)
	JoinCall(ctx context.Context, channelID domain.ChannelID) (*JoinResult, error)
	LeaveCall(ctx context.Context, channelID domain.ChannelID) error
}
