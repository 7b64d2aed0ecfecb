package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// CallRegistry stores the active group calls of the relay.
type CallRegistry interface {
	// Get returns domain.ErrCallNotFound when the channel has no call.
	Get(ctx context.Context, channelID domain.ChannelID) (*domain.Call, error)
	// Create returns domain.ErrCallExists when the channel already has a call.
	Create(ctx context.Context, call *domain.Call) error
	Save(ctx context.Context, call *domain.Call) error
	Delete(ctx context.Context, channelID domain.ChannelID) error
	List(ctx context.Context) ([]*domain.Call, error)
}

// ChannelDirectory resolves chat channels and their members.
type ChannelDirectory interface {
	// Channel returns domain.ErrChannelNotFound for unknown ids.
	Channel(ctx context.Context, channelID domain.ChannelID) (*domain.Channel, error)
}
