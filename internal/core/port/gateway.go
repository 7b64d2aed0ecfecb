package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RealTimeGateway reaches connected users on the relay.
type RealTimeGateway interface {
	// SendToUser delivers one event to the user's current connection.
	// A user without a connection is not an error, the message is dropped.
	SendToUser(ctx context.Context, userID domain.UserID, event domain.Event, payload any) error
	IsOnline(userID domain.UserID) bool
}
