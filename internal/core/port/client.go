package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Client is one relay connection.
type Client interface {
	ID() domain.ConnID
	UserID() domain.UserID
	Send(env domain.Envelope) error
	Close() error
}
