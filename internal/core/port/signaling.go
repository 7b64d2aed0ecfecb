package port

import "github.com/Wyydra/yacall/internal/core/domain"

// SignalBus is the client end of the relay message bus.
type SignalBus interface {
	// Send is fire-and-forget; it must not block on the network.
	Send(env domain.Envelope) error
	// Subscribe returns inbound envelopes in relay order. The channel is
	// closed when the bus shuts down or cancel is called.
	Subscribe() (ch <-chan domain.Envelope, cancel func())
}
