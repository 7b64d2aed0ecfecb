package ws

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient(nil, "alice")
	env := domain.Envelope{Event: domain.EventLeave}

	require.NoError(t, c.Send(env))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(env), ErrClientClosed)
}

func TestClientSlowConsumerIsClosed(t *testing.T) {
	c := NewClient(nil, "bob")
	env := domain.Envelope{Event: domain.EventLeave}

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, c.Send(env))
	}
	require.ErrorIs(t, c.Send(env), ErrSlowClient)
	require.ErrorIs(t, c.Send(env), ErrClientClosed)
}
