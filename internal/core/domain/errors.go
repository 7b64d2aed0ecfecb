package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAccessDenied is returned when the capture device is refused or missing.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrSessionRegistrationFailed is returned when the backend rejects a start or join.
	ErrSessionRegistrationFailed = errors.New("session registration failed")
	// ErrStaleMessage classifies signaling that does not belong to the current session.
	// It is only ever logged, never returned to a caller.
	ErrStaleMessage = errors.New("stale message")

	ErrNoLocalUser    = errors.New("no local user")
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNotIncoming    = errors.New("no incoming call to dismiss")
	ErrSessionAborted = errors.New("call session aborted")
	ErrMeshFull       = errors.New("mesh is at capacity")

	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("not a member of this channel")
	ErrNotAdmin        = errors.New("only channel admins can start group calls")
	ErrCallExists      = errors.New("a group call is already active in this channel")
	ErrCallNotFound    = errors.New("no active call in this channel")
	ErrCallFull        = errors.New("group call is full")
	ErrBadRequest      = errors.New("bad request")
)

// NegotiationError reports a failed offer/answer/ICE step on one peer link.
// It never affects the rest of the session.
type NegotiationError struct {
	RemoteID UserID
	Step     string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed at %s: %v", e.RemoteID, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the call REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("call api: %d %s", e.Status, e.Message)
}
