package domain

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// UserID identifies a chat user. Backends hand these out as strings or as
// plain numbers, both decode to the same UserID.
type UserID string

// ChannelID identifies a chat channel. A channel hosts at most one group call,
// so it doubles as the call session id.
type ChannelID string

// ConnID identifies one websocket connection on the relay.
type ConnID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (id UserID) String() string {
	return string(id)
}

func (id ChannelID) String() string {
	return string(id)
}

func (id ConnID) String() string {
	return uuid.UUID(id).String()
}

func (id *UserID) UnmarshalJSON(b []byte) error {
	s, err := looseString(b)
	if err != nil {
		return err
	}
	*id = UserID(s)
	return nil
}

func (id *ChannelID) UnmarshalJSON(b []byte) error {
	s, err := looseString(b)
	if err != nil {
		return err
	}
	*id = ChannelID(s)
	return nil
}

// looseString accepts a JSON string, number or null.
func looseString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		err := json.Unmarshal(b, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
