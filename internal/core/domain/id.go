package domain

import (
	"github.com/google/uuid"
)

// UserID is the authenticated identity of a connected user. It comes from
// the auth token, not from the connection, so reconnects keep the same ID.
type UserID string

func (id UserID) String() string {
	return string(id)
}

type CallID uuid.UUID

func NewCallID() CallID {
	return CallID(uuid.New())
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CallID{}, err
	}
	return CallID(id), nil
}

func (id CallID) String() string {
	return uuid.UUID(id).String()
}

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}
