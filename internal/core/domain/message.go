package domain

import (
	"errors"
	"time"
)

type Message struct {
	ID          MessageID
	SenderID    UserID
	RecipientID UserID
	Content     string
	CreatedAt   time.Time
}

func NewMessage(senderID, recipientID UserID, content string, now time.Time) (*Message, error) {
	if content == "" {
		return nil, errors.New("message content cannot be empty")
	}
	if recipientID == "" {
		return nil, errors.New("message recipient cannot be empty")
	}
	return &Message{
		ID:          NewMessageID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   now,
	}, nil
}
