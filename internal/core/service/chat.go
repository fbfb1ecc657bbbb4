package service

import (
	"context"
	"time"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

// ChatService is the ordinary messaging plumbing surrounding the call
// subsystem: save the message, then push it to the recipient's channel.
type ChatService struct {
	repo    port.MessageRepository
	channel port.MessageChannel
}

func NewChatService(repo port.MessageRepository, channel port.MessageChannel) *ChatService {
	return &ChatService{
		repo:    repo,
		channel: channel,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, senderID, recipientID domain.UserID, content string) (*domain.Message, error) {
	msg, err := domain.NewMessage(senderID, recipientID, content, time.Now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, *msg); err != nil {
		return nil, err
	}

	s.channel.Send(ctx, recipientID, domain.EventNewMessage, map[string]string{
		"id":       msg.ID.String(),
		"senderId": msg.SenderID.String(),
		"content":  msg.Content,
	})
	return msg, nil
}

func (s *ChatService) Conversation(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListConversation(ctx, a, b, limit)
}
