package port

import (
	"context"

	"github.com/pulsechat/pulse/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error

	// ListConversation returns the most recent messages exchanged between two
	// users, oldest first.
	ListConversation(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error)
}
