package port

import (
	"context"

	"github.com/pulsechat/pulse/internal/core/domain"
)

// MessageChannel abstracts the per-user realtime transport. Send is
// fire-and-forget: delivery to a user whose channel has closed is silently
// dropped, and no failure ever propagates back into protocol logic.
type MessageChannel interface {
	Send(ctx context.Context, userID domain.UserID, event string, payload any)
	IsOpen(userID domain.UserID) bool
}
