package ws

import "github.com/pulsechat/pulse/internal/core/domain"

// Client is one authenticated realtime connection.
type Client interface {
	UserID() domain.UserID
	Send(event string, payload any) error
	Close() error
}
