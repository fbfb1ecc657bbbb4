package port

import (
	"context"
	"errors"
	"time"

	"github.com/pulsechat/pulse/internal/core/domain"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrForbidden      = errors.New("forbidden")
)

// CallRecordSink is the durable store the hub writes call lifecycle snapshots
// to. Writes are fire-and-forget from the hub's point of view: errors are
// logged by the caller and never block or fail the live protocol.
type CallRecordSink interface {
	Create(ctx context.Context, s domain.CallSession) error
	Update(ctx context.Context, s domain.CallSession) error
}

// CallStats aggregates a user's call records over a period.
type CallStats struct {
	TotalCalls    int     `json:"totalCalls"`
	VoiceCalls    int     `json:"voiceCalls"`
	VideoCalls    int     `json:"videoCalls"`
	MissedCalls   int     `json:"missedCalls"`
	AnsweredCalls int     `json:"answeredCalls"`
	TotalDuration int     `json:"totalDuration"`
	AvgDuration   int     `json:"avgDuration"`
	AnswerRate    float64 `json:"answerRate"`
}

// CallHistory is the query side of the call store, serving the REST API.
type CallHistory interface {
	// ListByUser returns a page of the user's calls, newest first, optionally
	// filtered by call type, together with the total count.
	ListByUser(ctx context.Context, userID domain.UserID, callType domain.CallType, page, limit int) ([]domain.CallSession, int, error)

	// Stats aggregates the user's calls created at or after since.
	Stats(ctx context.Context, userID domain.UserID, since time.Time) (CallStats, error)

	// Active returns the user's non-terminal calls, newest first.
	Active(ctx context.Context, userID domain.UserID) ([]domain.CallSession, error)

	// Delete removes one call record. Only a participant may delete it.
	Delete(ctx context.Context, callID domain.CallID, userID domain.UserID) error
}
