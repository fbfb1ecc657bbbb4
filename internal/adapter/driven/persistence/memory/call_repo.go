package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

// CallRepository is the in-memory call record store: the sink the hub writes
// lifecycle snapshots to, and the query side behind the history API.
type CallRepository struct {
	mu    sync.Mutex
	calls map[domain.CallID]domain.CallSession
	order []domain.CallID
}

func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[domain.CallID]domain.CallSession),
	}
}

func (r *CallRepository) Create(ctx context.Context, s domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[s.CallID]; !exists {
		r.order = append(r.order, s.CallID)
	}
	r.calls[s.CallID] = s
	return nil
}

func (r *CallRepository) Update(ctx context.Context, s domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[s.CallID]; !exists {
		// An update racing ahead of its create still lands; snapshots are
		// complete records, not deltas.
		r.order = append(r.order, s.CallID)
	}
	r.calls[s.CallID] = s
	return nil
}

// Get returns a stored record. Used by tests and diagnostics.
func (r *CallRepository) Get(callID domain.CallID) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.calls[callID]
	return s, ok
}

func (r *CallRepository) userCallsLocked(userID domain.UserID) []domain.CallSession {
	out := make([]domain.CallSession, 0)
	for _, id := range r.order {
		s := r.calls[id]
		if s.Involves(userID) {
			out = append(out, s)
		}
	}
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (r *CallRepository) ListByUser(ctx context.Context, userID domain.UserID, callType domain.CallType, page, limit int) ([]domain.CallSession, int, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.userCallsLocked(userID)
	if callType != "" {
		filtered := all[:0]
		for _, s := range all {
			if s.CallType == callType {
				filtered = append(filtered, s)
			}
		}
		all = filtered
	}

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return append([]domain.CallSession(nil), all[start:end]...), total, nil
}

func (r *CallRepository) Stats(ctx context.Context, userID domain.UserID, since time.Time) (port.CallStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats port.CallStats
	for _, s := range r.userCallsLocked(userID) {
		if s.StartTime.Before(since) {
			continue
		}
		stats.TotalCalls++
		switch s.CallType {
		case domain.CallTypeVoice:
			stats.VoiceCalls++
		case domain.CallTypeVideo:
			stats.VideoCalls++
		}
		switch s.Status {
		case domain.StatusMissed:
			stats.MissedCalls++
		case domain.StatusAnswered, domain.StatusEnded:
			if !s.ConnectedAt.IsZero() {
				stats.AnsweredCalls++
				stats.TotalDuration += s.Duration
			}
		}
	}
	if stats.AnsweredCalls > 0 {
		stats.AvgDuration = stats.TotalDuration / stats.AnsweredCalls
	}
	if stats.TotalCalls > 0 {
		stats.AnswerRate = float64(stats.AnsweredCalls) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

func (r *CallRepository) Active(ctx context.Context, userID domain.UserID) ([]domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.CallSession, 0)
	for _, s := range r.userCallsLocked(userID) {
		if !s.Status.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *CallRepository) Delete(ctx context.Context, callID domain.CallID, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.calls[callID]
	if !ok {
		return port.ErrRecordNotFound
	}
	if !s.Involves(userID) {
		return port.ErrForbidden
	}
	delete(r.calls, callID)
	for i, id := range r.order {
		if id == callID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
