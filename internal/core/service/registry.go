package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pulsechat/pulse/internal/core/domain"
)

// liveCall pairs a session with the ring timer armed for it. The timer lives
// here so that stopping it happens under the same lock as the state
// transition that makes it obsolete.
type liveCall struct {
	session   *domain.CallSession
	ringTimer *time.Timer
}

// Registry is the single piece of shared mutable state in the signaling
// subsystem: live sessions keyed by call ID, plus one slot per occupied user.
// Every mutation runs in one critical section, which is what makes Reserve a
// true check-and-set instead of a racy check-then-set. Critical sections only
// touch maps; persistence and notification happen outside.
type Registry struct {
	mu    sync.Mutex
	calls map[domain.CallID]*liveCall
	slots map[domain.UserID]domain.CallID
}

func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[domain.CallID]*liveCall),
		slots: make(map[domain.UserID]domain.CallID),
	}
}

// Reserve atomically claims both user slots and creates a new session in
// status initiated. Exactly one of two concurrent reservations touching the
// same user can succeed.
func (r *Registry) Reserve(caller, receiver domain.UserID, callType domain.CallType, now time.Time) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.slots[caller]; busy {
		return domain.CallSession{}, domain.ErrCallerAlreadyInCall
	}
	if _, busy := r.slots[receiver]; busy {
		return domain.CallSession{}, domain.ErrReceiverBusy
	}

	s := domain.NewCallSession(caller, receiver, callType, now)
	r.calls[s.CallID] = &liveCall{session: s}
	r.slots[caller] = s.CallID
	r.slots[receiver] = s.CallID
	return s.Snapshot(), nil
}

// Get returns a snapshot of a live session.
func (r *Registry) Get(callID domain.CallID) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok {
		return domain.CallSession{}, false
	}
	return lc.session.Snapshot(), true
}

func (r *Registry) IsOccupied(userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.slots[userID]
	return ok
}

// CallFor returns the call currently occupying a user, if any.
func (r *Registry) CallFor(userID domain.UserID) (domain.CallID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.slots[userID]
	return id, ok
}

// ArmRingTimer attaches the ring timer for a call so a later transition can
// stop it under the lock. No-op if the call is already gone.
func (r *Registry) ArmRingTimer(callID domain.CallID, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok {
		// Terminated before the timer was attached; disarm it.
		t.Stop()
		return
	}
	lc.ringTimer = t
}

// MarkRinging moves a freshly reserved session from initiated to ringing.
func (r *Registry) MarkRinging(callID domain.CallID) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok || lc.session.Status != domain.StatusInitiated {
		return domain.CallSession{}, domain.ErrCallNotFound
	}
	lc.session.Status = domain.StatusRinging
	return lc.session.Snapshot(), nil
}

// Answer transitions ringing -> answered and cancels the ring timer. A call
// that already left ringing is a stale reference.
func (r *Registry) Answer(callID domain.CallID, now time.Time) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok || lc.session.Status != domain.StatusRinging {
		return domain.CallSession{}, domain.ErrCallNotFound
	}
	if lc.ringTimer != nil {
		lc.ringTimer.Stop()
		lc.ringTimer = nil
	}
	lc.session.MarkAnswered(now)
	return lc.session.Snapshot(), nil
}

// Terminate moves a live session into a terminal status, stops its ring
// timer, and releases both user slots, all in one critical section. The
// returned snapshot carries the final state. Calling it again for the same
// call is a no-op returning ErrCallNotFound.
func (r *Registry) Terminate(callID domain.CallID, status domain.CallStatus, reason domain.EndReason, stats json.RawMessage, now time.Time) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok {
		return domain.CallSession{}, domain.ErrCallNotFound
	}
	if lc.ringTimer != nil {
		lc.ringTimer.Stop()
		lc.ringTimer = nil
	}
	if stats != nil {
		lc.session.ConnectionStats = stats
	}
	lc.session.MarkTerminated(status, reason, now)
	snap := lc.session.Snapshot()
	r.releaseLocked(callID, lc)
	return snap, nil
}

// Expire is the ring-timeout variant of Terminate: it only fires if the call
// is still ringing, so a timer racing an in-flight answer loses cleanly.
func (r *Registry) Expire(callID domain.CallID, now time.Time) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok || lc.session.Status != domain.StatusRinging {
		return domain.CallSession{}, domain.ErrCallNotFound
	}
	lc.session.MarkTerminated(domain.StatusMissed, domain.EndTimeout, now)
	snap := lc.session.Snapshot()
	r.releaseLocked(callID, lc)
	return snap, nil
}

// AttachQuality stores a quality report on a live session without changing
// its status.
func (r *Registry) AttachQuality(callID domain.CallID, quality json.RawMessage) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok {
		return domain.CallSession{}, domain.ErrCallNotFound
	}
	lc.session.Quality = quality
	return lc.session.Snapshot(), nil
}

// Release removes the session entry and both user slots. Idempotent.
func (r *Registry) Release(callID domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.calls[callID]
	if !ok {
		return
	}
	if lc.ringTimer != nil {
		lc.ringTimer.Stop()
		lc.ringTimer = nil
	}
	r.releaseLocked(callID, lc)
}

func (r *Registry) releaseLocked(callID domain.CallID, lc *liveCall) {
	// A user's slot may already point at a newer call; only clear it when it
	// still belongs to this one.
	if id, ok := r.slots[lc.session.CallerID]; ok && id == callID {
		delete(r.slots, lc.session.CallerID)
	}
	if id, ok := r.slots[lc.session.ReceiverID]; ok && id == callID {
		delete(r.slots, lc.session.ReceiverID)
	}
	delete(r.calls, callID)
}
