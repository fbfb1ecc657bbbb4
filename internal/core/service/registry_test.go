package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsechat/pulse/internal/core/domain"
)

func TestRegistry_ReserveOccupiesBothSlots(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVideo, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitiated, s.Status)
	assert.Equal(t, domain.UserID("alice"), s.CallerID)
	assert.Equal(t, domain.UserID("bob"), s.ReceiverID)

	assert.True(t, r.IsOccupied("alice"))
	assert.True(t, r.IsOccupied("bob"))

	got, ok := r.Get(s.CallID)
	require.True(t, ok)
	assert.Equal(t, s.CallID, got.CallID)
}

func TestRegistry_ReserveRejectsBusyParties(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	_, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)

	_, err = r.Reserve("carol", "bob", domain.CallTypeVoice, now)
	assert.ErrorIs(t, err, domain.ErrReceiverBusy)

	_, err = r.Reserve("alice", "carol", domain.CallTypeVoice, now)
	assert.ErrorIs(t, err, domain.ErrCallerAlreadyInCall)

	// Unrelated pair is unaffected.
	_, err = r.Reserve("dave", "erin", domain.CallTypeVoice, now)
	assert.NoError(t, err)
}

func TestRegistry_ReserveIsAtomic(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	const attempts = 64
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		caller := domain.UserID(fmt.Sprintf("caller-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Reserve(caller, "bob", domain.CallTypeVoice, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrReceiverBusy)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent reservation may win the receiver")
}

func TestRegistry_AnswerOnlyFromRinging(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)

	// Still initiated, not ringing yet.
	_, err = r.Answer(s.CallID, now)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	_, err = r.MarkRinging(s.CallID)
	require.NoError(t, err)

	answered, err := r.Answer(s.CallID, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnswered, answered.Status)
	assert.Equal(t, now.Add(3*time.Second), answered.ConnectedAt)

	// Second answer is a stale reference.
	_, err = r.Answer(s.CallID, now)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestRegistry_TerminateReleasesSlotsOnce(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)
	_, err = r.MarkRinging(s.CallID)
	require.NoError(t, err)
	_, err = r.Answer(s.CallID, now.Add(time.Second))
	require.NoError(t, err)

	final, err := r.Terminate(s.CallID, domain.StatusEnded, domain.EndUserEnded, nil, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, final.Status)
	assert.Equal(t, 60, final.Duration)
	assert.False(t, r.IsOccupied("alice"))
	assert.False(t, r.IsOccupied("bob"))

	_, err = r.Terminate(s.CallID, domain.StatusEnded, domain.EndUserEnded, nil, now)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestRegistry_DurationZeroWhenNeverAnswered(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)
	_, err = r.MarkRinging(s.CallID)
	require.NoError(t, err)

	final, err := r.Terminate(s.CallID, domain.StatusEnded, domain.EndUserEnded, nil, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Zero(t, final.Duration)
	assert.True(t, final.ConnectedAt.IsZero())
}

func TestRegistry_ExpireOnlyWhileRinging(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)
	_, err = r.MarkRinging(s.CallID)
	require.NoError(t, err)
	_, err = r.Answer(s.CallID, now)
	require.NoError(t, err)

	// The timer lost the race against the answer; it must be a no-op.
	_, err = r.Expire(s.CallID, now.Add(30*time.Second))
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	got, ok := r.Get(s.CallID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusAnswered, got.Status)
}

func TestRegistry_ExpireMarksMissed(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)
	_, err = r.MarkRinging(s.CallID)
	require.NoError(t, err)

	final, err := r.Expire(s.CallID, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMissed, final.Status)
	assert.Equal(t, domain.EndTimeout, final.EndReason)
	assert.False(t, r.IsOccupied("alice"))
	assert.False(t, r.IsOccupied("bob"))
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)

	r.Release(s.CallID)
	r.Release(s.CallID)

	assert.False(t, r.IsOccupied("alice"))
	assert.False(t, r.IsOccupied("bob"))
	_, ok := r.Get(s.CallID)
	assert.False(t, ok)
}

func TestRegistry_SlotSurvivesStaleRelease(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	first, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)
	r.Release(first.CallID)

	second, err := r.Reserve("alice", "bob", domain.CallTypeVoice, now)
	require.NoError(t, err)

	// Releasing the finished first call again must not free the second
	// call's slots.
	r.Release(first.CallID)
	assert.True(t, r.IsOccupied("alice"))
	assert.True(t, r.IsOccupied("bob"))

	got, ok := r.Get(second.CallID)
	require.True(t, ok)
	assert.Equal(t, second.CallID, got.CallID)
}
