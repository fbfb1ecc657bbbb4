// Package client implements the per-user call state machine that drives
// local media, negotiation payload production and UI-facing call state. One
// Machine instance tracks at most one active call, mirroring the server's
// single-slot invariant from the client's perspective.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

// UI-facing call states.
const (
	StateIdle       = "idle"
	StateInitiating = "initiating"
	StateRinging    = "ringing"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateEnding     = "ending"
	StateEnded      = "ended"
	StateMissed     = "missed"
	StateDeclined   = "declined"
	StateError      = "error"
)

// Machine events.
const (
	evStart        = "start"
	evRing         = "ring"
	evAccept       = "accept"
	evRemoteAnswer = "remote_answer"
	evTransportUp  = "transport_up"
	evHangup       = "hangup"
	evFinish       = "finish"
	evRemoteEnd    = "remote_end"
	evDeclined     = "declined"
	evMissed       = "missed"
	evFail         = "fail"
	evReset        = "reset"
)

// autoDeclineAfter is the local window for acting on an incoming invitation.
// It matches the hub's ring timer, so local UI state stays consistent even
// if the hub's own timeout notification is delayed or lost.
const autoDeclineAfter = 30 * time.Second

var (
	ErrCallInProgress = errors.New("another call is already in progress")
	ErrNoPendingCall  = errors.New("no pending incoming call")
	ErrNoActiveCall   = errors.New("no active call")
)

// Negotiator is the local connection-negotiation process. Its payloads are
// opaque to the state machine; they are produced here and relayed through
// the hub untouched.
type Negotiator interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	HandleAnswer(ctx context.Context, answer json.RawMessage) error
	AddRemoteCandidate(ctx context.Context, candidate json.RawMessage) error
	Close() error
}

// Signaler carries the machine's intents to the signaling hub.
type Signaler interface {
	Initiate(ctx context.Context, peer domain.UserID, callType domain.CallType, offer json.RawMessage) (domain.CallID, error)
	Answer(ctx context.Context, callID domain.CallID, answer json.RawMessage) error
	Decline(ctx context.Context, callID domain.CallID, reason string) error
	End(ctx context.Context, callID domain.CallID, stats json.RawMessage) error
	SendCandidate(ctx context.Context, callID domain.CallID, candidate json.RawMessage) error
	SendControl(ctx context.Context, callID domain.CallID, kind domain.ControlKind, payload json.RawMessage) error
}

// Invitation is an incoming-call notification pending a local decision. It
// does not occupy the machine's active-call slot until answered.
type Invitation struct {
	CallID   domain.CallID
	CallerID domain.UserID
	CallType domain.CallType
	Offer    json.RawMessage
}

type activeCall struct {
	id       domain.CallID
	peer     domain.UserID
	callType domain.CallType
	media    port.MediaHandle
	neg      Negotiator
}

// Machine is the client-side call state machine. All entry points are safe
// for concurrent use; transport events and UI actions compete for the same
// lock and the FSM rejects transitions that lost the race.
type Machine struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	signaler Signaler
	media    port.MediaSource
	newNeg   func() Negotiator

	call         *activeCall
	pending      *Invitation
	declineTimer *time.Timer

	declineAfter time.Duration
	logger       zerolog.Logger
}

type Option func(*Machine)

// WithAutoDecline overrides the incoming-invitation window. Used by tests.
func WithAutoDecline(d time.Duration) Option {
	return func(m *Machine) { m.declineAfter = d }
}

func NewMachine(signaler Signaler, media port.MediaSource, newNegotiator func() Negotiator, opts ...Option) *Machine {
	m := &Machine{
		signaler:     signaler,
		media:        media,
		newNeg:       newNegotiator,
		declineAfter: autoDeclineAfter,
		logger:       log.With().Str("component", "call_state").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evStart, Src: []string{StateIdle}, Dst: StateInitiating},
			{Name: evRing, Src: []string{StateInitiating}, Dst: StateRinging},
			{Name: evAccept, Src: []string{StateIdle}, Dst: StateConnecting},
			{Name: evRemoteAnswer, Src: []string{StateRinging}, Dst: StateConnecting},
			{Name: evTransportUp, Src: []string{StateRinging, StateConnecting}, Dst: StateConnected},
			{Name: evHangup, Src: []string{StateInitiating, StateRinging, StateConnecting, StateConnected}, Dst: StateEnding},
			{Name: evFinish, Src: []string{StateEnding}, Dst: StateEnded},
			{Name: evRemoteEnd, Src: []string{StateRinging, StateConnecting, StateConnected}, Dst: StateEnded},
			{Name: evDeclined, Src: []string{StateInitiating, StateRinging}, Dst: StateDeclined},
			{Name: evMissed, Src: []string{StateInitiating, StateRinging}, Dst: StateMissed},
			{Name: evFail, Src: []string{StateInitiating, StateRinging, StateConnecting, StateConnected, StateEnding}, Dst: StateError},
			{Name: evReset, Src: []string{StateEnded, StateMissed, StateDeclined, StateError}, Dst: StateIdle},
		},
		nil,
	)
	return m
}

// State returns the current UI-facing state.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Pending returns the invitation awaiting a decision, if any.
func (m *Machine) Pending() *Invitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	inv := *m.pending
	return &inv
}

// ActiveCallID returns the call the machine currently occupies.
func (m *Machine) ActiveCallID() (domain.CallID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call == nil {
		return domain.CallID{}, false
	}
	return m.call.id, true
}

// StartCall acquires local media, produces a negotiation offer and sends the
// initiation intent. A media failure is terminal to this attempt only: the
// machine stays in idle and nothing is acquired.
func (m *Machine) StartCall(ctx context.Context, peer domain.UserID, callType domain.CallType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != StateIdle || m.call != nil {
		return ErrCallInProgress
	}

	handle, err := m.media.Acquire(ctx, callType == domain.CallTypeVideo, true)
	if err != nil {
		m.logger.Warn().Err(err).Msg("media acquisition failed")
		return domain.ErrMediaAccessDenied
	}

	neg := m.newNeg()
	offer, err := neg.CreateOffer(ctx)
	if err != nil {
		handle.Release()
		neg.Close()
		return err
	}

	if err := m.fsm.Event(ctx, evStart); err != nil {
		handle.Release()
		neg.Close()
		return err
	}

	callID, err := m.signaler.Initiate(ctx, peer, callType, offer)
	if err != nil {
		// Precondition rejection from the hub (offline, busy). Back to idle
		// with nothing held.
		handle.Release()
		neg.Close()
		m.toIdleLocked(ctx)
		return err
	}

	m.call = &activeCall{id: callID, peer: peer, callType: callType, media: handle, neg: neg}
	if err := m.fsm.Event(ctx, evRing); err != nil {
		m.failLocked(ctx, err)
		return err
	}
	m.logger.Info().Str("call_id", callID.String()).Str("peer", peer.String()).Msg("outgoing call ringing")
	return nil
}

// HandleIncomingCall records an invitation and arms the local auto-decline
// timer. A machine already occupied declines immediately with busy.
func (m *Machine) HandleIncomingCall(ctx context.Context, inv Invitation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != StateIdle || m.call != nil || m.pending != nil {
		go m.decline(inv.CallID, string(domain.EndBusy))
		return
	}

	copied := inv
	m.pending = &copied
	callID := inv.CallID
	m.declineTimer = time.AfterFunc(m.declineAfter, func() {
		m.autoDecline(callID)
	})
	m.logger.Info().
		Str("call_id", inv.CallID.String()).
		Str("caller", inv.CallerID.String()).
		Str("call_type", string(inv.CallType)).
		Msg("incoming call")
}

func (m *Machine) decline(callID domain.CallID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.signaler.Decline(ctx, callID, reason); err != nil {
		m.logger.Warn().Err(err).Str("call_id", callID.String()).Msg("decline intent failed")
	}
}

func (m *Machine) autoDecline(callID domain.CallID) {
	m.mu.Lock()
	if m.pending == nil || m.pending.CallID != callID {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.declineTimer = nil
	m.mu.Unlock()

	m.logger.Info().Str("call_id", callID.String()).Msg("incoming call not acted upon, auto-declining")
	m.decline(callID, string(domain.EndTimeout))
}

// Answer accepts the pending invitation: acquire media, produce the
// negotiation answer from the received offer, and send the answer intent.
func (m *Machine) Answer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return ErrNoPendingCall
	}
	inv := *m.pending

	handle, err := m.media.Acquire(ctx, inv.CallType == domain.CallTypeVideo, true)
	if err != nil {
		m.logger.Warn().Err(err).Msg("media acquisition failed")
		return domain.ErrMediaAccessDenied
	}

	neg := m.newNeg()
	answer, err := neg.CreateAnswer(ctx, inv.Offer)
	if err != nil {
		handle.Release()
		neg.Close()
		return err
	}

	if err := m.fsm.Event(ctx, evAccept); err != nil {
		handle.Release()
		neg.Close()
		return err
	}
	m.clearPendingLocked()

	if err := m.signaler.Answer(ctx, inv.CallID, answer); err != nil {
		handle.Release()
		neg.Close()
		m.toIdleLocked(ctx)
		return err
	}

	m.call = &activeCall{id: inv.CallID, peer: inv.CallerID, callType: inv.CallType, media: handle, neg: neg}
	m.logger.Info().Str("call_id", inv.CallID.String()).Msg("answered, connecting")
	return nil
}

// Decline rejects the pending invitation. The active-call slot was never
// occupied, so the machine state is untouched.
func (m *Machine) Decline(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	callID := m.pending.CallID
	m.clearPendingLocked()
	m.mu.Unlock()

	if reason == "" {
		reason = string(domain.EndDeclined)
	}
	return m.signaler.Decline(ctx, callID, reason)
}

// HandleRemoteAnswer feeds the relayed negotiation answer into the local
// negotiation process (caller side).
func (m *Machine) HandleRemoteAnswer(ctx context.Context, callID domain.CallID, answer json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil || m.call.id != callID {
		return
	}
	if err := m.call.neg.HandleAnswer(ctx, answer); err != nil {
		m.logger.Error().Err(err).Str("call_id", callID.String()).Msg("applying remote answer failed")
		m.failLocked(ctx, err)
		return
	}
	_ = m.fsm.Event(ctx, evRemoteAnswer)
}

// HandleRemoteCandidate feeds a relayed negotiation payload into the local
// negotiation process. Payloads may arrive in any call state.
func (m *Machine) HandleRemoteCandidate(ctx context.Context, callID domain.CallID, candidate json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil || m.call.id != callID {
		return
	}
	if err := m.call.neg.AddRemoteCandidate(ctx, candidate); err != nil {
		m.logger.Warn().Err(err).Str("call_id", callID.String()).Msg("remote candidate rejected")
	}
}

// TransportEstablished is the external signal that the media transport is
// up. Only now does the UI state become connected, regardless of how far
// signaling has progressed.
func (m *Machine) TransportEstablished(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call == nil {
		return
	}
	if err := m.fsm.Event(ctx, evTransportUp); err == nil {
		m.logger.Info().Str("call_id", m.call.id.String()).Msg("call connected")
	}
}

// TransportFailed tears the call down as a network failure.
func (m *Machine) TransportFailed(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil {
		return
	}
	callID := m.call.id
	m.releaseCallLocked()
	_ = m.fsm.Event(ctx, evFail)
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.signaler.End(sctx, callID, nil); err != nil {
			m.logger.Warn().Err(err).Str("call_id", callID.String()).Msg("end intent failed")
		}
	}()
}

// ToggleAudio flips the local audio track and notifies the peer. Purely
// local plus notify; no state transition.
func (m *Machine) ToggleAudio(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil {
		return ErrNoActiveCall
	}
	muted := m.call.media.AudioEnabled()
	m.call.media.SetAudioEnabled(!muted)

	payload, _ := json.Marshal(map[string]bool{"muted": muted})
	return m.signaler.SendControl(ctx, m.call.id, domain.ControlAudioToggle, payload)
}

// ToggleVideo flips the local video track and notifies the peer.
func (m *Machine) ToggleVideo(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil {
		return ErrNoActiveCall
	}
	enabled := !m.call.media.VideoEnabled()
	m.call.media.SetVideoEnabled(enabled)

	payload, _ := json.Marshal(map[string]bool{"enabled": enabled})
	return m.signaler.SendControl(ctx, m.call.id, domain.ControlVideoToggle, payload)
}

// End hangs up the active call, sending the end intent with whatever
// connection stats the negotiator gathered. Media is released on every exit
// path.
func (m *Machine) End(ctx context.Context, stats json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil {
		return ErrNoActiveCall
	}
	if err := m.fsm.Event(ctx, evHangup); err != nil {
		return err
	}
	callID := m.call.id
	m.releaseCallLocked()

	err := m.signaler.End(ctx, callID, stats)
	_ = m.fsm.Event(ctx, evFinish)
	m.logger.Info().Str("call_id", callID.String()).Msg("call ended locally")
	return err
}

// HandlePeerEnded processes the call-ended notification from the hub.
func (m *Machine) HandlePeerEnded(ctx context.Context, callID domain.CallID, reason domain.EndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil || m.call.id != callID {
		return
	}
	m.releaseCallLocked()
	_ = m.fsm.Event(ctx, evRemoteEnd)
	m.logger.Info().Str("call_id", callID.String()).Str("reason", string(reason)).Msg("call ended by peer")
}

// HandleDeclined processes the call-declined notification (caller side).
func (m *Machine) HandleDeclined(ctx context.Context, callID domain.CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.call == nil || m.call.id != callID {
		return
	}
	m.releaseCallLocked()
	_ = m.fsm.Event(ctx, evDeclined)
}

// HandleTimeout processes the call-timeout notification. For the receiver
// this usually races the local auto-decline; both paths are idempotent.
func (m *Machine) HandleTimeout(ctx context.Context, callID domain.CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.pending.CallID == callID {
		m.clearPendingLocked()
		return
	}
	if m.call == nil || m.call.id != callID {
		return
	}
	m.releaseCallLocked()
	_ = m.fsm.Event(ctx, evMissed)
}

// HandleCallError processes a call-error notification from the hub: release
// everything and surface the error state.
func (m *Machine) HandleCallError(ctx context.Context, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearPendingLocked()
	if m.call != nil {
		m.releaseCallLocked()
	}
	if m.fsm.Current() != StateIdle {
		_ = m.fsm.Event(ctx, evFail)
	}
	m.logger.Warn().Str("code", code).Msg("call error")
}

// Reset returns a finished machine to idle so a new call can start.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toIdleLocked(ctx)
}

func (m *Machine) toIdleLocked(ctx context.Context) {
	if m.call != nil {
		m.releaseCallLocked()
	}
	m.clearPendingLocked()
	if m.fsm.Current() != StateIdle {
		if err := m.fsm.Event(ctx, evReset); err != nil {
			// Mid-call states cannot reset directly; force through the FSM
			// by failing first.
			_ = m.fsm.Event(ctx, evFail)
			_ = m.fsm.Event(ctx, evReset)
		}
	}
}

func (m *Machine) failLocked(ctx context.Context, cause error) {
	m.releaseCallLocked()
	m.clearPendingLocked()
	_ = m.fsm.Event(ctx, evFail)
}

// releaseCallLocked tears down the local call context. Every exit path goes
// through here, so media is never left acquired.
func (m *Machine) releaseCallLocked() {
	if m.call == nil {
		return
	}
	if m.call.media != nil {
		m.call.media.Release()
	}
	if m.call.neg != nil {
		if err := m.call.neg.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("negotiator close failed")
		}
	}
	m.call = nil
}

func (m *Machine) clearPendingLocked() {
	if m.declineTimer != nil {
		m.declineTimer.Stop()
		m.declineTimer = nil
	}
	m.pending = nil
}
