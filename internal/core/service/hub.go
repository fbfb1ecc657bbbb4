package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

// RingTimeout is how long a call may stay in ringing before it is marked
// missed. Fixed, matching the client-side auto-decline window.
const RingTimeout = 30 * time.Second

// Wire payloads emitted on the per-user channel.

type IncomingCall struct {
	CallID   string          `json:"callId"`
	CallerID string          `json:"callerId"`
	CallType domain.CallType `json:"callType"`
	Offer    json.RawMessage `json:"offer"`
}

type CallRinging struct {
	CallID     string `json:"callId"`
	ReceiverID string `json:"receiverId"`
}

type CallAnswered struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

type CallConnected struct {
	CallID string `json:"callId"`
}

type CallDeclined struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type CallEnded struct {
	CallID string           `json:"callId"`
	Reason domain.EndReason `json:"reason"`
}

type CallTimeout struct {
	CallID string `json:"callId"`
}

type NegotiationPayload struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

type ControlSignal struct {
	CallID  string          `json:"callId"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type recordOp struct {
	create  bool
	session domain.CallSession
}

// SignalingHub coordinates call setup and teardown between pairs of users.
// It owns the registry, relays opaque negotiation payloads between the two
// endpoints of a call, and drives the record sink. Every public operation is
// total over possibly-absent session state: stale references degrade to
// no-ops, never to failures the live protocol can see.
type SignalingHub struct {
	registry *Registry
	channel  port.MessageChannel
	sink     port.CallRecordSink
	metrics  *Metrics

	ringAfter time.Duration
	clock     func() time.Time

	records chan recordOp
	quit    chan struct{}
	logger  zerolog.Logger
}

type HubOption func(*SignalingHub)

// WithRingTimeout overrides the ring timer duration. Used by tests; the
// production value is RingTimeout.
func WithRingTimeout(d time.Duration) HubOption {
	return func(h *SignalingHub) { h.ringAfter = d }
}

// WithClock replaces the hub's time source for deterministic tests.
func WithClock(clock func() time.Time) HubOption {
	return func(h *SignalingHub) { h.clock = clock }
}

func WithMetrics(m *Metrics) HubOption {
	return func(h *SignalingHub) { h.metrics = m }
}

func NewSignalingHub(registry *Registry, channel port.MessageChannel, sink port.CallRecordSink, opts ...HubOption) *SignalingHub {
	h := &SignalingHub{
		registry:  registry,
		channel:   channel,
		sink:      sink,
		ringAfter: RingTimeout,
		clock:     time.Now,
		records:   make(chan recordOp, 256),
		quit:      make(chan struct{}),
		logger:    log.With().Str("component", "signaling_hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run drains the record queue so persistence never runs inside the registry
// lock and never stalls a live call. Launch it in its own goroutine.
func (h *SignalingHub) Run() {
	for {
		select {
		case <-h.quit:
			// Flush whatever is still queued.
			for {
				select {
				case op := <-h.records:
					h.write(op)
				default:
					return
				}
			}
		case op := <-h.records:
			h.write(op)
		}
	}
}

func (h *SignalingHub) Stop() {
	close(h.quit)
}

func (h *SignalingHub) write(op recordOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.create {
		err = h.sink.Create(ctx, op.session)
	} else {
		err = h.sink.Update(ctx, op.session)
	}
	if err != nil {
		h.logger.Error().Err(err).
			Str("call_id", op.session.CallID.String()).
			Str("status", string(op.session.Status)).
			Msg("call record write failed")
	}
}

func (h *SignalingHub) persist(create bool, s domain.CallSession) {
	select {
	case h.records <- recordOp{create: create, session: s}:
	default:
		h.logger.Warn().
			Str("call_id", s.CallID.String()).
			Msg("record queue full, dropping snapshot")
	}
}

// InitiateCall reserves both user slots, creates the session, forwards the
// invitation to the receiver and arms the ring timer. Precondition failures
// (receiver offline or busy, caller busy) reject the attempt without
// creating anything.
func (h *SignalingHub) InitiateCall(ctx context.Context, caller, receiver domain.UserID, callType domain.CallType, offer json.RawMessage) (domain.CallSession, error) {
	if !h.channel.IsOpen(receiver) {
		h.metrics.callRejected(domain.RejectionCode(domain.ErrReceiverOffline))
		return domain.CallSession{}, domain.ErrReceiverOffline
	}

	s, err := h.registry.Reserve(caller, receiver, callType, h.clock())
	if err != nil {
		h.metrics.callRejected(domain.RejectionCode(err))
		return domain.CallSession{}, err
	}
	h.metrics.callStarted()
	h.persist(true, s)

	s, err = h.registry.MarkRinging(s.CallID)
	if err != nil {
		// The session vanished between Reserve and MarkRinging, which only
		// happens if the caller disconnected in the gap. Nothing to ring.
		return domain.CallSession{}, err
	}
	h.persist(false, s)

	h.channel.Send(ctx, receiver, domain.EventIncomingCall, IncomingCall{
		CallID:   s.CallID.String(),
		CallerID: caller.String(),
		CallType: callType,
		Offer:    offer,
	})
	h.channel.Send(ctx, caller, domain.EventCallRinging, CallRinging{
		CallID:     s.CallID.String(),
		ReceiverID: receiver.String(),
	})

	callID := s.CallID
	timer := time.AfterFunc(h.ringAfter, func() {
		h.ringTimeout(callID)
	})
	h.registry.ArmRingTimer(callID, timer)

	h.logger.Info().
		Str("call_id", callID.String()).
		Str("caller", caller.String()).
		Str("receiver", receiver.String()).
		Str("call_type", string(callType)).
		Msg("call ringing")
	return s, nil
}

// AnswerCall transitions a ringing call to answered, relays the negotiation
// answer to the caller and confirms the connection to the receiver. A call
// that already timed out, was declined or cancelled yields ErrCallNotFound.
func (h *SignalingHub) AnswerCall(ctx context.Context, callID domain.CallID, answer json.RawMessage) error {
	s, err := h.registry.Answer(callID, h.clock())
	if err != nil {
		return err
	}
	h.persist(false, s)

	h.channel.Send(ctx, s.CallerID, domain.EventCallAnswered, CallAnswered{
		CallID: s.CallID.String(),
		Answer: answer,
	})
	h.channel.Send(ctx, s.ReceiverID, domain.EventCallConnected, CallConnected{
		CallID: s.CallID.String(),
	})

	h.logger.Info().Str("call_id", callID.String()).Msg("call answered")
	return nil
}

// DeclineCall rejects a ringing call, notifies the caller with the reason
// and releases both slots. Absent sessions are a silent no-op.
func (h *SignalingHub) DeclineCall(ctx context.Context, callID domain.CallID, reason string) {
	s, err := h.registry.Terminate(callID, domain.StatusDeclined, domain.EndDeclined, nil, h.clock())
	if err != nil {
		return
	}
	h.metrics.callFinished(s.Status)
	h.persist(false, s)

	if reason == "" {
		reason = string(domain.EndDeclined)
	}
	h.channel.Send(ctx, s.CallerID, domain.EventCallDeclined, CallDeclined{
		CallID: s.CallID.String(),
		Reason: reason,
	})

	h.logger.Info().Str("call_id", callID.String()).Msg("call declined")
}

// EndCall terminates a live call. endedBy is the user who hung up (or whose
// channel dropped); the other party gets the call-ended notification. Works
// both for an answered call and for a caller cancelling while still ringing.
// Absent sessions are a silent no-op.
func (h *SignalingHub) EndCall(ctx context.Context, callID domain.CallID, endedBy domain.UserID, reason domain.EndReason, stats json.RawMessage) {
	s, err := h.registry.Terminate(callID, domain.StatusEnded, reason, stats, h.clock())
	if err != nil {
		return
	}
	h.metrics.callFinished(s.Status)
	h.persist(false, s)

	ended := CallEnded{CallID: s.CallID.String(), Reason: reason}
	if peer := s.Peer(endedBy); peer != "" {
		h.channel.Send(ctx, peer, domain.EventCallEnded, ended)
	} else {
		// Terminated by the system rather than a participant.
		h.channel.Send(ctx, s.CallerID, domain.EventCallEnded, ended)
		h.channel.Send(ctx, s.ReceiverID, domain.EventCallEnded, ended)
	}

	h.logger.Info().
		Str("call_id", callID.String()).
		Str("reason", string(reason)).
		Int("duration_s", s.Duration).
		Msg("call ended")
}

// ringTimeout fires from the per-call ring timer. The registry guards it
// against answers racing the timer: once the call left ringing this is a
// no-op.
func (h *SignalingHub) ringTimeout(callID domain.CallID) {
	s, err := h.registry.Expire(callID, h.clock())
	if err != nil {
		return
	}
	h.metrics.callFinished(s.Status)
	h.persist(false, s)

	ctx := context.Background()
	timeout := CallTimeout{CallID: s.CallID.String()}
	h.channel.Send(ctx, s.CallerID, domain.EventCallTimeout, timeout)
	h.channel.Send(ctx, s.ReceiverID, domain.EventCallTimeout, timeout)

	h.logger.Info().Str("call_id", callID.String()).Msg("call missed, ring timer expired")
}

// RelayNegotiationPayload forwards an opaque ICE-equivalent payload to the
// other endpoint of the call. It deliberately does not require any
// particular call state; candidates may trickle in before the call is fully
// connected. Absent sessions swallow the payload.
func (h *SignalingHub) RelayNegotiationPayload(ctx context.Context, callID domain.CallID, sender domain.UserID, candidate json.RawMessage) {
	s, ok := h.registry.Get(callID)
	if !ok {
		return
	}
	peer := s.Peer(sender)
	if peer == "" {
		return
	}
	h.metrics.payloadRelayed()
	h.channel.Send(ctx, peer, domain.EventICECandidate, NegotiationPayload{
		CallID:    s.CallID.String(),
		Candidate: candidate,
	})
}

// RelayControlSignal forwards an auxiliary in-call signal (mute, video
// toggle, screen share, quality report) to the peer. Only the quality-report
// variant touches session state, by updating the stored diagnostics.
func (h *SignalingHub) RelayControlSignal(ctx context.Context, callID domain.CallID, sender domain.UserID, kind domain.ControlKind, payload json.RawMessage) {
	event, ok := kind.PeerEvent()
	if !ok {
		h.logger.Warn().Str("kind", string(kind)).Msg("unknown control signal kind")
		return
	}

	s, found := h.registry.Get(callID)
	if !found || !s.Involves(sender) {
		return
	}

	if kind == domain.ControlQualityReport {
		if updated, err := h.registry.AttachQuality(callID, payload); err == nil {
			h.persist(false, updated)
		}
	}

	peer := s.Peer(sender)
	h.metrics.payloadRelayed()
	h.channel.Send(ctx, peer, event, ControlSignal{
		CallID:  s.CallID.String(),
		UserID:  sender.String(),
		Payload: payload,
	})
}

// OnChannelClosed terminates whatever call the disconnected user occupied.
// Safe to race with any other lifecycle operation on the same call: the
// registry's terminate path is idempotent.
func (h *SignalingHub) OnChannelClosed(ctx context.Context, userID domain.UserID) {
	callID, ok := h.registry.CallFor(userID)
	if !ok {
		return
	}
	h.logger.Info().
		Str("call_id", callID.String()).
		Str("user", userID.String()).
		Msg("channel closed during live call")
	h.EndCall(ctx, callID, userID, domain.EndNetworkError, nil)
}
