package domain

import (
	"encoding/json"
	"time"
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusEnded     CallStatus = "ended"
	StatusMissed    CallStatus = "missed"
	StatusDeclined  CallStatus = "declined"
	StatusBusy      CallStatus = "busy"
)

// Terminal reports whether a session in this status is finished. A terminal
// session is archival: the hub never mutates it again and its slots are gone.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusDeclined, StatusBusy:
		return true
	}
	return false
}

type EndReason string

const (
	EndUserEnded    EndReason = "user_ended"
	EndNetworkError EndReason = "network_error"
	EndTimeout      EndReason = "timeout"
	EndDeclined     EndReason = "declined"
	EndBusy         EndReason = "busy"
)

// CallSession is the authoritative record of one call attempt. It is created
// and mutated only by the signaling hub, under the registry lock.
type CallSession struct {
	CallID     CallID
	CallerID   UserID
	ReceiverID UserID
	CallType   CallType

	Status      CallStatus
	StartTime   time.Time
	ConnectedAt time.Time
	EndTime     time.Time

	// Duration is seconds between ConnectedAt and EndTime. Zero when the
	// call was never answered.
	Duration int

	EndReason EndReason

	// ConnectionStats and Quality are opaque diagnostics attached by the
	// endpoints. The hub stores them without interpretation.
	ConnectionStats json.RawMessage
	Quality         json.RawMessage
}

func NewCallSession(caller, receiver UserID, callType CallType, now time.Time) *CallSession {
	return &CallSession{
		CallID:     NewCallID(),
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   callType,
		Status:     StatusInitiated,
		StartTime:  now,
	}
}

// Peer returns the other occupant of the session, or "" if userID is not
// part of the call.
func (s *CallSession) Peer(userID UserID) UserID {
	switch userID {
	case s.CallerID:
		return s.ReceiverID
	case s.ReceiverID:
		return s.CallerID
	}
	return ""
}

func (s *CallSession) Involves(userID UserID) bool {
	return userID == s.CallerID || userID == s.ReceiverID
}

// MarkAnswered transitions the session to answered and records the connect
// time. Only valid while ringing; callers guard on status first.
func (s *CallSession) MarkAnswered(now time.Time) {
	s.Status = StatusAnswered
	s.ConnectedAt = now
}

// MarkTerminated moves the session into a terminal status and derives the
// duration. Duration stays zero unless the call reached answered.
func (s *CallSession) MarkTerminated(status CallStatus, reason EndReason, now time.Time) {
	wasAnswered := s.Status == StatusAnswered
	s.Status = status
	s.EndReason = reason
	s.EndTime = now
	if wasAnswered && !s.ConnectedAt.IsZero() {
		s.Duration = int(now.Sub(s.ConnectedAt) / time.Second)
	}
}

// Snapshot returns a copy for handing to sinks and notifications outside the
// registry lock.
func (s *CallSession) Snapshot() CallSession {
	return *s
}
