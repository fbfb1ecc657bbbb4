package port

import "context"

// MediaHandle is an acquired local media source. Track toggles are purely
// local; the owning state machine notifies the peer separately.
type MediaHandle interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Release()
}

// MediaSource acquires local capture devices. Acquire fails with
// domain.ErrMediaAccessDenied when the devices are unavailable.
type MediaSource interface {
	Acquire(ctx context.Context, video, audio bool) (MediaHandle, error)
}
