// Package local provides the client-side media source. Capture and encoding
// internals live outside this codebase; the handle only models device
// ownership and track enablement, which is all the call state machine needs.
package local

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
)

// Source hands out at most one device handle at a time, mirroring exclusive
// capture-device ownership.
type Source struct {
	mu     sync.Mutex
	inUse  bool
	denied bool
}

func NewSource() *Source {
	return &Source{}
}

// SetDenied simulates the user revoking device permission. Subsequent
// acquisitions fail with domain.ErrMediaAccessDenied.
func (s *Source) SetDenied(denied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = denied
}

func (s *Source) Acquire(ctx context.Context, video, audio bool) (port.MediaHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied || s.inUse {
		return nil, domain.ErrMediaAccessDenied
	}
	s.inUse = true
	log.Debug().Bool("video", video).Bool("audio", audio).Msg("media acquired")
	return &handle{source: s, audio: audio, video: video}, nil
}

type handle struct {
	source *Source

	mu       sync.Mutex
	audio    bool
	video    bool
	released bool
}

func (h *handle) SetAudioEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = enabled
}

func (h *handle) SetVideoEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.video = enabled
}

func (h *handle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audio
}

func (h *handle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.video
}

// Release frees the device. Idempotent, so every exit path in the state
// machine may call it.
func (h *handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	h.source.mu.Lock()
	h.source.inUse = false
	h.source.mu.Unlock()
	log.Debug().Msg("media released")
}
