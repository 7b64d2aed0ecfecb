package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// MediaManager owns the local capture stream. Peer links only attach its
// tracks; stopping them is reserved to Release.
type MediaManager struct {
	device      port.MediaDevice
	constraints port.MediaConstraints

	mu     sync.Mutex
	stream port.LocalStream
}

func NewMediaManager(device port.MediaDevice, video bool) *MediaManager {
	return &MediaManager{
		device:      device,
		constraints: port.MediaConstraints{Audio: true, Video: video},
	}
}

func (m *MediaManager) Video() bool {
	return m.constraints.Video
}

// Acquire opens a new capture stream, replacing (and stopping) any previous one.
// Every failure is reported as domain.ErrMediaAccessDenied.
func (m *MediaManager) Acquire(ctx context.Context) (port.LocalStream, error) {
	stream, err := m.device.GetUserMedia(ctx, m.constraints)
	if err != nil {
		if !errors.Is(err, domain.ErrMediaAccessDenied) {
			err = errors.Wrapf(domain.ErrMediaAccessDenied, "%v", err)
		}
		return nil, err
	}
	if stream == nil {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, "device returned no stream")
	}

	m.mu.Lock()
	old := m.stream
	m.stream = stream
	m.mu.Unlock()

	stopTracks(old)
	log.Debug().Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("Local media acquired")
	return stream, nil
}

// Release stops every local track. Safe without a stream.
func (m *MediaManager) Release() {
	m.mu.Lock()
	old := m.stream
	m.stream = nil
	m.mu.Unlock()

	if old != nil {
		stopTracks(old)
		log.Debug().Str("stream_id", old.ID()).Msg("Local media released")
	}
}

func (m *MediaManager) Stream() port.LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// SetMuted toggles the audio tracks and reports whether any track was changed.
func (m *MediaManager) SetMuted(muted bool) bool {
	return m.setEnabled(domain.TrackAudio, !muted)
}

// SetVideoEnabled toggles the video tracks and reports whether any track was changed.
func (m *MediaManager) SetVideoEnabled(enabled bool) bool {
	return m.setEnabled(domain.TrackVideo, enabled)
}

func (m *MediaManager) setEnabled(kind domain.TrackKind, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false
	}
	changed := false
	for _, t := range m.stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			changed = true
		}
	}
	return changed
}

// LiveTracks counts local tracks that have not been stopped.
func (m *MediaManager) LiveTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return 0
	}
	n := 0
	for _, t := range m.stream.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}

func stopTracks(stream port.LocalStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}
