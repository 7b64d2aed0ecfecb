package pion

import (
	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// sampleSource yields encoded media samples until it fails or is closed.
type sampleSource interface {
	ReadSample() (media.Sample, error)
	Close() error
}

// LocalTrack pumps samples from a source into a TrackLocalStaticSample that
// any number of peer connections can share. A disabled track drops samples.
type LocalTrack struct {
	kind    domain.TrackKind
	track   *webrtc.TrackLocalStaticSample
	source  sampleSource
	enabled atomic.Bool
	stopped core.Fuse
	ended   core.Fuse
}

func newLocalTrack(kind domain.TrackKind, codec webrtc.RTPCodecCapability, streamID string, source sampleSource) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{
		kind:    kind,
		track:   track,
		source:  source,
		stopped: core.NewFuse(),
		ended:   core.NewFuse(),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *LocalTrack) pump() {
	defer t.ended.Break()
	for !t.stopped.IsBroken() {
		sample, err := t.source.ReadSample()
		if err != nil {
			if !t.stopped.IsBroken() {
				log.Warn().Err(err).Str("kind", string(t.kind)).Msg("Local track source ended")
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("kind", string(t.kind)).Msg("Writing sample")
		}
	}
}

func (t *LocalTrack) Kind() domain.TrackKind {
	return t.kind
}

func (t *LocalTrack) Enabled() bool {
	return t.enabled.Load()
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *LocalTrack) Stop() {
	if t.stopped.IsBroken() {
		return
	}
	t.stopped.Break()
	if err := t.source.Close(); err != nil {
		log.Debug().Err(err).Str("kind", string(t.kind)).Msg("Closing track source")
	}
}

// Live reports whether the track is still capturing.
func (t *LocalTrack) Live() bool {
	return !t.stopped.IsBroken() && !t.ended.IsBroken()
}

func (t *LocalTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

// Ended is closed once the pump has returned.
func (t *LocalTrack) Ended() <-chan struct{} {
	return t.ended.Watch()
}

type LocalStream struct {
	id     string
	tracks []port.LocalTrack
}

func (s *LocalStream) ID() string {
	return s.id
}

func (s *LocalStream) Tracks() []port.LocalTrack {
	return s.tracks
}

func stopAll(tracks []port.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
