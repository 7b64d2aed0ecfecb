package pion

import (
	"context"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const opusFrameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var errSourceClosed = errors.New("source closed")

// SyntheticDevice captures nothing: its microphone emits Opus silence at the
// normal frame rate. It backs headless participants and tests.
type SyntheticDevice struct{}

func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{}
}

func (d *SyntheticDevice) GetUserMedia(ctx context.Context, constraints port.MediaConstraints) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, err.Error())
	}
	if !constraints.Audio {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, "synthetic device only provides audio")
	}
	if constraints.Video {
		log.Debug().Msg("Synthetic device has no camera, capturing audio only")
	}

	streamID := "synthetic-" + uuid.NewString()
	audio, err := newLocalTrack(domain.TrackAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, streamID, newSilenceSource())
	if err != nil {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, err.Error())
	}
	return &LocalStream{id: streamID, tracks: []port.LocalTrack{audio}}, nil
}

type silenceSource struct {
	ticker *time.Ticker
	closed core.Fuse
}

func newSilenceSource() *silenceSource {
	return &silenceSource{ticker: time.NewTicker(opusFrameDuration), closed: core.NewFuse()}
}

func (s *silenceSource) ReadSample() (media.Sample, error) {
	select {
	case <-s.closed.Watch():
		return media.Sample{}, errSourceClosed
	case <-s.ticker.C:
		return media.Sample{Data: opusSilence, Duration: opusFrameDuration}, nil
	}
}

func (s *silenceSource) Close() error {
	s.closed.Break()
	s.ticker.Stop()
	return nil
}
