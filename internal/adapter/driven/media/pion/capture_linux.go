//go:build linux && cgo && capture

package pion

import (
	"context"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// SystemDevice captures the local microphone (and camera) through
// pion/mediadevices, encoding Opus and VP8.
type SystemDevice struct{}

func NewSystemDevice() *SystemDevice {
	return &SystemDevice{}
}

func (d *SystemDevice) GetUserMedia(ctx context.Context, constraints port.MediaConstraints) (port.LocalStream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	msc := mediadevices.MediaStreamConstraints{
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}
	if constraints.Audio {
		msc.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	if constraints.Video {
		msc.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	captured, err := mediadevices.GetUserMedia(msc)
	if err != nil {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, err.Error())
	}

	if len(captured.GetTracks()) == 0 {
		return nil, errors.Wrap(domain.ErrMediaAccessDenied, "no capture device")
	}
	streamID := "capture-" + captured.GetTracks()[0].ID()
	tracks := make([]port.LocalTrack, 0, len(captured.GetTracks()))
	for _, mt := range captured.GetTracks() {
		t, err := newCapturedTrack(mt, streamID)
		if err != nil {
			stopAll(tracks)
			for _, raw := range captured.GetTracks() {
				_ = raw.Close()
			}
			return nil, errors.Wrap(domain.ErrMediaAccessDenied, err.Error())
		}
		tracks = append(tracks, t)
	}
	log.Info().Int("tracks", len(tracks)).Msg("Local media captured")
	return &LocalStream{id: streamID, tracks: tracks}, nil
}

func newCapturedTrack(mt mediadevices.Track, streamID string) (*LocalTrack, error) {
	kind, mime, clockRate, channels := domain.TrackAudio, webrtc.MimeTypeOpus, uint32(48000), uint16(2)
	if mt.Kind() == webrtc.RTPCodecTypeVideo {
		kind, mime, clockRate, channels = domain.TrackVideo, webrtc.MimeTypeVP8, 90000, 0
	}

	reader, err := mt.NewEncodedReader(mime)
	if err != nil {
		return nil, err
	}
	src := &encodedSource{track: mt, reader: reader, clockRate: clockRate}
	return newLocalTrack(kind, webrtc.RTPCodecCapability{
		MimeType:  mime,
		ClockRate: clockRate,
		Channels:  channels,
	}, streamID, src)
}

// encodedSource adapts a mediadevices encoded reader to samples.
type encodedSource struct {
	track     mediadevices.Track
	reader    mediadevices.EncodedReadCloser
	clockRate uint32
}

func (s *encodedSource) ReadSample() (media.Sample, error) {
	buf, release, err := s.reader.Read()
	if err != nil {
		return media.Sample{}, err
	}
	defer release()

	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return media.Sample{
		Data:     data,
		Duration: time.Duration(buf.Samples) * time.Second / time.Duration(s.clockRate),
	}, nil
}

func (s *encodedSource) Close() error {
	err := s.reader.Close()
	if cerr := s.track.Close(); err == nil {
		err = cerr
	}
	return err
}
