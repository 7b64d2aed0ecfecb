package pion

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type FactoryOptions struct {
	ICEServers []webrtc.ICEServer
	// Zero timeouts keep pion's defaults.
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	// Logger receives pion's internal logs. Defaults to the global logger.
	Logger *zerolog.Logger
}

// PeerFactory builds pion peer connections sharing one configured API.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPeerFactory(opts FactoryOptions) (*PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	if opts.ICEDisconnectedTimeout > 0 && opts.ICEFailedTimeout > 0 {
		se.SetICETimeouts(opts.ICEDisconnectedTimeout, opts.ICEFailedTimeout, 2*time.Second)
	}

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
	}, nil
}

func (f *PeerFactory) NewPeer(remoteID domain.UserID, callbacks port.PeerCallbacks) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return newPeer(remoteID, pc, callbacks), nil
}
