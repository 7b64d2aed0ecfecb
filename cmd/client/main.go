package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Wyydra/yacall/internal/adapter/driven/api/rest"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	sigws "github.com/Wyydra/yacall/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/session"
)

const requestTimeout = 10 * time.Second

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML",
		EnvVars: []string{"YACALL_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "server",
		Usage:   "base URL of the call server",
		EnvVars: []string{"YACALL_SERVER"},
	},
	&cli.StringFlag{
		Name:    "user-id",
		Usage:   "identity of the local participant",
		EnvVars: []string{"YACALL_USER_ID"},
	},
	&cli.StringFlag{
		Name:  "name",
		Usage: "display name of the local participant",
	},
	&cli.BoolFlag{
		Name:  "video",
		Usage: "send a camera track next to the microphone",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "capture device, synthetic or system",
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn or error",
		EnvVars: []string{"LOG_LEVEL"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "console logging at debug level",
	},
}

var channelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "channel",
		Usage:    "channel hosting the call",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "channel-name",
		Usage: "display name of the channel",
	},
}

func main() {
	app := &cli.App{
		Name:  "yacall",
		Usage: "headless participant for mesh group calls",
		Flags: baseFlags,
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "start a call in a channel and stay until interrupted",
				Flags:  channelFlags,
				Action: startCall,
			},
			{
				Name:  "join",
				Usage: "join the active call of a channel",
				Flags: append(channelFlags, &cli.StringFlag{
					Name:  "initiator",
					Usage: "id of the user who started the call, looked up when omitted",
				}),
				Action: joinCall,
			},
			{
				Name:  "listen",
				Usage: "wait for incoming calls, optionally answering them",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "auto-join",
						Usage: "join every incoming call",
					},
				},
				Action: listen,
			},
			{
				Name:   "status",
				Usage:  "print the call status of a channel",
				Flags:  channelFlags,
				Action: printStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

type participant struct {
	conf *config.Config
	self domain.Participant
	api  *rest.Client
	bus  *sigws.Bus
	ctrl *session.Controller
}

func getConfig(c *cli.Context) (*config.Config, domain.Participant, error) {
	confString, err := config.GetConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, domain.Participant{}, err
	}
	conf, err := config.NewConfig(confString, true, c)
	if err != nil {
		return nil, domain.Participant{}, err
	}
	config.InitLogger(conf.LogLevel, conf.Development)

	self := domain.Participant{ID: domain.UserID(conf.Client.UserID), Name: conf.Client.Name}
	if self.ID == "" {
		self.ID = domain.NewUserID()
		log.Warn().Str("user_id", self.ID.String()).Msg("No user id configured, using a generated one")
	}
	return conf, self, nil
}

func newParticipant(c *cli.Context) (*participant, error) {
	conf, self, err := getConfig(c)
	if err != nil {
		return nil, err
	}
	api := rest.NewClient(conf.Client.ServerURL, self, &http.Client{Timeout: requestTimeout})

	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()
	bus, err := sigws.Dial(ctx, conf.Client.ServerURL, self)
	if err != nil {
		return nil, err
	}

	factory, err := pion.NewPeerFactory(pion.FactoryOptions{
		ICEServers:             conf.Client.WebRTCICEServers(),
		ICEDisconnectedTimeout: conf.Client.ICEDisconnectedTimeout,
		ICEFailedTimeout:       conf.Client.ICEFailedTimeout,
	})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	var device port.MediaDevice
	switch conf.Client.Device {
	case config.DeviceSystem:
		device = pion.NewSystemDevice()
	default:
		device = pion.NewSyntheticDevice()
	}

	ctrl := session.NewController(session.Options{
		Self:            self,
		Video:           conf.Client.Video,
		MaxParticipants: conf.MaxParticipants,
		LeaveTimeout:    conf.Client.LeaveTimeout,
	}, api, device, factory, bus)
	ctrl.OnChange(logSnapshot)

	log.Info().Str("user_id", self.ID.String()).Str("server", conf.Client.ServerURL).
		Str("device", conf.Client.Device).Msg("Connected to relay")
	return &participant{conf: conf, self: self, api: api, bus: bus, ctrl: ctrl}, nil
}

func (p *participant) close() {
	ctx, cancel := context.WithTimeout(context.Background(), p.conf.Client.LeaveTimeout+time.Second)
	defer cancel()
	if err := p.ctrl.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Closing call session")
	}
	_ = p.bus.Close()
}

// wait blocks until interrupted or the relay connection drops.
func (p *participant) wait(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Leaving")
	case <-p.bus.Done():
		log.Warn().Msg("Relay connection closed")
	case <-ctx.Done():
	}
}

func startCall(c *cli.Context) error {
	p, err := newParticipant(c)
	if err != nil {
		return err
	}
	defer p.close()

	channelID := domain.ChannelID(c.String("channel"))
	if err := p.ctrl.Start(c.Context, channelID, c.String("channel-name")); err != nil {
		return err
	}
	p.wait(c.Context)
	return nil
}

func joinCall(c *cli.Context) error {
	p, err := newParticipant(c)
	if err != nil {
		return err
	}
	defer p.close()

	channelID := domain.ChannelID(c.String("channel"))
	channelName := c.String("channel-name")
	initiatorID := domain.UserID(c.String("initiator"))
	var initiatorName string

	if initiatorID == "" {
		status, err := p.api.GetCallStatus(c.Context, channelID)
		if err != nil {
			return err
		}
		if !status.Active {
			return errors.Wrapf(domain.ErrCallNotFound, "channel %s", channelID)
		}
		initiatorID, initiatorName = status.InitiatorID, status.InitiatorName
		if channelName == "" {
			channelName = status.ChannelName
		}
	}

	if err := p.ctrl.Join(c.Context, channelID, channelName, initiatorID, initiatorName); err != nil {
		return err
	}
	p.wait(c.Context)
	return nil
}

func listen(c *cli.Context) error {
	p, err := newParticipant(c)
	if err != nil {
		return err
	}
	defer p.close()

	if c.Bool("auto-join") {
		incoming := make(chan domain.CallSession, 1)
		p.ctrl.OnChange(func(s domain.CallSession) {
			if s.State != domain.StateIncoming {
				return
			}
			select {
			case incoming <- s:
			default:
			}
		})
		go func() {
			for s := range incoming {
				if err := p.ctrl.Join(c.Context, s.ChannelID, s.ChannelName, s.InitiatorID, s.InitiatorName); err != nil {
					log.Warn().Err(err).Str("channel_id", s.ChannelID.String()).Msg("Auto-join failed")
				}
			}
		}()
	}

	log.Info().Bool("auto_join", c.Bool("auto-join")).Msg("Waiting for calls")
	p.wait(c.Context)
	return nil
}

func printStatus(c *cli.Context) error {
	conf, self, err := getConfig(c)
	if err != nil {
		return err
	}
	api := rest.NewClient(conf.Client.ServerURL, self, &http.Client{Timeout: requestTimeout})

	status, err := api.GetCallStatus(c.Context, domain.ChannelID(c.String("channel")))
	if err != nil {
		return err
	}
	if !status.Active {
		fmt.Printf("no active call in %s\n", c.String("channel"))
		return nil
	}
	fmt.Printf("%s: started by %s, %d participant(s)\n", status.ChannelName, status.InitiatorName, len(status.ParticipantIDs))
	for _, pt := range status.Participants {
		fmt.Printf("  %s\t%s\n", pt.ID, pt.Name)
	}
	return nil
}

func logSnapshot(s domain.CallSession) {
	e := log.Info().Str("state", string(s.State))
	if s.ChannelID != "" {
		e = e.Str("channel_id", s.ChannelID.String()).
			Int("participants", len(s.Participants)).
			Int("peer_links", len(s.PeerLinks)).
			Int("remote_streams", len(s.RemoteStreams)).
			Bool("muted", s.LocalMuted)
	}
	if s.Error != "" {
		e = e.Str("error", s.Error)
	}
	e.Msg("Call session")
}
