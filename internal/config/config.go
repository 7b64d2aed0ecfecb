package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var (
	ErrDuplicateChannel       = errors.New("duplicate channel id")
	ErrInvalidMaxParticipants = errors.New("max_participants must be at least 2")
)

type Config struct {
	Port            uint32        `yaml:"port"`
	BindAddress     string        `yaml:"bind_address"`
	Development     bool          `yaml:"development,omitempty"`
	LogLevel        string        `yaml:"log_level"`
	MaxParticipants int           `yaml:"max_participants"`
	Redis           RedisConfig   `yaml:"redis,omitempty"`
	CORS            CORSConfig    `yaml:"cors,omitempty"`
	Channels        []ChannelConf `yaml:"channels,omitempty"`
	Client          ClientConfig  `yaml:"client,omitempty"`
}

type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

func (r RedisConfig) IsConfigured() bool {
	return r.Address != ""
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type ChannelConf struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name,omitempty"`
	Members []MemberConf `yaml:"members,omitempty"`
	Admins  []string     `yaml:"admins,omitempty"`
}

type MemberConf struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// ClientConfig is read by the headless participant.
type ClientConfig struct {
	ServerURL    string            `yaml:"server_url"`
	UserID       string            `yaml:"user_id,omitempty"`
	Name         string            `yaml:"name,omitempty"`
	Video        bool              `yaml:"video,omitempty"`
	Device       string            `yaml:"device"`
	LeaveTimeout time.Duration     `yaml:"leave_timeout"`
	ICEServers   []ICEServerConfig `yaml:"ice_servers,omitempty"`
	// ICEDisconnectedTimeout and ICEFailedTimeout tune the pion ICE agent.
	ICEDisconnectedTimeout time.Duration `yaml:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `yaml:"ice_failed_timeout"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

const (
	DeviceSynthetic = "synthetic"
	DeviceSystem    = "system"
)

var DefaultConfig = Config{
	Port:            8080,
	LogLevel:        "info",
	MaxParticipants: 8,
	Client: ClientConfig{
		ServerURL:              "http://localhost:8080",
		Device:                 DeviceSynthetic,
		LeaveTimeout:           5 * time.Second,
		ICEDisconnectedTimeout: 5 * time.Second,
		ICEFailedTimeout:       15 * time.Second,
		ICEServers: []ICEServerConfig{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	if err := yaml.Unmarshal(marshalled, &conf); err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		conf.updateFromCLI(c)
	}

	if conf.LogLevel == "" && conf.Development {
		conf.LogLevel = "debug"
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.MaxParticipants < 2 {
		return ErrInvalidMaxParticipants
	}
	seen := make(map[string]bool, len(conf.Channels))
	for _, ch := range conf.Channels {
		if seen[ch.ID] {
			return errors.Wrap(ErrDuplicateChannel, ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

func (conf *Config) updateFromCLI(c *cli.Context) {
	if c.IsSet("port") {
		conf.Port = uint32(c.Uint("port"))
	}
	if c.IsSet("bind") {
		conf.BindAddress = c.String("bind")
	}
	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("log-level") {
		conf.LogLevel = c.String("log-level")
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("max-participants") {
		conf.MaxParticipants = c.Int("max-participants")
	}
	if c.IsSet("server") {
		conf.Client.ServerURL = c.String("server")
	}
	if c.IsSet("user-id") {
		conf.Client.UserID = c.String("user-id")
	}
	if c.IsSet("name") {
		conf.Client.Name = c.String("name")
	}
	if c.IsSet("video") {
		conf.Client.Video = c.Bool("video")
	}
	if c.IsSet("device") {
		conf.Client.Device = c.String("device")
	}
}

// DomainChannels converts the configured channels for the channel directory.
func (conf *Config) DomainChannels() []domain.Channel {
	out := make([]domain.Channel, 0, len(conf.Channels))
	for _, ch := range conf.Channels {
		dc := domain.Channel{ID: domain.ChannelID(ch.ID), Name: ch.Name}
		for _, m := range ch.Members {
			dc.Members = append(dc.Members, domain.Participant{ID: domain.UserID(m.ID), Name: m.Name})
		}
		for _, a := range ch.Admins {
			dc.Admins = append(dc.Admins, domain.UserID(a))
		}
		out = append(out, dc)
	}
	return out
}

func (c ClientConfig) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// GetConfigString returns inline config when set, otherwise the content of configFile.
func GetConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}
	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}
	return string(outConfigBody), nil
}
