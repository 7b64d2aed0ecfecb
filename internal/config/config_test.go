package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestDefaults(t *testing.T) {
	conf, err := NewConfig("", true, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(8080), conf.Port)
	require.Equal(t, 8, conf.MaxParticipants)
	require.Equal(t, DeviceSynthetic, conf.Client.Device)
	require.Equal(t, 5*time.Second, conf.Client.LeaveTimeout)
	require.False(t, conf.Redis.IsConfigured())
}

func TestParse(t *testing.T) {
	conf, err := NewConfig(`
port: 9000
max_participants: 4
redis:
  address: localhost:6379
channels:
  - id: c1
    name: general
    members:
      - id: "1"
        name: Alice
      - id: "2"
    admins: ["1"]
client:
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: u
      credential: p
`, true, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(9000), conf.Port)
	require.Equal(t, 4, conf.MaxParticipants)
	require.True(t, conf.Redis.IsConfigured())

	channels := conf.DomainChannels()
	require.Len(t, channels, 1)
	require.Equal(t, domain.ChannelID("c1"), channels[0].ID)
	require.True(t, channels[0].IsAdmin("1"))
	require.False(t, channels[0].IsAdmin("2"))
	require.Equal(t, "Alice", channels[0].MemberName("1"))

	ice := conf.Client.WebRTCICEServers()
	require.Len(t, ice, 1)
	require.Equal(t, "p", ice[0].Credential)
}

func TestStrictMode(t *testing.T) {
	_, err := NewConfig("unknown_key: 1", true, nil)
	require.Error(t, err)

	_, err = NewConfig("unknown_key: 1", false, nil)
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	_, err := NewConfig("max_participants: 1", true, nil)
	require.ErrorIs(t, err, ErrInvalidMaxParticipants)

	_, err = NewConfig(`
channels:
  - id: c1
  - id: c1
`, true, nil)
	require.ErrorIs(t, err, ErrDuplicateChannel)
}

func TestUpdateFromCLI(t *testing.T) {
	app := cli.NewApp()
	set := flag.NewFlagSet("test", 0)
	set.Uint("port", 0, "")
	set.String("redis-host", "", "")
	set.Bool("video", false, "")
	require.NoError(t, set.Parse([]string{"--port", "7000", "--redis-host", "redis:6379", "--video"}))

	conf, err := NewConfig("port: 9000", true, cli.NewContext(app, set, nil))
	require.NoError(t, err)
	require.Equal(t, uint32(7000), conf.Port)
	require.Equal(t, "redis:6379", conf.Redis.Address)
	require.True(t, conf.Client.Video)
}

func TestGetConfigString(t *testing.T) {
	body, err := GetConfigString("", "inline")
	require.NoError(t, err)
	require.Equal(t, "inline", body)

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 1"), 0o644))
	body, err = GetConfigString(file, "")
	require.NoError(t, err)
	require.Equal(t, "port: 1", body)

	_, err = GetConfigString(filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}
