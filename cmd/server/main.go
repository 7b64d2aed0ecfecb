package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Wyydra/yacall/internal/adapter/driven/directory/static"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/registry/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/registry/redisstore"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"YACALL_CONFIG"},
	},
	&cli.UintFlag{
		Name:    "port",
		Usage:   "HTTP port for the REST API and the relay websocket",
		EnvVars: []string{"PORT"},
	},
	&cli.StringFlag{
		Name:  "bind",
		Usage: "IP address to listen on",
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server, calls are kept in memory when unset",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.IntFlag{
		Name:  "max-participants",
		Usage: "participants allowed in one mesh call",
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
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:   "yacall-server",
		Usage:  "call registry and signaling relay for mesh group calls",
		Flags:  baseFlags,
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := config.GetConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}
	conf, err := config.NewConfig(confString, !c.Bool("disable-strict-config"), c)
	if err != nil {
		return nil, err
	}
	config.InitLogger(conf.LogLevel, conf.Development)
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	calls, closeCalls, err := newCallRegistry(c.Context, conf.Redis)
	if err != nil {
		return err
	}
	defer closeCalls()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewRelay(reg)

	hub := ws.NewHub(m)
	directory := static.NewDirectory(conf.DomainChannels())
	callService := service.NewCallService(calls, directory, hub, m, conf.MaxParticipants)
	hub.OnOffline(func(userID domain.UserID) {
		callService.Disconnect(context.Background(), userID)
	})
	go hub.Run()

	h := handler.NewHandler(callService, hub, reg, conf.CORS.AllowedOrigins)

	addr := net.JoinHostPort(conf.BindAddress, strconv.Itoa(int(conf.Port)))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Int("channels", len(conf.Channels)).
			Int("max_participants", conf.MaxParticipants).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("Server exited")
	return nil
}

// newCallRegistry keeps calls in redis when configured so a restarted relay
// still knows them, and in memory otherwise.
func newCallRegistry(ctx context.Context, conf config.RedisConfig) (port.CallRegistry, func(), error) {
	if !conf.IsConfigured() {
		log.Info().Msg("Using in-memory call registry")
		return memory.NewCallRepository(), func() {}, nil
	}

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{conf.Address},
		Username: conf.Username,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, errors.Wrapf(err, "unable to connect to redis at %s", conf.Address)
	}
	log.Info().Str("addr", conf.Address).Msg("Using redis call registry")
	return redisstore.NewCallRepository(rc), func() { _ = rc.Close() }, nil
}
