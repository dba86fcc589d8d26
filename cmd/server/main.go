package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.crossdesk/server.toml", "Path to config file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("CrossDesk Server %s\n", Version)
		os.Exit(0)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(config.Server.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Str("app", "crossdesk-server").Logger().Level(level)

	builder := server.NewBuilder().
		Config(config.ServerConfig()).
		Logger(logger)

	screens, err := config.TopologyScreens()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid screen layout")
	}
	if len(screens) == 0 {
		logger.Fatal().Str("config", *configPath).Msg("no screens configured")
	}
	for _, scr := range screens {
		if err := builder.AddScreen(scr); err != nil {
			logger.Fatal().Err(err).Str("screen", scr.Name).Msg("invalid screen layout")
		}
		logger.Info().Str("screen", scr.Name).Str("position", scr.Position.String()).Msg("screen configured")
	}

	srv, err := builder.Build()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	if config.Metrics.Enabled {
		go func() {
			if err := srv.ServeStatus(config.Metrics.Listen); err != nil {
				logger.Error().Err(err).Msg("status endpoint failed")
			}
		}()
	}
	if config.WebSocket.Enabled {
		go func() {
			if err := srv.ServeWebSocket(config.WebSocket.Listen, config.WebSocket.Path); err != nil {
				logger.Error().Err(err).Msg("websocket listener failed")
			}
		}()
	}

	addr := config.Server.Listen
	if *listen != "" {
		addr = *listen
	}
	logger.Info().Str("addr", addr).Str("version", Version).Msg("starting server")
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Listen(addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown incomplete, forcing stop")
			srv.Stop()
		}
	}
	logger.Info().Msg("server stopped")
}
