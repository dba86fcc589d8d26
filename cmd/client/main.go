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

	"github.com/crossdesk/crossdesk/pkg/client"
	"github.com/crossdesk/crossdesk/pkg/protocol"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.crossdesk/client.toml", "Path to config file")
	serverAddr := flag.String("server", "", "Server address (overrides config)")
	name := flag.String("name", "", "Screen name (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("CrossDesk Client %s\n", Version)
		os.Exit(0)
	}

	config, err := client.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *serverAddr != "" {
		config.Client.Server = *serverAddr
	}
	if *name != "" {
		config.Client.Name = *name
	}

	level, err := zerolog.ParseLevel(config.Client.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Str("app", "crossdesk-client").Logger().Level(level)

	// Without a platform input layer this client just reports what the
	// server pushes at it.
	sink := client.EventSinkFunc(func(msg protocol.Message) {
		switch m := msg.(type) {
		case *protocol.CursorEntered:
			logger.Info().Int("x", int(m.X)).Int("y", int(m.Y)).Msg("cursor entered")
		case *protocol.CursorLeft:
			logger.Info().Msg("cursor left")
		case *protocol.ClipboardData:
			logger.Info().Uint8("clipboard", m.ID).Int("bytes", len(m.Data)).Msg("clipboard received")
		case *protocol.FileTransfer:
			logger.Info().Int("bytes", len(m.Data)).Msg("file received")
		default:
			logger.Debug().Str("code", msg.Code()).Msg("event")
		}
	})

	cb, err := client.NewBuilder().
		Name(config.Client.Name).
		ScreenInfo(config.ScreenInfo()).
		Config(config.ClientConfig()).
		Logger(logger).
		EventSink(sink).
		ServerAddr(config.Client.Server)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := cb.Connect(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cb.Addr()).Msg("failed to connect")
	}

	logger.Info().Str("addr", c.Addr()).Str("screen", c.Name()).Str("version", Version).Msg("connected")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		c.Close()
	case <-c.Done():
		if err := c.Err(); err != nil {
			logger.Error().Err(err).Msg("connection lost")
			os.Exit(1)
		}
		logger.Info().Msg("server closed the session")
	}
}
