package client

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// Config holds client tuning parameters
type Config struct {
	// ConnectTimeout bounds the whole Connect call, retries included.
	ConnectTimeout time.Duration
	// RetryDelay is the pause between dial attempts.
	RetryDelay time.Duration
	// MaxRetries is the number of dial attempts before giving up.
	MaxRetries int
	// HandshakeTimeout bounds the greeting and info exchange on an
	// established connection.
	HandshakeTimeout time.Duration
	// KeepAliveTimeout is how long server silence is tolerated.
	KeepAliveTimeout time.Duration
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   30 * time.Second,
		RetryDelay:       1 * time.Second,
		MaxRetries:       3,
		HandshakeTimeout: 30 * time.Second,
		KeepAliveTimeout: 9 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = def.KeepAliveTimeout
	}
	return c
}

// Builder assembles a client. ServerAddr moves to the connect phase,
// so a bad address fails at the line that configured it and a
// ConnectBuilder always holds a dialable one.
type Builder struct {
	name   string
	info   protocol.ClientInfo
	config Config
	logger zerolog.Logger
	sink   EventSink
}

// NewBuilder creates a client builder with default configuration
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// Name sets the screen name this client registers under
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// ScreenInfo sets the geometry reported to the server
func (b *Builder) ScreenInfo(info protocol.ClientInfo) *Builder {
	b.info = info
	return b
}

// Dimensions sets the screen size reported to the server
func (b *Builder) Dimensions(width, height uint16) *Builder {
	b.info.Width = width
	b.info.Height = height
	return b
}

// Config replaces the client configuration
func (b *Builder) Config(cfg Config) *Builder {
	b.config = cfg
	return b
}

// RetryCount sets the number of dial attempts before giving up
func (b *Builder) RetryCount(n int) *Builder {
	b.config.MaxRetries = n
	return b
}

// RetryInterval sets the pause between dial attempts
func (b *Builder) RetryInterval(d time.Duration) *Builder {
	b.config.RetryDelay = d
	return b
}

// ConnectionTimeout bounds the whole Connect call, retries included
func (b *Builder) ConnectionTimeout(d time.Duration) *Builder {
	b.config.ConnectTimeout = d
	return b
}

// KeepAliveTimeout sets how long server silence is tolerated
func (b *Builder) KeepAliveTimeout(d time.Duration) *Builder {
	b.config.KeepAliveTimeout = d
	return b
}

// Logger sets the logger; the default discards everything
func (b *Builder) Logger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// EventSink sets where server-pushed events are delivered
func (b *Builder) EventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// ServerAddr validates and normalizes the server address and returns
// the connect phase.
func (b *Builder) ServerAddr(addr string) (*ConnectBuilder, error) {
	resolved, err := parseServerAddr(addr)
	if err != nil {
		return nil, err
	}
	return &ConnectBuilder{builder: *b, addr: resolved}, nil
}

// ConnectBuilder is a builder whose server address has been validated.
type ConnectBuilder struct {
	builder Builder
	addr    string
}

// Addr returns the normalized host:port the client will dial
func (cb *ConnectBuilder) Addr() string {
	return cb.addr
}

// Connect dials the server, retrying failed attempts, and completes
// the handshake. The whole call is bounded by ConnectTimeout and by
// ctx. Rejections from the server are final and end the retry loop.
func (cb *ConnectBuilder) Connect(ctx context.Context) (*Connection, error) {
	if cb.builder.name == "" {
		return nil, errors.New("client name is required")
	}
	cfg := cb.builder.config.withDefaults()
	logger := cb.builder.logger

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return nil, budgetError(ctx, start)
			}
		}

		conn, err := dialer.DialContext(ctx, "tcp", cb.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, budgetError(ctx, start)
			}
			logger.Warn().Err(err).Int("attempt", attempt).Str("addr", cb.addr).Msg("dial failed")
			lastErr = err
			continue
		}

		c, err := cb.establish(conn, cfg)
		if err != nil {
			conn.Close()
			// Rejections are final; retrying the same handshake is
			// pointless.
			if IsRejection(err) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, budgetError(ctx, start)
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("handshake failed")
			lastErr = err
			continue
		}
		return c, nil
	}
	return nil, &MaxRetriesError{Attempts: cfg.MaxRetries, Last: lastErr}
}

// establish runs the handshake on a fresh connection and starts the
// session.
func (cb *ConnectBuilder) establish(conn net.Conn, cfg Config) (*Connection, error) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	sink := cb.builder.sink
	if sink == nil {
		sink = logSink{logger: cb.builder.logger}
	}

	c := &Connection{
		name:             cb.builder.name,
		addr:             cb.addr,
		conn:             conn,
		logger:           cb.builder.logger.With().Str("screen", cb.builder.name).Logger(),
		sink:             sink,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		info:             cb.builder.info,
		clipboards:       make(map[uint8]*protocol.StreamAssembler),
		fileStream:       protocol.NewStreamAssembler(0),
		done:             make(chan struct{}),
	}
	if err := c.handshake(cfg.HandshakeTimeout); err != nil {
		return nil, err
	}

	go c.run()
	return c, nil
}

func budgetError(ctx context.Context, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Elapsed: time.Since(start)}
	}
	return ctx.Err()
}
