package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
	"github.com/crossdesk/crossdesk/pkg/topology"
)

// Config holds server tuning parameters
type Config struct {
	// Name is the server's own screen name.
	Name string
	// HandshakeTimeout bounds the whole greeting and info exchange.
	HandshakeTimeout time.Duration
	// KeepAliveInterval is the cadence of outbound pings.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout is how long inbound silence is tolerated.
	KeepAliveTimeout time.Duration
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Name:              "primary",
		HandshakeTimeout:  30 * time.Second,
		KeepAliveInterval: 3 * time.Second,
		KeepAliveTimeout:  9 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 3 * c.KeepAliveInterval
	}
	return c
}

// Builder assembles a Server. Screens are validated as they are added
// so a broken layout fails at the line that configured it, not at
// listen time.
type Builder struct {
	topo   *topology.Topology
	config Config
	logger zerolog.Logger
	sink   EventSink
}

// NewBuilder creates a server builder with default configuration
func NewBuilder() *Builder {
	return &Builder{
		topo:   topology.New(),
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// AddScreen adds a screen to the layout
func (b *Builder) AddScreen(screen topology.Screen) error {
	return b.topo.Add(screen)
}

// Config replaces the server configuration
func (b *Builder) Config(cfg Config) *Builder {
	b.config = cfg
	return b
}

// Logger sets the logger; the default discards everything
func (b *Builder) Logger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// EventSink sets where client events are delivered
func (b *Builder) EventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// Build creates the server
func (b *Builder) Build() (*Server, error) {
	if b.topo.Len() == 0 {
		return nil, errors.New("server needs at least one configured screen")
	}

	metrics := serverMetrics()
	registry := NewRegistry()
	registry.SetMetrics(metrics)

	sink := b.sink
	if sink == nil {
		sink = logSink{logger: b.logger}
	}

	return &Server{
		topology:  b.topo,
		registry:  registry,
		config:    b.config.withDefaults(),
		logger:    b.logger,
		sink:      sink,
		metrics:   metrics,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// Server accepts connections and runs one session per connected client
// screen.
type Server struct {
	topology *topology.Topology
	registry *Registry
	config   Config
	logger   zerolog.Logger
	sink     EventSink
	metrics  *Metrics

	mu        sync.Mutex
	listeners []net.Listener
	httpSrvs  []*http.Server

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// ErrClientNotConnected is returned when addressing a client that has
// no active session.
var ErrClientNotConnected = errors.New("client not connected")

// Topology returns the configured screen layout
func (s *Server) Topology() *topology.Topology {
	return s.topology
}

// Clients returns the names of currently connected clients, sorted
func (s *Server) Clients() []string {
	return s.registry.Names()
}

// Listen starts accepting TCP connections on addr. It blocks until
// the server shuts down.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Stop or Shutdown. A clean
// shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.trackListener(ln)
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient failures happen under fd pressure; keep going.
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection owns one transport from accept to close.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		// Input events are tiny and latency-sensitive; never let them
		// sit in Nagle buffers.
		tcp.SetNoDelay(true)
	}

	remote := conn.RemoteAddr().String()
	s.logger.Debug().Str("remote", remote).Msg("connection accepted")

	sess, err := s.handshake(conn)
	if err != nil {
		s.logger.Info().Err(err).Str("remote", remote).Msg("handshake failed")
		return
	}

	sess.run()
	s.registry.Remove(sess.Name(), sess)
	s.logger.Info().Str("client", sess.Name()).Msg("client disconnected")
}

// Send delivers a message to a connected client
func (s *Server) Send(client string, m protocol.Message) error {
	sess, ok := s.registry.Get(client)
	if !ok {
		return fmt.Errorf("%q: %w", client, ErrClientNotConnected)
	}
	return sess.send(m)
}

// EnterScreen moves input focus to a client. The cursor appears at
// (x, y) on the client's screen with the given toggle-modifier mask.
// Clipboard messages from the client must echo the sequence number
// this assigns.
func (s *Server) EnterScreen(client string, x, y int16, mask uint16) error {
	sess, ok := s.registry.Get(client)
	if !ok {
		return fmt.Errorf("%q: %w", client, ErrClientNotConnected)
	}
	return sess.enterScreen(x, y, mask)
}

// LeaveScreen tells a client the cursor has left its screen
func (s *Server) LeaveScreen(client string) error {
	sess, ok := s.registry.Get(client)
	if !ok {
		return fmt.Errorf("%q: %w", client, ErrClientNotConnected)
	}
	return sess.leaveScreen()
}

func (s *Server) trackListener(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
}

func (s *Server) trackHTTPServer(srv *http.Server) {
	s.mu.Lock()
	s.httpSrvs = append(s.httpSrvs, srv)
	s.mu.Unlock()
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	listeners := s.listeners
	httpSrvs := s.httpSrvs
	s.listeners = nil
	s.httpSrvs = nil
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, srv := range httpSrvs {
		srv.Close()
	}
}

// Stop closes the listeners and tears down every session immediately.
func (s *Server) Stop() {
	s.closeOnce.Do(func() { close(s.shutdown) })
	s.closeListeners()
	s.registry.CloseAll()
	s.wg.Wait()
	s.logger.Info().Msg("server stopped")
}

// Shutdown closes the listeners, says goodbye to every client, and
// waits for sessions to drain until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.shutdown) })
	s.closeListeners()

	for _, sess := range s.registry.Sessions() {
		if err := sess.send(&protocol.Close{}); err != nil {
			s.logger.Debug().Err(err).Str("client", sess.Name()).Msg("failed to send goodbye")
		}
		sess.markClosing()
		sess.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("server shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
