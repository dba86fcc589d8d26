package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
	"github.com/crossdesk/crossdesk/pkg/server"
	"github.com/crossdesk/crossdesk/pkg/topology"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordSink struct {
	mu     sync.Mutex
	events []protocol.Message
}

func (s *recordSink) HandleEvent(msg protocol.Message) {
	s.mu.Lock()
	s.events = append(s.events, msg)
	s.mu.Unlock()
}

func (s *recordSink) snapshot() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// serverSink records what the server's event sink receives.
type serverSink struct {
	mu     sync.Mutex
	events []protocol.Message
}

func (s *serverSink) HandleEvent(screen string, msg protocol.Message) {
	s.mu.Lock()
	s.events = append(s.events, msg)
	s.mu.Unlock()
}

func (s *serverSink) contains(pred func(protocol.Message) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.events {
		if pred(m) {
			return true
		}
	}
	return false
}

// closedPort reserves a loopback port and immediately releases it, so
// dialing it is refused.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startServer(t *testing.T, sink server.EventSink, screens ...string) (*server.Server, string) {
	t.Helper()
	b := server.NewBuilder().Config(server.Config{
		Name:              "primary",
		HandshakeTimeout:  2 * time.Second,
		KeepAliveInterval: time.Hour,
	})
	if sink != nil {
		b.EventSink(sink)
	}
	positions := []topology.Position{topology.Left, topology.Right, topology.Above, topology.Below}
	for i, name := range screens {
		scr, err := topology.NewScreen(name).Position(positions[i%len(positions)]).Dimensions(1920, 1080).Build()
		if err != nil {
			t.Fatalf("failed to build screen %s: %v", name, err)
		}
		if err := b.AddScreen(scr); err != nil {
			t.Fatalf("failed to add screen %s: %v", name, err)
		}
	}
	srv, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)
	return srv, ln.Addr().String()
}

func connectClient(t *testing.T, addr, name string, sink EventSink) *Connection {
	t.Helper()
	b := NewBuilder().Name(name).Config(Config{
		ConnectTimeout:   5 * time.Second,
		RetryDelay:       10 * time.Millisecond,
		MaxRetries:       3,
		HandshakeTimeout: 2 * time.Second,
		KeepAliveTimeout: time.Hour,
	}).ScreenInfo(protocol.ClientInfo{Width: 1920, Height: 1080})
	if sink != nil {
		b.EventSink(sink)
	}
	cb, err := b.ServerAddr(addr)
	if err != nil {
		t.Fatalf("failed to parse address: %v", err)
	}
	c, err := cb.Connect(context.Background())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return c
}

func TestConnectRequiresName(t *testing.T) {
	cb, err := NewBuilder().ServerAddr("127.0.0.1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cb.Connect(context.Background()); err == nil {
		t.Fatal("expected an error for a nameless client")
	}
}

func TestConnectRetriesExhausted(t *testing.T) {
	addr := closedPort(t)
	cb, err := NewBuilder().Name("laptop").Config(Config{
		ConnectTimeout: 5 * time.Second,
		RetryDelay:     10 * time.Millisecond,
		MaxRetries:     3,
	}).ServerAddr(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = cb.Connect(context.Background())
	var retriesErr *MaxRetriesError
	if !errors.As(err, &retriesErr) {
		t.Fatalf("expected MaxRetriesError, got %v", err)
	}
	if retriesErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", retriesErr.Attempts)
	}
	if retriesErr.Unwrap() == nil {
		t.Error("expected the last dial error to be preserved")
	}
}

func TestConnectSingleAttempt(t *testing.T) {
	addr := closedPort(t)
	cb, err := NewBuilder().
		Name("laptop").
		Dimensions(1920, 1080).
		RetryCount(1).
		RetryInterval(10 * time.Millisecond).
		ServerAddr(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = cb.Connect(context.Background())
	var retriesErr *MaxRetriesError
	if !errors.As(err, &retriesErr) {
		t.Fatalf("expected MaxRetriesError, got %v", err)
	}
	if retriesErr.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", retriesErr.Attempts)
	}
}

func TestConnectTimeoutBudget(t *testing.T) {
	addr := closedPort(t)
	cb, err := NewBuilder().Name("laptop").Config(Config{
		ConnectTimeout: 150 * time.Millisecond,
		RetryDelay:     60 * time.Millisecond,
		MaxRetries:     1000,
	}).ServerAddr(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = cb.Connect(context.Background())
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Elapsed <= 0 {
		t.Errorf("expected a positive elapsed time, got %s", timeoutErr.Elapsed)
	}
}

// pipeClient builds a client over one end of an in-memory pipe so the
// test can play the server on the other end.
func pipeClient(name string, conn net.Conn) *Connection {
	return &Connection{
		name:             name,
		addr:             "pipe",
		conn:             conn,
		logger:           zerolog.Nop(),
		sink:             logSink{logger: zerolog.Nop()},
		keepAliveTimeout: time.Hour,
		info:             protocol.ClientInfo{Width: 1024, Height: 768},
		clipboards:       make(map[uint8]*protocol.StreamAssembler),
		fileStream:       protocol.NewStreamAssembler(0),
		done:             make(chan struct{}),
	}
}

func TestHandshakeSynergyDialect(t *testing.T) {
	srvEnd, cliEnd := net.Pipe()
	defer srvEnd.Close()
	defer cliEnd.Close()

	c := pipeClient("laptop", cliEnd)
	hsErr := make(chan error, 1)
	go func() { hsErr <- c.handshake(2 * time.Second) }()

	if err := protocol.WriteFrame(srvEnd, &protocol.HelloSynergy{Major: 1, Minor: 6}); err != nil {
		t.Fatalf("failed to send greeting: %v", err)
	}

	msg, err := protocol.ReadFrame(srvEnd)
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}
	reply, ok := msg.(*protocol.HelloSynergy)
	if !ok {
		t.Fatalf("expected the reply in the greeting's dialect, got %T", msg)
	}
	if reply.Name == nil || *reply.Name != "laptop" {
		t.Fatalf("expected the reply to carry the screen name, got %+v", reply)
	}
	if reply.Major != protocol.ProtocolMajorVersion || reply.Minor != protocol.ProtocolMinorVersion {
		t.Errorf("expected version %d.%d in reply, got %d.%d",
			protocol.ProtocolMajorVersion, protocol.ProtocolMinorVersion, reply.Major, reply.Minor)
	}

	if err := protocol.WriteFrame(srvEnd, &protocol.QueryInfo{}); err != nil {
		t.Fatalf("failed to send info query: %v", err)
	}
	msg, err = protocol.ReadFrame(srvEnd)
	if err != nil {
		t.Fatalf("failed to read client info: %v", err)
	}
	info, ok := msg.(*protocol.ClientInfo)
	if !ok {
		t.Fatalf("expected client info, got %T", msg)
	}
	if info.Width != 1024 || info.Height != 768 {
		t.Errorf("expected 1024x768, got %dx%d", info.Width, info.Height)
	}
	if err := protocol.WriteFrame(srvEnd, &protocol.InfoAck{}); err != nil {
		t.Fatalf("failed to send info ack: %v", err)
	}

	if err := <-hsErr; err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
}

func TestHandshakeRejectsMajorMismatch(t *testing.T) {
	srvEnd, cliEnd := net.Pipe()
	defer srvEnd.Close()
	defer cliEnd.Close()

	c := pipeClient("laptop", cliEnd)
	hsErr := make(chan error, 1)
	go func() { hsErr <- c.handshake(2 * time.Second) }()

	if err := protocol.WriteFrame(srvEnd, &protocol.HelloBarrier{Major: 2, Minor: 0}); err != nil {
		t.Fatalf("failed to send greeting: %v", err)
	}

	if err := <-hsErr; !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("expected ErrIncompatibleVersion, got %v", err)
	}
}

func TestClientLivenessTimeout(t *testing.T) {
	srvEnd, cliEnd := net.Pipe()
	defer srvEnd.Close()

	c := pipeClient("laptop", cliEnd)
	c.keepAliveTimeout = 100 * time.Millisecond
	c.touch()
	go c.run()

	// The server end stays silent; the liveness watchdog must close
	// the session on its own.
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the client to give up on a silent server")
	}

	if err := c.Err(); err == nil {
		t.Fatal("expected a liveness error")
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
}

func TestClientServerSession(t *testing.T) {
	srvSink := &serverSink{}
	srv, addr := startServer(t, srvSink, "laptop")

	sink := &recordSink{}
	c := connectClient(t, addr, "laptop", sink)
	defer c.Close()

	if c.Name() != "laptop" {
		t.Errorf("expected name laptop, got %s", c.Name())
	}
	if c.State() != StateConnected {
		t.Errorf("expected connected state, got %s", c.State())
	}

	waitFor(t, 2*time.Second, func() bool {
		clients := srv.Clients()
		return len(clients) == 1 && clients[0] == "laptop"
	}, "server to register the client")

	// The baseline options pushed right after the handshake carry the
	// heartbeat interval.
	waitFor(t, 2*time.Second, func() bool { return len(c.Options()) > 0 }, "baseline options")
	opts := c.Options()
	if opts[0].Key != protocol.OptionHeartbeat {
		t.Errorf("expected the heartbeat option first, got %#x", uint32(opts[0].Key))
	}

	if err := srv.EnterScreen("laptop", 5, 6, 0); err != nil {
		t.Fatalf("failed to enter screen: %v", err)
	}
	waitFor(t, 2*time.Second, c.Active, "cursor entry")
	if c.Sequence() != 1 {
		t.Errorf("expected sequence 1, got %d", c.Sequence())
	}

	if err := srv.Send("laptop", &protocol.KeyDown{KeyID: 0x61, Mask: 0x2, Button: 38}); err != nil {
		t.Fatalf("failed to send key down: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 2 }, "key event")

	events := sink.snapshot()
	if entered, ok := events[0].(*protocol.CursorEntered); !ok {
		t.Errorf("expected the first event to be a cursor entry, got %T", events[0])
	} else if entered.X != 5 || entered.Y != 6 || entered.Sequence != 1 {
		t.Errorf("unexpected cursor entry %+v", entered)
	}
	if key, ok := events[1].(*protocol.KeyDown); !ok {
		t.Errorf("expected the second event to be a key down, got %T", events[1])
	} else if key.KeyID != 0x61 || key.Button != 38 {
		t.Errorf("unexpected key down %+v", key)
	}

	// Large enough to force the chunked stream path.
	payload := strings.Repeat("x", clipboardChunkSize+100)
	if err := c.SendClipboard(1, payload); err != nil {
		t.Fatalf("failed to send clipboard: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return srvSink.contains(func(m protocol.Message) bool {
			data, ok := m.(*protocol.ClipboardData)
			return ok && data.Data == payload && data.ID == 1 && data.Sequence == 1
		})
	}, "assembled clipboard on the server")

	if err := srv.LeaveScreen("laptop"); err != nil {
		t.Fatalf("failed to leave screen: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !c.Active() }, "cursor exit")

	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("expected closed state, got %s", c.State())
	}
	if err := c.Err(); err != nil {
		t.Errorf("expected a clean close, got %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(srv.Clients()) == 0 }, "server to drop the client")
}

func TestConnectRejectedUnknownScreen(t *testing.T) {
	_, addr := startServer(t, nil, "desk")

	cb, err := NewBuilder().Name("ghost").Config(Config{
		ConnectTimeout: 5 * time.Second,
		RetryDelay:     10 * time.Millisecond,
		MaxRetries:     3,
	}).ServerAddr(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cb.Connect(context.Background()); !errors.Is(err, ErrUnknownScreen) {
		t.Fatalf("expected ErrUnknownScreen, got %v", err)
	}
}

func TestConnectRejectedBusy(t *testing.T) {
	_, addr := startServer(t, nil, "desk")

	first := connectClient(t, addr, "desk", nil)
	defer first.Close()

	cb, err := NewBuilder().Name("desk").Config(Config{
		ConnectTimeout: 5 * time.Second,
		RetryDelay:     10 * time.Millisecond,
		MaxRetries:     3,
	}).ServerAddr(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cb.Connect(context.Background()); !errors.Is(err, ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
}

func TestServerShutdownClosesClient(t *testing.T) {
	srv, addr := startServer(t, nil, "laptop")
	c := connectClient(t, addr, "laptop", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the client to notice the goodbye")
	}
	if err := c.Err(); err != nil {
		t.Errorf("expected a clean goodbye, got %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("expected closed state, got %s", c.State())
	}
}
