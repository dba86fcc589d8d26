package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// State is the client lifecycle after a successful Connect.
type State int32

const (
	// StateConnected means the session is exchanging messages.
	StateConnected State = iota
	// StateClosing means a goodbye was seen or sent.
	StateClosing
	// StateClosed means the transport is closed and the session
	// goroutine has exited.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// clipboardChunkSize is the largest clipboard payload sent as a single
// message; anything bigger goes out as a chunk stream. Well under the
// frame size cap so the rest of the message always fits.
const clipboardChunkSize = 512 << 10

// Connection is an established session with a server. A single
// goroutine reads frames and a liveness goroutine watches for server
// silence; writes serialize on the write mutex.
type Connection struct {
	name   string
	addr   string
	conn   net.Conn
	logger zerolog.Logger
	sink   EventSink

	keepAliveTimeout time.Duration

	writeMu  sync.Mutex
	state    atomic.Int32
	lastSeen atomic.Int64
	seq      atomic.Uint32 // sequence from the latest cursor entry
	active   atomic.Bool   // cursor currently on this screen

	mu         sync.Mutex
	info       protocol.ClientInfo
	options    []protocol.Option
	clipboards map[uint8]*protocol.StreamAssembler
	fileStream *protocol.StreamAssembler

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// Name returns the screen name this client registered under
func (c *Connection) Name() string { return c.name }

// Addr returns the server address the client dialed
func (c *Connection) Addr() string { return c.addr }

// State returns the client lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Active reports whether the cursor is currently on this screen
func (c *Connection) Active() bool {
	return c.active.Load()
}

// Sequence returns the sequence number of the latest cursor entry
func (c *Connection) Sequence() uint32 {
	return c.seq.Load()
}

// Done is closed when the session ends for any reason
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns what ended the session, nil for a clean goodbye or a
// local Close. Meaningful once Done is closed.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Info returns the geometry this client reports to the server
func (c *Connection) Info() protocol.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Options returns the effective option set pushed by the server
func (c *Connection) Options() []protocol.Option {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Option, len(c.options))
	copy(out, c.options)
	return out
}

// Send writes one message to the server. Safe for concurrent use.
func (c *Connection) Send(m protocol.Message) error {
	c.writeMu.Lock()
	err := protocol.WriteFrame(c.conn, m)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Code(), err)
	}
	return nil
}

// UpdateInfo reports new geometry to the server
func (c *Connection) UpdateInfo(info protocol.ClientInfo) error {
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	return c.Send(&info)
}

// SendClipboard announces a clipboard grab and sends its content,
// chunking payloads too large for a single message. The grab carries
// the sequence number of the latest cursor entry so the server can
// tell it is current.
func (c *Connection) SendClipboard(id uint8, data string) error {
	seq := c.seq.Load()
	if err := c.Send(&protocol.ClientClipboard{ID: id, Sequence: seq}); err != nil {
		return err
	}

	if len(data) <= clipboardChunkSize {
		return c.Send(&protocol.ClipboardData{
			ID: id, Sequence: seq, Mark: protocol.StreamSingle, Data: data,
		})
	}

	if err := c.Send(&protocol.ClipboardData{
		ID: id, Sequence: seq, Mark: protocol.StreamStart, Data: strconv.Itoa(len(data)),
	}); err != nil {
		return err
	}
	for off := 0; off < len(data); off += clipboardChunkSize {
		end := off + clipboardChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := c.Send(&protocol.ClipboardData{
			ID: id, Sequence: seq, Mark: protocol.StreamMiddle, Data: data[off:end],
		}); err != nil {
			return err
		}
	}
	return c.Send(&protocol.ClipboardData{
		ID: id, Sequence: seq, Mark: protocol.StreamEnd,
	})
}

// Close says goodbye and tears the session down. It waits for the
// session goroutine to exit.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.markClosing()
		if err := c.Send(&protocol.Close{}); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send goodbye")
		}
		c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Connection) sinceLastSeen() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.lastSeen.Load())
}

func (c *Connection) markClosing() {
	c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing))
}

// fail records the first terminal error.
func (c *Connection) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// handshake answers the server's greeting and completes the info
// exchange. The greeting's dialect decides the reply's dialect.
func (c *Connection) handshake(timeout time.Duration) error {
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	msg, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read greeting: %w", err)
	}

	name := c.name
	var reply protocol.Message
	switch g := msg.(type) {
	case *protocol.HelloBarrier:
		if g.Major != protocol.ProtocolMajorVersion {
			return fmt.Errorf("%w: server speaks %d.%d", ErrIncompatibleVersion, g.Major, g.Minor)
		}
		reply = &protocol.HelloBarrier{
			Major: protocol.ProtocolMajorVersion,
			Minor: protocol.ProtocolMinorVersion,
			Name:  &name,
		}
	case *protocol.HelloSynergy:
		if g.Major != protocol.ProtocolMajorVersion {
			return fmt.Errorf("%w: server speaks %d.%d", ErrIncompatibleVersion, g.Major, g.Minor)
		}
		reply = &protocol.HelloSynergy{
			Major: protocol.ProtocolMajorVersion,
			Minor: protocol.ProtocolMinorVersion,
			Name:  &name,
		}
	default:
		return fmt.Errorf("expected a greeting, got %s", msg.Code())
	}
	if err := c.Send(reply); err != nil {
		return err
	}

	// The server's next message is either a rejection or the info
	// query that opens the session.
	msg, err = protocol.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	switch m := msg.(type) {
	case *protocol.QueryInfo:
	case *protocol.UnknownClient:
		return ErrUnknownScreen
	case *protocol.ServerBusy:
		return ErrServerBusy
	case *protocol.IncompatibleVersion:
		return fmt.Errorf("%w: server rejected our version, echoed %d.%d", ErrIncompatibleVersion, m.RemoteMajor, m.RemoteMinor)
	case *protocol.ProtocolViolation:
		return ErrRejected
	default:
		return fmt.Errorf("expected an info query, got %s", msg.Code())
	}

	if err := c.Send(c.infoMessage()); err != nil {
		return err
	}

	msg, err = protocol.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read info ack: %w", err)
	}
	if _, ok := msg.(*protocol.InfoAck); !ok {
		return fmt.Errorf("expected an info ack, got %s", msg.Code())
	}

	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear handshake deadline: %w", err)
	}
	c.touch()
	c.logger.Info().Str("addr", c.addr).Msg("connected")
	return nil
}

func (c *Connection) infoMessage() *protocol.ClientInfo {
	c.mu.Lock()
	info := c.info
	c.mu.Unlock()
	return &info
}

// run drives the session until the server disappears, says goodbye, or
// the client closes. It always leaves the transport closed.
func (c *Connection) run() {
	defer func() {
		c.state.Store(int32(StateClosed))
		c.conn.Close()
		close(c.done)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go c.livenessLoop(stop)

	for {
		payload, err := protocol.ReadRawFrame(c.conn)
		if err != nil {
			c.handleTransportError(err)
			return
		}
		c.touch()

		msg, err := protocol.DecodeMessage(payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("undecodable frame, closing")
			c.fail(fmt.Errorf("undecodable frame: %w", err))
			c.markClosing()
			return
		}
		if !c.handleMessage(msg) {
			return
		}
	}
}

// livenessLoop closes the connection when the server has been silent
// for the full timeout. The server pings on a shorter cadence, so a
// healthy link never trips this.
func (c *Connection) livenessLoop(stop <-chan struct{}) {
	interval := c.keepAliveTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if silent := c.sinceLastSeen(); silent > c.keepAliveTimeout {
				c.logger.Warn().Dur("silent", silent).Msg("server went silent, closing")
				c.fail(fmt.Errorf("server silent for %s", silent.Round(time.Millisecond)))
				c.markClosing()
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Connection) handleTransportError(err error) {
	if c.State() != StateConnected {
		// Close or the liveness loop already shut the socket.
		return
	}
	c.markClosing()
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info().Msg("server disconnected")
		c.fail(io.EOF)
	case errors.Is(err, net.ErrClosed):
	default:
		c.logger.Warn().Err(err).Msg("read failed, closing")
		c.fail(err)
	}
}

// handleMessage dispatches one server message and reports whether the
// session should keep running.
func (c *Connection) handleMessage(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.KeepAlive:
		if err := c.Send(&protocol.KeepAlive{}); err != nil {
			c.fail(err)
			c.markClosing()
			return false
		}
		return true

	case *protocol.NoOp:
		return true

	case *protocol.Close:
		c.logger.Info().Msg("server said goodbye")
		c.markClosing()
		return false

	case *protocol.QueryInfo:
		if err := c.Send(c.infoMessage()); err != nil {
			c.fail(err)
			c.markClosing()
			return false
		}
		return true

	case *protocol.InfoAck:
		return true

	case *protocol.ResetOptions:
		c.mu.Lock()
		c.options = nil
		c.mu.Unlock()
		c.logger.Debug().Msg("options reset")
		return true

	case *protocol.SetOptions:
		c.applyOptions(m.Options)
		return true

	case *protocol.CursorEntered:
		c.seq.Store(m.Sequence)
		c.active.Store(true)
		c.logger.Debug().Uint32("sequence", m.Sequence).Msg("cursor entered")
		c.sink.HandleEvent(m)
		return true

	case *protocol.CursorLeft:
		c.active.Store(false)
		c.logger.Debug().Msg("cursor left")
		c.sink.HandleEvent(m)
		return true

	case *protocol.ClipboardData:
		c.handleClipboardData(m)
		return true

	case *protocol.FileTransfer:
		c.handleFileTransfer(m)
		return true

	case *protocol.UnknownClient:
		c.fail(ErrUnknownScreen)
		c.markClosing()
		return false

	case *protocol.ServerBusy:
		c.fail(ErrServerBusy)
		c.markClosing()
		return false

	case *protocol.IncompatibleVersion:
		c.fail(fmt.Errorf("%w: server rejected our version, echoed %d.%d", ErrIncompatibleVersion, m.RemoteMajor, m.RemoteMinor))
		c.markClosing()
		return false

	case *protocol.ProtocolViolation:
		c.fail(ErrRejected)
		c.markClosing()
		return false

	case *protocol.HelloBarrier, *protocol.HelloSynergy,
		*protocol.ClientInfo, *protocol.ClientClipboard:
		c.logger.Warn().Str("code", msg.Code()).Msg("server sent a client-only message")
		c.fail(fmt.Errorf("server sent a client-only message %s", msg.Code()))
		c.markClosing()
		return false

	default:
		// Injected input and the remaining notices go to the
		// application.
		c.sink.HandleEvent(msg)
		return true
	}
}

// applyOptions overlays new options onto the effective set, keeping
// first-seen key order.
func (c *Connection) applyOptions(opts []protocol.Option) {
	c.mu.Lock()
	for _, opt := range opts {
		replaced := false
		for i := range c.options {
			if c.options[i].Key == opt.Key {
				c.options[i].Value = opt.Value
				replaced = true
				break
			}
		}
		if !replaced {
			c.options = append(c.options, opt)
		}
	}
	count := len(c.options)
	c.mu.Unlock()

	c.logger.Debug().Int("applied", len(opts)).Int("effective", count).Msg("options updated")
}

func (c *Connection) handleClipboardData(m *protocol.ClipboardData) {
	c.mu.Lock()
	buf := c.clipboards[m.ID]
	if buf == nil {
		buf = protocol.NewStreamAssembler(0)
		c.clipboards[m.ID] = buf
	}

	switch m.Mark {
	case protocol.StreamSingle:
		if buf.Active() {
			c.logger.Warn().Uint8("clipboard", m.ID).Msg("unterminated clipboard stream dropped")
			buf.Reset()
		}
		c.mu.Unlock()
		c.sink.HandleEvent(m)

	case protocol.StreamStart:
		if buf.Active() {
			c.logger.Warn().Uint8("clipboard", m.ID).Msg("clipboard stream restarted before end mark, dropping stale chunks")
		}
		buf.Begin(m.Data)
		c.mu.Unlock()

	case protocol.StreamMiddle, protocol.StreamEnd:
		if !buf.Active() {
			c.mu.Unlock()
			c.logger.Warn().Uint8("clipboard", m.ID).Msg("clipboard chunk without stream start dropped")
			return
		}
		if err := buf.Append(m.Data); err != nil {
			c.mu.Unlock()
			c.logger.Warn().Err(err).Uint8("clipboard", m.ID).Msg("clipboard stream dropped")
			return
		}
		if m.Mark != protocol.StreamEnd {
			c.mu.Unlock()
			return
		}
		data := buf.Finish()
		c.mu.Unlock()
		c.sink.HandleEvent(&protocol.ClipboardData{
			ID: m.ID, Sequence: m.Sequence, Mark: protocol.StreamEnd, Data: data,
		})

	default:
		c.mu.Unlock()
		c.logger.Warn().Uint8("mark", m.Mark).Msg("unknown clipboard stream mark dropped")
	}
}

func (c *Connection) handleFileTransfer(m *protocol.FileTransfer) {
	c.mu.Lock()
	switch m.Mark {
	case protocol.StreamStart:
		if c.fileStream.Active() {
			c.logger.Warn().Msg("file transfer restarted before end mark, dropping stale chunks")
		}
		c.fileStream.Begin(m.Data)
		c.mu.Unlock()

	case protocol.StreamMiddle, protocol.StreamEnd:
		if !c.fileStream.Active() {
			c.mu.Unlock()
			c.logger.Warn().Msg("file chunk without stream start dropped")
			return
		}
		if err := c.fileStream.Append(m.Data); err != nil {
			c.mu.Unlock()
			c.logger.Warn().Err(err).Msg("file transfer dropped")
			return
		}
		if m.Mark != protocol.StreamEnd {
			c.mu.Unlock()
			return
		}
		data := c.fileStream.Finish()
		c.mu.Unlock()
		c.sink.HandleEvent(&protocol.FileTransfer{Mark: protocol.StreamEnd, Data: data})

	default:
		c.mu.Unlock()
		c.logger.Warn().Uint8("mark", m.Mark).Msg("unknown file transfer mark dropped")
	}
}
