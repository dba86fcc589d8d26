package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// SessionState is the lifecycle of a connection after its handshake.
type SessionState int32

const (
	// StateActive means the session is exchanging messages.
	StateActive SessionState = iota
	// StateClosing means a goodbye was seen or sent; no new messages
	// are processed.
	StateClosing
	// StateClosed means the transport is closed and the session
	// goroutine has exited.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Session is one connected client after a completed handshake. A
// single goroutine reads frames; a keepalive goroutine pings the
// client and enforces liveness. Writes from either side serialize on
// the write mutex so frames never interleave.
type Session struct {
	name    string
	conn    net.Conn
	logger  zerolog.Logger
	metrics *Metrics
	sink    EventSink

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration

	writeMu  sync.Mutex
	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanoseconds of the last inbound frame

	// enterSeq is the sequence number of the latest CursorEntered sent
	// to this client. Clipboard messages must echo it; older values
	// identify grabs from before the cursor left.
	enterSeq atomic.Uint32

	mu         sync.Mutex
	info       protocol.ClientInfo
	options    []protocol.Option
	clipboards map[uint8]*protocol.StreamAssembler
	fileStream *protocol.StreamAssembler
}

func newSession(name string, conn net.Conn, cfg Config, logger zerolog.Logger, metrics *Metrics, sink EventSink) *Session {
	s := &Session{
		name:              name,
		conn:              conn,
		logger:            logger.With().Str("client", name).Logger(),
		metrics:           metrics,
		sink:              sink,
		keepAliveInterval: cfg.KeepAliveInterval,
		keepAliveTimeout:  cfg.KeepAliveTimeout,
		clipboards:        make(map[uint8]*protocol.StreamAssembler),
		fileStream:        protocol.NewStreamAssembler(0),
	}
	s.touch()
	return s
}

// Name returns the client's registered screen name
func (s *Session) Name() string { return s.name }

// State returns the session lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Info returns the most recent geometry the client reported
func (s *Session) Info() protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Options returns the effective option set in first-seen key order
func (s *Session) Options() []protocol.Option {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Option, len(s.options))
	copy(out, s.options)
	return out
}

func (s *Session) setInfo(info protocol.ClientInfo) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) sinceLastSeen() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastSeen.Load())
}

func (s *Session) markClosing() {
	s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
}

// send writes one frame to the client. Safe for concurrent use.
func (s *Session) send(m protocol.Message) error {
	s.writeMu.Lock()
	err := protocol.WriteFrame(s.conn, m)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Code(), err)
	}
	if s.metrics != nil {
		s.metrics.RecordMessageSent(m.Code())
	}
	return nil
}

func (s *Session) enterScreen(x, y int16, mask uint16) error {
	seq := s.enterSeq.Add(1)
	return s.send(&protocol.CursorEntered{X: x, Y: y, Sequence: seq, Mask: mask})
}

func (s *Session) leaveScreen() error {
	return s.send(&protocol.CursorLeft{})
}

// run drives the session until the client disconnects, says goodbye,
// or violates the protocol. It always leaves the transport closed.
func (s *Session) run() {
	defer func() {
		s.state.Store(int32(StateClosed))
		s.conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go s.keepAliveLoop(stop)

	for {
		payload, err := protocol.ReadRawFrame(s.conn)
		if err != nil {
			s.handleTransportError(err)
			return
		}
		s.touch()

		msg, err := protocol.DecodeMessage(payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("undecodable frame, closing session")
			s.sendViolation()
			s.markClosing()
			return
		}
		if s.metrics != nil {
			s.metrics.RecordMessageReceived(msg.Code(), len(payload))
		}
		if !s.handleMessage(msg) {
			return
		}
	}
}

// keepAliveLoop pings the client on a fixed cadence and closes the
// connection when nothing has arrived for the full timeout. Closing
// the transport is what unblocks the read loop.
func (s *Session) keepAliveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if silent := s.sinceLastSeen(); silent > s.keepAliveTimeout {
				s.logger.Warn().Dur("silent", silent).Msg("client missed keepalives, closing session")
				if s.metrics != nil {
					s.metrics.RecordKeepaliveTimeout()
				}
				s.markClosing()
				s.conn.Close()
				return
			}
			if err := s.send(&protocol.KeepAlive{}); err != nil {
				s.markClosing()
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) handleTransportError(err error) {
	if s.State() != StateActive {
		// The keepalive loop or a shutdown already closed the socket.
		return
	}
	s.markClosing()
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info().Msg("client disconnected")
	case errors.Is(err, net.ErrClosed):
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.logger.Warn().Err(err).Msg("oversized frame, closing session")
		s.sendViolation()
	default:
		s.logger.Warn().Err(err).Msg("read failed, closing session")
	}
}

func (s *Session) sendViolation() {
	if err := s.send(&protocol.ProtocolViolation{}); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send protocol violation")
	}
}

// handleMessage dispatches one inbound message and reports whether the
// session should keep running.
func (s *Session) handleMessage(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.KeepAlive:
		// Receipt alone proves liveness; nothing to echo.
		return true

	case *protocol.NoOp:
		return true

	case *protocol.Close:
		s.logger.Info().Msg("client said goodbye")
		s.markClosing()
		return false

	case *protocol.ClientInfo:
		s.setInfo(*m)
		s.logger.Debug().
			Uint16("width", m.Width).
			Uint16("height", m.Height).
			Msg("client info updated")
		return true

	case *protocol.QueryInfo:
		// Only servers query geometry; a client asking is harmless.
		s.logger.Debug().Msg("ignoring info query from client")
		return true

	case *protocol.SetOptions:
		s.applyOptions(m.Options)
		return true

	case *protocol.ClientClipboard:
		if !s.validSequence(m.Sequence) {
			s.logger.Warn().
				Uint32("sequence", m.Sequence).
				Uint32("want", s.enterSeq.Load()).
				Msg("stale clipboard grab dropped")
			return true
		}
		s.sink.HandleEvent(s.name, m)
		return true

	case *protocol.ClipboardData:
		s.handleClipboardData(m)
		return true

	case *protocol.FileTransfer:
		s.handleFileTransfer(m)
		return true

	case *protocol.HelloBarrier, *protocol.HelloSynergy,
		*protocol.InfoAck, *protocol.ResetOptions, *protocol.CursorEntered:
		s.logger.Warn().Str("code", msg.Code()).Msg("client sent a server-only message")
		s.sendViolation()
		s.markClosing()
		return false

	case *protocol.IncompatibleVersion, *protocol.ServerBusy,
		*protocol.UnknownClient, *protocol.ProtocolViolation:
		s.logger.Warn().Str("code", msg.Code()).Msg("client reported a failure, closing session")
		s.markClosing()
		return false

	default:
		// Input events, screen saver, secure input, language sync and
		// drag notices all flow to the application.
		s.sink.HandleEvent(s.name, msg)
		return true
	}
}

func (s *Session) validSequence(seq uint32) bool {
	return seq == s.enterSeq.Load()
}

// applyOptions overlays new options onto the effective set. Existing
// keys update in place, new keys append, unknown keys are kept as-is
// for forward compatibility.
func (s *Session) applyOptions(opts []protocol.Option) {
	s.mu.Lock()
	for _, opt := range opts {
		replaced := false
		for i := range s.options {
			if s.options[i].Key == opt.Key {
				s.options[i].Value = opt.Value
				replaced = true
				break
			}
		}
		if !replaced {
			s.options = append(s.options, opt)
		}
	}
	count := len(s.options)
	s.mu.Unlock()

	s.logger.Debug().Int("applied", len(opts)).Int("effective", count).Msg("options updated")
}

// handleClipboardData validates the sequence echo and stream marks,
// assembling chunked transfers. The application sees each clipboard
// payload exactly once, fully assembled.
func (s *Session) handleClipboardData(m *protocol.ClipboardData) {
	if !s.validSequence(m.Sequence) {
		s.logger.Warn().
			Uint32("sequence", m.Sequence).
			Uint32("want", s.enterSeq.Load()).
			Uint8("clipboard", m.ID).
			Msg("stale clipboard data dropped")
		return
	}

	s.mu.Lock()
	buf := s.clipboards[m.ID]
	if buf == nil {
		buf = protocol.NewStreamAssembler(0)
		s.clipboards[m.ID] = buf
	}

	switch m.Mark {
	case protocol.StreamSingle:
		if buf.Active() {
			s.logger.Warn().Uint8("clipboard", m.ID).Msg("unterminated clipboard stream dropped")
			buf.Reset()
		}
		s.mu.Unlock()
		s.deliverClipboard(m.ID, m.Sequence, m.Data)

	case protocol.StreamStart:
		if buf.Active() {
			s.logger.Warn().Uint8("clipboard", m.ID).Msg("clipboard stream restarted before end mark, dropping stale chunks")
		}
		buf.Begin(m.Data)
		s.mu.Unlock()

	case protocol.StreamMiddle, protocol.StreamEnd:
		if !buf.Active() {
			s.mu.Unlock()
			s.logger.Warn().Uint8("clipboard", m.ID).Msg("clipboard chunk without stream start dropped")
			return
		}
		if err := buf.Append(m.Data); err != nil {
			s.mu.Unlock()
			s.logger.Warn().Err(err).Uint8("clipboard", m.ID).Msg("clipboard stream dropped")
			return
		}
		if m.Mark != protocol.StreamEnd {
			s.mu.Unlock()
			return
		}
		if buf.Announced() > 0 && buf.Announced() != uint64(buf.Len()) {
			s.logger.Warn().
				Uint64("announced", buf.Announced()).
				Int("received", buf.Len()).
				Uint8("clipboard", m.ID).
				Msg("clipboard stream size mismatch")
		}
		data := buf.Finish()
		s.mu.Unlock()
		s.deliverClipboard(m.ID, m.Sequence, data)

	default:
		s.mu.Unlock()
		s.logger.Warn().Uint8("mark", m.Mark).Msg("unknown clipboard stream mark dropped")
	}
}

func (s *Session) deliverClipboard(id uint8, seq uint32, data string) {
	if s.metrics != nil {
		s.metrics.RecordClipboardBytes(len(data))
	}
	s.sink.HandleEvent(s.name, &protocol.ClipboardData{
		ID:       id,
		Sequence: seq,
		Mark:     protocol.StreamEnd,
		Data:     data,
	})
}

// handleFileTransfer assembles file chunks the same way as clipboard
// streams. Files have no single-message form.
func (s *Session) handleFileTransfer(m *protocol.FileTransfer) {
	s.mu.Lock()
	switch m.Mark {
	case protocol.StreamStart:
		if s.fileStream.Active() {
			s.logger.Warn().Msg("file transfer restarted before end mark, dropping stale chunks")
		}
		s.fileStream.Begin(m.Data)
		s.mu.Unlock()

	case protocol.StreamMiddle, protocol.StreamEnd:
		if !s.fileStream.Active() {
			s.mu.Unlock()
			s.logger.Warn().Msg("file chunk without stream start dropped")
			return
		}
		if err := s.fileStream.Append(m.Data); err != nil {
			s.mu.Unlock()
			s.logger.Warn().Err(err).Msg("file transfer dropped")
			return
		}
		if m.Mark != protocol.StreamEnd {
			s.mu.Unlock()
			return
		}
		data := s.fileStream.Finish()
		s.mu.Unlock()
		s.sink.HandleEvent(s.name, &protocol.FileTransfer{Mark: protocol.StreamEnd, Data: data})

	default:
		s.mu.Unlock()
		s.logger.Warn().Uint8("mark", m.Mark).Msg("unknown file transfer mark dropped")
	}
}
