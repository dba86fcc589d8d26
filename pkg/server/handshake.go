package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// handshake drives the server side of connection setup: greet, check
// the client's version and name, then exchange geometry and options.
// On success the client holds its registry slot and the returned
// session is ready to run. On failure the connection has been told why
// (when the transport still worked) and must be closed by the caller.
func (s *Server) handshake(conn net.Conn) (*Session, error) {
	if err := conn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	greeting := &protocol.HelloBarrier{
		Major: protocol.ProtocolMajorVersion,
		Minor: protocol.ProtocolMinorVersion,
	}
	if err := protocol.WriteFrame(conn, greeting); err != nil {
		s.recordHandshakeFailure(err, "transport")
		return nil, fmt.Errorf("failed to send greeting: %w", err)
	}

	payload, err := protocol.ReadRawFrame(conn)
	if err != nil {
		s.recordHandshakeFailure(err, "transport")
		return nil, fmt.Errorf("failed to read hello reply: %w", err)
	}
	reply, err := protocol.DecodeMessage(payload)
	if err != nil {
		s.reject(conn, &protocol.ProtocolViolation{}, "protocol_error")
		return nil, fmt.Errorf("undecodable hello reply: %w", err)
	}

	var major, minor uint16
	var namePtr *string
	switch m := reply.(type) {
	case *protocol.HelloBarrier:
		major, minor, namePtr = m.Major, m.Minor, m.Name
	case *protocol.HelloSynergy:
		major, minor, namePtr = m.Major, m.Minor, m.Name
	default:
		s.reject(conn, &protocol.ProtocolViolation{}, "protocol_error")
		return nil, fmt.Errorf("expected hello reply, got %s", reply.Code())
	}

	if major != protocol.ProtocolMajorVersion {
		s.reject(conn, &protocol.IncompatibleVersion{RemoteMajor: major, RemoteMinor: minor}, "incompatible_version")
		return nil, fmt.Errorf("incompatible protocol version %d.%d", major, minor)
	}
	if namePtr == nil || *namePtr == "" {
		s.reject(conn, &protocol.ProtocolViolation{}, "protocol_error")
		return nil, errors.New("hello reply carried no client name")
	}
	name := *namePtr

	if _, ok := s.topology.Lookup(name); !ok {
		s.reject(conn, &protocol.UnknownClient{}, "unknown_client")
		return nil, fmt.Errorf("client %q is not a configured screen", name)
	}

	sess := newSession(name, conn, s.config, s.logger, s.metrics, s.sink)
	if !s.registry.Add(name, sess) {
		s.reject(conn, &protocol.ServerBusy{}, "busy")
		return nil, fmt.Errorf("client %q is already connected", name)
	}
	// The slot is claimed; any failure past here must release it.

	if err := s.exchangeInfo(sess); err != nil {
		s.registry.Remove(name, sess)
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.registry.Remove(name, sess)
		return nil, fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	effectiveMinor := minor
	if protocol.ProtocolMinorVersion < effectiveMinor {
		effectiveMinor = protocol.ProtocolMinorVersion
	}
	s.logger.Info().
		Str("client", name).
		Str("version", fmt.Sprintf("%d.%d", major, effectiveMinor)).
		Msg("handshake complete")
	return sess, nil
}

// exchangeInfo queries the client's geometry, acks it, then pushes the
// baseline option set.
func (s *Server) exchangeInfo(sess *Session) error {
	if err := sess.send(&protocol.QueryInfo{}); err != nil {
		s.recordHandshakeFailure(err, "transport")
		return err
	}

	payload, err := protocol.ReadRawFrame(sess.conn)
	if err != nil {
		s.recordHandshakeFailure(err, "transport")
		return fmt.Errorf("failed to read client info: %w", err)
	}
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		s.reject(sess.conn, &protocol.ProtocolViolation{}, "protocol_error")
		return fmt.Errorf("undecodable client info: %w", err)
	}
	info, ok := msg.(*protocol.ClientInfo)
	if !ok {
		s.reject(sess.conn, &protocol.ProtocolViolation{}, "protocol_error")
		return fmt.Errorf("expected client info, got %s", msg.Code())
	}
	sess.setInfo(*info)

	if err := sess.send(&protocol.InfoAck{}); err != nil {
		s.recordHandshakeFailure(err, "transport")
		return err
	}
	if err := sess.send(&protocol.ResetOptions{}); err != nil {
		s.recordHandshakeFailure(err, "transport")
		return err
	}
	baseline := &protocol.SetOptions{Options: []protocol.Option{
		{Key: protocol.OptionHeartbeat, Value: uint32(s.config.KeepAliveInterval.Milliseconds())},
	}}
	if err := sess.send(baseline); err != nil {
		s.recordHandshakeFailure(err, "transport")
		return err
	}
	return nil
}

// reject tells the client why it is being refused. A send failure here
// only matters for the log; the connection is going away either way.
func (s *Server) reject(conn net.Conn, m protocol.Message, reason string) {
	if s.metrics != nil {
		s.metrics.RecordHandshakeFailure(reason)
	}
	if err := protocol.WriteFrame(conn, m); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send rejection")
	}
}

func (s *Server) recordHandshakeFailure(err error, reason string) {
	if s.metrics == nil {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		reason = "timeout"
	}
	s.metrics.RecordHandshakeFailure(reason)
}
