package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  protocol.MaxFrameSize,
	WriteBufferSize: protocol.MaxFrameSize,
	// Browser-hosted clients connect from any origin; the handshake
	// already gates on configured screen names.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket accepts WebSocket clients on addr at path. Frames
// arrive as binary messages and flow through the same handshake and
// session code as TCP. Blocks until the server shuts down.
func (s *Server) ServeWebSocket(addr, path string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleWebSocket)

	srv := &http.Server{Addr: addr, Handler: mux}
	s.trackHTTPServer(srv)
	s.logger.Info().Str("addr", addr).Str("path", path).Msg("websocket listening")

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.wg.Add(1)
	go s.handleConnection(newWSConn(ws))
}

// wsConn adapts a WebSocket connection to net.Conn. Each binary
// message is treated as a byte stream segment, so length-prefixed
// frames can span or share messages.
type wsConn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	readBuf bytes.Buffer

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for c.readBuf.Len() == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			return 0, io.ErrUnexpectedEOF
		}
		c.readBuf.Write(data)
	}
	return c.readBuf.Read(b)
}

func (c *wsConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
