package server

import (
	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// EventSink receives messages a connected client sends after its
// handshake completes: input events, clipboard grabs and payloads,
// screen saver and secure input notices. The screen argument is the
// client's registered name. Implementations are called from the
// session goroutine and must not block.
type EventSink interface {
	HandleEvent(screen string, msg protocol.Message)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(screen string, msg protocol.Message)

func (f EventSinkFunc) HandleEvent(screen string, msg protocol.Message) {
	f(screen, msg)
}

// logSink is the fallback sink when a server is built without one.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) HandleEvent(screen string, msg protocol.Message) {
	s.logger.Debug().Str("client", screen).Str("code", msg.Code()).Msg("event")
}
