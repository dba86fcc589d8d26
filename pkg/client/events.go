package client

import (
	"github.com/rs/zerolog"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// EventSink receives messages the server pushes into this screen:
// injected input, cursor enters and leaves, clipboard and file
// payloads. Implementations are called from the client's read
// goroutine and must not block.
type EventSink interface {
	HandleEvent(msg protocol.Message)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(msg protocol.Message)

func (f EventSinkFunc) HandleEvent(msg protocol.Message) {
	f(msg)
}

type logSink struct {
	logger zerolog.Logger
}

func (s logSink) HandleEvent(msg protocol.Message) {
	s.logger.Debug().Str("code", msg.Code()).Msg("event")
}
