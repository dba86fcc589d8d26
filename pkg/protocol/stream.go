package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultStreamLimit bounds reassembly of chunked clipboard and file
// transfers. A peer that never sends an end mark cannot grow memory
// past this.
const DefaultStreamLimit = 4 << 20

// ErrStreamTooLarge is returned by StreamAssembler.Append when the
// accumulated chunks exceed the assembler's limit.
var ErrStreamTooLarge = errors.New("stream exceeds reassembly limit")

// StreamAssembler reassembles a start/middle/end chunk sequence into
// one payload. The start mark announces the total size; middle and end
// marks carry content. Not safe for concurrent use.
type StreamAssembler struct {
	limit     int
	active    bool
	announced uint64
	data      strings.Builder
}

// NewStreamAssembler creates an assembler that refuses to grow past
// limit bytes. A limit of zero or less means DefaultStreamLimit.
func NewStreamAssembler(limit int) *StreamAssembler {
	if limit <= 0 {
		limit = DefaultStreamLimit
	}
	return &StreamAssembler{limit: limit}
}

// Active reports whether a stream is open, meaning a start mark was
// seen and no end mark yet.
func (a *StreamAssembler) Active() bool { return a.active }

// Begin opens a new stream, discarding any chunks from an unfinished
// one. The size text comes from the start mark's payload; an
// unparsable size is treated as unannounced.
func (a *StreamAssembler) Begin(sizeText string) {
	a.Reset()
	a.active = true
	if n, err := strconv.ParseUint(sizeText, 10, 64); err == nil {
		a.announced = n
	}
}

// Append adds one chunk's content. On overflow the stream is dropped
// and ErrStreamTooLarge returned.
func (a *StreamAssembler) Append(chunk string) error {
	if a.data.Len()+len(chunk) > a.limit {
		a.Reset()
		return ErrStreamTooLarge
	}
	a.data.WriteString(chunk)
	return nil
}

// Announced returns the size the start mark declared, zero if none.
func (a *StreamAssembler) Announced() uint64 { return a.announced }

// Len returns the number of bytes accumulated so far.
func (a *StreamAssembler) Len() int { return a.data.Len() }

// Finish returns the assembled payload and resets the assembler.
func (a *StreamAssembler) Finish() string {
	s := a.data.String()
	a.Reset()
	return s
}

// Reset discards any open stream.
func (a *StreamAssembler) Reset() {
	a.active = false
	a.announced = 0
	a.data.Reset()
}
