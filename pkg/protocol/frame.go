package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameSize is the maximum allowed frame payload (1 MB). Real traffic
// is tiny input events; only clipboard and file chunks approach this.
const MaxFrameSize = 1024 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size (1 MB)")

// EncodeFrame returns the on-wire form of m: a 4-byte big-endian payload
// length followed by the payload.
func EncodeFrame(m Message) ([]byte, error) {
	payload := m.Encode()
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 0, 4+len(payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...), nil
}

// WriteFrame writes m to w as a single length-prefixed frame. The frame
// goes out in one Write call so concurrent writers that serialize on a
// lock can never interleave partial frames.
func WriteFrame(w io.Writer, m Message) error {
	buf, err := EncodeFrame(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadRawFrame reads one length-prefixed frame from r and returns its
// payload undecoded. It blocks until a complete frame arrives. A clean
// EOF on the frame boundary surfaces as io.EOF; EOF mid-frame as
// io.ErrUnexpectedEOF. Callers that must tell transport failures apart
// from malformed payloads read raw frames and decode separately.
func ReadRawFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// ReadFrame reads one length-prefixed frame from r and decodes its
// payload.
func ReadFrame(r io.Reader) (Message, error) {
	payload, err := ReadRawFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(payload)
}

// ParseFrame decodes one frame from the front of data and reports how many
// bytes it consumed (4 plus the declared payload length). An incomplete
// frame yields InsufficientDataError so a caller draining a batched buffer
// knows to wait for more bytes.
func ParseFrame(data []byte) (Message, int, error) {
	if len(data) < 4 {
		return nil, 0, &InsufficientDataError{Expected: 4, Actual: len(data)}
	}
	length := binary.BigEndian.Uint32(data)
	if length > MaxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}
	total := 4 + int(length)
	if len(data) < total {
		return nil, 0, &InsufficientDataError{Expected: total, Actual: len(data)}
	}
	msg, err := DecodeMessage(data[4:total])
	if err != nil {
		return nil, 0, err
	}
	return msg, total, nil
}
