package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrInvalidUTF8 is returned when a length-prefixed string contains
	// bytes that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in message data")

	// ErrInvalidMessageCode is returned when the leading code bytes of a
	// payload are not valid ASCII text.
	ErrInvalidMessageCode = errors.New("invalid message code")
)

// InsufficientDataError is returned when a buffer ends before the field
// being read. Expected is the total byte count the read needed, Actual is
// what the buffer held.
type InsufficientDataError struct {
	Expected int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: expected %d bytes, got %d", e.Expected, e.Actual)
}

// UnknownCodeError is returned when a payload starts with a code this
// library does not recognize.
type UnknownCodeError struct {
	Code string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown message code %q", e.Code)
}

// InvalidDataError is returned when a payload is structurally well-formed
// but violates a message-specific constraint.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return "invalid message data: " + e.Reason
}

// Field readers. All take the full payload plus an absolute offset and
// report truncation as InsufficientDataError instead of panicking.

func readU8(data []byte, off int) (uint8, error) {
	if len(data) < off+1 {
		return 0, &InsufficientDataError{Expected: off + 1, Actual: len(data)}
	}
	return data[off], nil
}

func readU16(data []byte, off int) (uint16, error) {
	if len(data) < off+2 {
		return 0, &InsufficientDataError{Expected: off + 2, Actual: len(data)}
	}
	return binary.BigEndian.Uint16(data[off:]), nil
}

func readI16(data []byte, off int) (int16, error) {
	v, err := readU16(data, off)
	return int16(v), err
}

func readU32(data []byte, off int) (uint32, error) {
	if len(data) < off+4 {
		return 0, &InsufficientDataError{Expected: off + 4, Actual: len(data)}
	}
	return binary.BigEndian.Uint32(data[off:]), nil
}

// readString reads a length-prefixed string: a 4-byte big-endian byte count
// followed by that many bytes of UTF-8, no terminator. Returns the string
// and the bytes consumed (4 + length).
func readString(data []byte, off int) (string, int, error) {
	length, err := readU32(data, off)
	if err != nil {
		return "", 0, err
	}
	start := off + 4
	end := start + int(length)
	if len(data) < end {
		return "", 0, &InsufficientDataError{Expected: end, Actual: len(data)}
	}
	if !utf8.Valid(data[start:end]) {
		return "", 0, ErrInvalidUTF8
	}
	return string(data[start:end]), 4 + int(length), nil
}

// appendString appends the length-prefixed encoding of s.
func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}
