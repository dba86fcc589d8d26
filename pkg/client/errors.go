package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownScreen indicates the server has no screen configured
	// under this client's name.
	ErrUnknownScreen = errors.New("server does not recognize this screen name")
	// ErrServerBusy indicates a client with this name is already
	// connected.
	ErrServerBusy = errors.New("a client with this name is already connected")
	// ErrIncompatibleVersion indicates the two sides speak different
	// protocol major versions.
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
	// ErrRejected indicates the server refused the connection as a
	// protocol violation.
	ErrRejected = errors.New("server rejected the connection")
)

// InvalidAddressError is returned when a server address cannot be
// parsed into dialable host:port form.
type InvalidAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid server address %q: %s", e.Input, e.Reason)
}

// IsRejection reports whether err is the server affirmatively turning
// the client away rather than a transport failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnknownScreen) ||
		errors.Is(err, ErrServerBusy) ||
		errors.Is(err, ErrIncompatibleVersion) ||
		errors.Is(err, ErrRejected)
}

// MaxRetriesError is returned by Connect when every dial attempt
// failed with time still left on the overall budget.
type MaxRetriesError struct {
	Attempts int
	Last     error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("failed to connect after %d attempts: %v", e.Attempts, e.Last)
}

func (e *MaxRetriesError) Unwrap() error { return e.Last }

// TimeoutError is returned by Connect when the overall budget expired
// with attempts remaining.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connection attempt timed out after %s", e.Elapsed.Round(time.Millisecond))
}
