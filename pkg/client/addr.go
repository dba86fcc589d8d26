package client

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// parseServerAddr normalizes a server address into dialable host:port
// form. Accepted shapes: "host:port", "host", "[v6]:port", "[v6]" and
// a bare IPv6 literal. A missing port means the protocol default.
func parseServerAddr(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InvalidAddressError{Input: raw, Reason: "address is empty"}
	}

	host, port, err := net.SplitHostPort(trimmed)
	if err == nil {
		if host == "" {
			return "", &InvalidAddressError{Input: raw, Reason: "missing host"}
		}
		if err := validatePort(port); err != nil {
			return "", &InvalidAddressError{Input: raw, Reason: err.Error()}
		}
		return net.JoinHostPort(host, port), nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		reason := strings.ToLower(addrErr.Err)
		switch {
		case strings.Contains(reason, "missing port"):
			host = trimmed
			if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
				host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
				if net.ParseIP(host) == nil {
					return "", &InvalidAddressError{Input: raw, Reason: "bracketed host is not an IP literal"}
				}
			}
			if host == "" {
				return "", &InvalidAddressError{Input: raw, Reason: "missing host"}
			}
			return net.JoinHostPort(host, strconv.Itoa(protocol.DefaultPort)), nil

		case strings.Contains(reason, "too many colons"):
			// A bare IPv6 literal trips SplitHostPort.
			if net.ParseIP(trimmed) == nil {
				return "", &InvalidAddressError{Input: raw, Reason: addrErr.Err}
			}
			return net.JoinHostPort(trimmed, strconv.Itoa(protocol.DefaultPort)), nil
		}
	}
	return "", &InvalidAddressError{Input: raw, Reason: err.Error()}
}

func validatePort(port string) error {
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}
