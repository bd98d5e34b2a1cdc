// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"errors"
	"fmt"
)

// ErrUnexpectedEof marks a short read at a framing-critical point. It does
// not reach the host as-is: the handshake wraps it into an IoError, the
// client's poll loop treats it as "not arrived yet", and the proxy reports
// it as a DisconnectedError.
var ErrUnexpectedEof = errors.New("vnc: unexpected EOF")

// IoError wraps a transport error or EOF encountered at a framing-critical
// point. Terminal.
type IoError struct{ Err error }

func (e *IoError) Error() string { return fmt.Sprintf("vnc: io error: %s", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// UnsupportedVersionError is returned when the peer's version banner is not
// an RFB 3.x banner. A 3.x minor version outside 3.3..3.8 is not rejected;
// it is clamped into that range. Terminal.
type UnsupportedVersionError struct{ Version string }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("vnc: unsupported protocol version %q", e.Version)
}

// ErrAuthenticationUnavailable is returned when no security type was
// acceptable, or the AuthDecider declined every offered method. Terminal.
var ErrAuthenticationUnavailable = errors.New("vnc: no acceptable authentication method")

// AuthenticationFailureError wraps a nonzero SecurityResult. Terminal.
type AuthenticationFailureError struct{ Reason string }

func (e *AuthenticationFailureError) Error() string {
	if e.Reason == "" {
		return "vnc: authentication failed"
	}
	return fmt.Sprintf("vnc: authentication failed: %s", e.Reason)
}

// UnexpectedError marks a violated protocol invariant: bad tag, leftover
// bit/byte data, unknown encoding, oversize palette, and so on. Terminal;
// the string names the violated invariant, matching spec.md §7.
type UnexpectedError struct{ What string }

func (e *UnexpectedError) Error() string { return fmt.Sprintf("vnc: unexpected: %s", e.What) }

func errUnexpected(what string) error { return &UnexpectedError{What: what} }

// ErrBackPressure is returned by an outbound call when the write would
// block. Non-terminal; the host should retry.
var ErrBackPressure = errors.New("vnc: write would block")

// DisconnectedError marks a peer-initiated close. Reason is non-nil iff a
// protocol error preceded the close.
type DisconnectedError struct{ Reason error }

func (e *DisconnectedError) Error() string {
	if e.Reason == nil {
		return "vnc: disconnected"
	}
	return fmt.Sprintf("vnc: disconnected: %s", e.Reason)
}
func (e *DisconnectedError) Unwrap() error { return e.Reason }
