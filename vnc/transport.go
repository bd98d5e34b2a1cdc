// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"net"
	"time"
)

// ShutdownDirection names which half of a duplex transport to tear down.
// See spec.md §5/§6.
type ShutdownDirection int

const (
	ShutdownRead ShutdownDirection = iota
	ShutdownWrite
	ShutdownBoth
)

// Transport is the full-duplex byte stream the core is built on. The host
// supplies it (spec.md §6); the core never constructs one itself. Reads
// must return a timeout/WouldBlock-shaped error when no data is
// immediately available; the core maps that to "no events this tick".
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Shutdown(dir ShutdownDirection) error
}

type halfCloser interface {
	CloseRead() error
}

type halfWriteCloser interface {
	CloseWrite() error
}

// connTransport adapts a net.Conn to Transport, using the half-close
// methods net.TCPConn exposes when available and falling back to a full
// Close otherwise.
type connTransport struct {
	net.Conn
}

// WrapConn adapts a net.Conn (as returned by the host's socket factory,
// explicitly out of scope for the core per spec.md §1) into a Transport.
func WrapConn(c net.Conn) Transport {
	return connTransport{Conn: c}
}

func (c connTransport) Shutdown(dir ShutdownDirection) error {
	switch dir {
	case ShutdownRead:
		if hc, ok := c.Conn.(halfCloser); ok {
			return hc.CloseRead()
		}
		return c.Conn.Close()
	case ShutdownWrite:
		if hc, ok := c.Conn.(halfWriteCloser); ok {
			return hc.CloseWrite()
		}
		return c.Conn.Close()
	default:
		return c.Conn.Close()
	}
}

// isWouldBlock reports whether err is the transport signalling "no data
// available" / "write buffer full" rather than a terminal failure.
func isWouldBlock(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
