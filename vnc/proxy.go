// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Proxy implements the man-in-the-middle role from spec.md §4.7, grounded
// in original_source/bin/proxy.rs's Proxy::from_tcp_streams/join shape:
// splice a real handshake against the upstream server with a forced-None
// handshake toward the downstream client, then forward messages in both
// directions without ever inflating ZRLE, since both sides share one
// negotiated PixelFormat.
package vnc

import (
	"fmt"
	"io"
	"sync"
)

// Proxy mediates one client connection and one server connection, each
// already accepted/dialed by the host (spec.md §1 keeps socket factories
// out of the core).
type Proxy struct {
	client Transport
	server Transport
	width  uint16
	height uint16

	// formatMu guards format, since forwardClientToServer (which updates it
	// on a SetPixelFormat passthrough) and forwardServerToClient (which
	// reads it to size Raw/Cursor rects) run as independent goroutines
	// once Join starts.
	formatMu sync.Mutex
	format   PixelFormat
}

func (p *Proxy) currentFormat() PixelFormat {
	p.formatMu.Lock()
	defer p.formatMu.Unlock()
	return p.format
}

func (p *Proxy) setFormat(pf PixelFormat) {
	p.formatMu.Lock()
	p.format = pf
	p.formatMu.Unlock()
}

// NewProxy performs both handshakes and returns a Proxy ready to Join.
// decide supplies credentials for the upstream server; the downstream
// client always sees security type None, since the proxy itself holds
// whatever credentials the real server required. The downstream client's
// own ClientInit shared flag is read (to stay on-protocol) and discarded:
// the upstream session's shared-ness is fixed by the shared parameter.
func NewProxy(clientSide, serverSide Transport, shared bool, decide AuthDecider) (*Proxy, error) {
	upstream, err := Connect(serverSide, shared, decide)
	if err != nil {
		return nil, err
	}

	minor, err := serverNegotiateVersion(clientSide, 8)
	if err != nil {
		upstream.Close()
		return nil, err
	}
	if err := serverNegotiateSecurityNone(clientSide, minor); err != nil {
		upstream.Close()
		return nil, err
	}
	if _, err := readU8(clientSide); err != nil { // downstream ClientInit shared flag, discarded
		upstream.Close()
		return nil, &IoError{Err: err}
	}

	width, height := upstream.Size()
	format := upstream.Format()
	if err := serverSendInit(clientSide, width, height, format, upstream.Name()); err != nil {
		upstream.Close()
		return nil, err
	}

	return &Proxy{
		client: clientSide,
		server: serverSide,
		format: format,
		width:  width,
		height: height,
	}, nil
}

// serverNegotiateVersion is negotiateVersion's mirror image: it sends the
// banner and reads the reply, rather than the other way around, since the
// proxy plays the server role toward the downstream client.
func serverNegotiateVersion(rw io.ReadWriter, maxMinor int) (int, error) {
	banner := fmt.Sprintf("RFB 003.%03d\n", maxMinor)
	if _, err := io.WriteString(rw, banner); err != nil {
		return 0, &IoError{Err: err}
	}

	buf := make([]byte, 12)
	if err := readFull(rw, buf); err != nil {
		return 0, &IoError{Err: fmt.Errorf("reading downstream version reply: %w", err)}
	}

	var major, minor int
	if _, err := fmt.Sscanf(string(buf), "RFB %03d.%03d\n", &major, &minor); err != nil || major != 3 {
		return 0, &UnsupportedVersionError{Version: string(buf)}
	}
	if minor > maxMinor {
		minor = maxMinor
	}
	switch {
	case minor >= 8:
		minor = 8
	case minor >= 7:
		minor = 7
	default:
		minor = 3
	}
	return minor, nil
}

// serverNegotiateSecurityNone performs the security phase toward the
// downstream client with exactly one offered type, None.
func serverNegotiateSecurityNone(rw io.ReadWriter, minor int) error {
	if minor >= 7 {
		if err := writeU8(rw, 1); err != nil {
			return &IoError{Err: err}
		}
		if err := writeU8(rw, secTypeNone); err != nil {
			return &IoError{Err: err}
		}
		chosen, err := readU8(rw)
		if err != nil {
			return &IoError{Err: err}
		}
		if chosen != secTypeNone {
			return errUnexpected("downstream client did not choose the offered None security type")
		}
		if err := writeU32(rw, 0); err != nil { // SecurityResult: OK
			return &IoError{Err: err}
		}
	} else if err := writeU32(rw, uint32(secTypeNone)); err != nil {
		return &IoError{Err: err}
	}
	return nil
}

func serverSendInit(rw io.ReadWriter, width, height uint16, pf PixelFormat, name string) error {
	if err := writeU16(rw, width); err != nil {
		return &IoError{Err: err}
	}
	if err := writeU16(rw, height); err != nil {
		return &IoError{Err: err}
	}
	if err := writePixelFormat(rw, pf); err != nil {
		return &IoError{Err: err}
	}
	if err := writeString(rw, name); err != nil {
		return &IoError{Err: err}
	}
	return nil
}

// Join runs both forwarding directions to completion and reports the
// first error either direction raised, tearing down both transports as
// soon as either direction ends (spec.md §5's proxy concurrency model).
func (p *Proxy) Join() error {
	errc := make(chan error, 2)
	go func() { errc <- p.forwardClientToServer() }()
	go func() { errc <- p.forwardServerToClient() }()

	first := <-errc
	p.client.Shutdown(ShutdownBoth)
	p.server.Shutdown(ShutdownBoth)
	second := <-errc

	if first != nil {
		return first
	}
	return second
}

func (p *Proxy) forwardClientToServer() error {
	for {
		msg, err := ReadClientMessage(p.client)
		if err != nil {
			return proxyErr(err)
		}
		// The client may renegotiate its PixelFormat at any time once
		// Running (spec.md §4.4); the proxy must track that change too,
		// since rectPayloadLen below uses it to size every Raw/Cursor rect
		// the upstream server sends afterward.
		if sf, ok := msg.(SetPixelFormat); ok {
			p.setFormat(sf.Format)
		}
		m, ok := msg.(clientMessage)
		if !ok {
			return errUnexpected("unforwardable client-to-server message")
		}
		if err := m.Write(p.server); err != nil {
			return &IoError{Err: err}
		}
	}
}

func (p *Proxy) forwardServerToClient() error {
	for {
		msg, err := ReadServerMessage(p.server)
		if err != nil {
			return proxyErr(err)
		}

		switch m := msg.(type) {
		case FramebufferUpdateHeader:
			if err := p.copyFramebufferUpdate(m.NumRects); err != nil {
				return err
			}

		case SetColourMapEntries:
			if err := m.Write(p.client); err != nil {
				return &IoError{Err: err}
			}

		case Bell:
			if err := m.Write(p.client); err != nil {
				return &IoError{Err: err}
			}

		case ServerCutText:
			if err := m.Write(p.client); err != nil {
				return &IoError{Err: err}
			}
		}
	}
}

// copyFramebufferUpdate forwards one FramebufferUpdate message's numRects
// rects, copying each payload verbatim rather than decoding it. This is
// what lets the proxy skip the ZRLE inflate machinery entirely: it only
// ever needs a byte count, never the pixels themselves.
func (p *Proxy) copyFramebufferUpdate(numRects uint16) error {
	if err := writeFramebufferUpdateHeader(p.client, numRects); err != nil {
		return &IoError{Err: err}
	}

	format := p.currentFormat()
	for i := uint16(0); i < numRects; i++ {
		h, err := readRectHeader(p.server)
		if err != nil {
			return proxyErr(err)
		}
		if err := writeRectHeader(p.client, h); err != nil {
			return &IoError{Err: err}
		}

		n, err := rectPayloadLen(h, format)
		if err != nil {
			return err
		}
		if n >= 0 {
			if _, err := io.CopyN(p.client, p.server, int64(n)); err != nil {
				return &IoError{Err: err}
			}
			continue
		}

		// ZRLE carries its own length prefix; forward it unparsed.
		clen, err := readU32(p.server)
		if err != nil {
			return proxyErr(err)
		}
		if err := writeU32(p.client, clen); err != nil {
			return &IoError{Err: err}
		}
		if _, err := io.CopyN(p.client, p.server, int64(clen)); err != nil {
			return &IoError{Err: err}
		}
	}
	return nil
}

// proxyErr maps the "ran out of bytes" sentinel to an orderly-close
// signal; any other error (including a genuine protocol violation) is
// returned as-is.
func proxyErr(err error) error {
	if err == ErrUnexpectedEof {
		return &DisconnectedError{}
	}
	return err
}
