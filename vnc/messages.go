// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"fmt"
	"io"
)

// Client-to-server message tags. See RFC 6143 Section 7.5.
const (
	msgSetPixelFormat            uint8 = 0
	msgSetEncodings              uint8 = 2
	msgFramebufferUpdateRequest  uint8 = 3
	msgKeyEvent                  uint8 = 4
	msgPointerEvent              uint8 = 5
	msgClientCutText             uint8 = 6
)

// Server-to-client message tags. See RFC 6143 Section 7.6.
const (
	msgFramebufferUpdate   uint8 = 0
	msgSetColourMapEntries uint8 = 1
	msgBell                uint8 = 2
	msgServerCutText       uint8 = 3
)

// SetPixelFormat is sent client->server. See RFC 6143 Section 7.5.1.
type SetPixelFormat struct {
	Format PixelFormat
}

func (m SetPixelFormat) Write(w io.Writer) error {
	if err := writeU8(w, msgSetPixelFormat); err != nil {
		return err
	}
	if err := writePadding(w, 3); err != nil {
		return err
	}
	return writePixelFormat(w, m.Format)
}

// SetEncodings is sent client->server. Order expresses preference. See RFC
// 6143 Section 7.5.2.
type SetEncodings struct {
	Encodings []Encoding
}

func (m SetEncodings) Write(w io.Writer) error {
	if err := writeU8(w, msgSetEncodings); err != nil {
		return err
	}
	if err := writePadding(w, 1); err != nil {
		return err
	}
	if err := writeU16(w, uint16(len(m.Encodings))); err != nil {
		return err
	}
	for _, e := range m.Encodings {
		if err := writeI32(w, int32(e)); err != nil {
			return err
		}
	}
	return nil
}

// FramebufferUpdateRequest is sent client->server. See RFC 6143 Section
// 7.5.3.
type FramebufferUpdateRequest struct {
	Incremental bool
	Rect        Rect
}

func (m FramebufferUpdateRequest) Write(w io.Writer) error {
	if err := writeU8(w, msgFramebufferUpdateRequest); err != nil {
		return err
	}
	incr := uint8(0)
	if m.Incremental {
		incr = 1
	}
	if err := writeU8(w, incr); err != nil {
		return err
	}
	return writeRect(w, m.Rect)
}

// KeyEvent is sent client->server. See RFC 6143 Section 7.5.4.
type KeyEvent struct {
	Down   bool
	Keysym uint32
}

func (m KeyEvent) Write(w io.Writer) error {
	if err := writeU8(w, msgKeyEvent); err != nil {
		return err
	}
	down := uint8(0)
	if m.Down {
		down = 1
	}
	if err := writeU8(w, down); err != nil {
		return err
	}
	if err := writePadding(w, 2); err != nil {
		return err
	}
	return writeU32(w, m.Keysym)
}

// PointerEvent is sent client->server. See RFC 6143 Section 7.5.5.
type PointerEvent struct {
	ButtonMask uint8
	X, Y       uint16
}

func (m PointerEvent) Write(w io.Writer) error {
	if err := writeU8(w, msgPointerEvent); err != nil {
		return err
	}
	if err := writeU8(w, m.ButtonMask); err != nil {
		return err
	}
	if err := writeU16(w, m.X); err != nil {
		return err
	}
	return writeU16(w, m.Y)
}

// ClientCutText is sent client->server. See RFC 6143 Section 7.5.6.
type ClientCutText struct {
	Text string
}

func (m ClientCutText) Write(w io.Writer) error {
	if err := writeU8(w, msgClientCutText); err != nil {
		return err
	}
	if err := writePadding(w, 3); err != nil {
		return err
	}
	return writeString(w, m.Text)
}

// ReadClientMessage reads the next client-to-server message. Used by the
// proxy to decode and re-serialize the client->server direction.
func ReadClientMessage(r io.Reader) (interface{}, error) {
	tag, err := readU8(r)
	if err != nil {
		return nil, err
	}

	switch tag {
	case msgSetPixelFormat:
		if err := discardPadding(r, 3); err != nil {
			return nil, err
		}
		pf, err := readPixelFormat(r)
		if err != nil {
			return nil, err
		}
		return SetPixelFormat{Format: pf}, nil

	case msgSetEncodings:
		if err := discardPadding(r, 1); err != nil {
			return nil, err
		}
		n, err := readU16(r)
		if err != nil {
			return nil, err
		}
		var encs []Encoding
		if n > 0 {
			encs = make([]Encoding, n)
		}
		for i := range encs {
			v, err := readI32(r)
			if err != nil {
				return nil, err
			}
			encs[i] = Encoding(v)
		}
		return SetEncodings{Encodings: encs}, nil

	case msgFramebufferUpdateRequest:
		incr, err := readU8(r)
		if err != nil {
			return nil, err
		}
		rect, err := readRect(r)
		if err != nil {
			return nil, err
		}
		return FramebufferUpdateRequest{Incremental: incr != 0, Rect: rect}, nil

	case msgKeyEvent:
		down, err := readU8(r)
		if err != nil {
			return nil, err
		}
		if err := discardPadding(r, 2); err != nil {
			return nil, err
		}
		key, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return KeyEvent{Down: down != 0, Keysym: key}, nil

	case msgPointerEvent:
		mask, err := readU8(r)
		if err != nil {
			return nil, err
		}
		x, err := readU16(r)
		if err != nil {
			return nil, err
		}
		y, err := readU16(r)
		if err != nil {
			return nil, err
		}
		return PointerEvent{ButtonMask: mask, X: x, Y: y}, nil

	case msgClientCutText:
		if err := discardPadding(r, 3); err != nil {
			return nil, err
		}
		text, err := readString(r)
		if err != nil {
			return nil, err
		}
		return ClientCutText{Text: text}, nil

	default:
		return nil, errUnexpected(fmt.Sprintf("unknown client-to-server message: %d", tag))
	}
}

// SetColourMapEntries is sent server->client. See RFC 6143 Section 7.6.2.
type SetColourMapEntries struct {
	FirstColor uint16
	Colors     [][3]uint16 // r, g, b
}

func (m SetColourMapEntries) Write(w io.Writer) error {
	if err := writeU8(w, msgSetColourMapEntries); err != nil {
		return err
	}
	if err := writePadding(w, 1); err != nil {
		return err
	}
	if err := writeU16(w, m.FirstColor); err != nil {
		return err
	}
	if err := writeU16(w, uint16(len(m.Colors))); err != nil {
		return err
	}
	for _, c := range m.Colors {
		for _, v := range c {
			if err := writeU16(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Bell is sent server->client. See RFC 6143 Section 7.6.3.
type Bell struct{}

func (m Bell) Write(w io.Writer) error { return writeU8(w, msgBell) }

// ServerCutText is sent server->client. See RFC 6143 Section 7.6.4.
type ServerCutText struct {
	Text string
}

func (m ServerCutText) Write(w io.Writer) error {
	if err := writeU8(w, msgServerCutText); err != nil {
		return err
	}
	if err := writePadding(w, 3); err != nil {
		return err
	}
	return writeString(w, m.Text)
}

// RectHeader is the fixed-layout part of one FramebufferUpdate rectangle:
// its bounds and the encoding its payload is written in. The payload
// itself is not self-describing for an unknown encoding (spec.md §4.2),
// so it is consumed separately by a decoder or, in the proxy, copied
// verbatim by a length computed from the negotiated PixelFormat.
type RectHeader struct {
	Rect     Rect
	Encoding Encoding
}

func readRectHeader(r io.Reader) (RectHeader, error) {
	var h RectHeader
	rect, err := readRect(r)
	if err != nil {
		return h, err
	}
	enc, err := readI32(r)
	if err != nil {
		return h, err
	}
	h.Rect = rect
	h.Encoding = Encoding(enc)
	return h, nil
}

func writeRectHeader(w io.Writer, h RectHeader) error {
	if err := writeRect(w, h.Rect); err != nil {
		return err
	}
	return writeI32(w, int32(h.Encoding))
}

// readFramebufferUpdateHeader reads the padding and rect count of a
// server->client FramebufferUpdate message. It does not read the tag: the
// caller's dispatch must already have consumed it as msgFramebufferUpdate.
func readFramebufferUpdateHeader(r io.Reader) (numRects uint16, err error) {
	if err = discardPadding(r, 1); err != nil {
		return 0, err
	}
	return readU16(r)
}

func writeFramebufferUpdateHeader(w io.Writer, numRects uint16) error {
	if err := writeU8(w, msgFramebufferUpdate); err != nil {
		return err
	}
	if err := writePadding(w, 1); err != nil {
		return err
	}
	return writeU16(w, numRects)
}

// FramebufferUpdateHeader is what ReadServerMessage returns for a
// FramebufferUpdate tag: just the rect count. The rects themselves are not
// consumed here, since the client decodes their payloads into pixel events
// while the proxy only ever copies them byte-for-byte -- the two callers
// diverge immediately after the header, so there is nothing shared left to
// factor into this type beyond NumRects.
type FramebufferUpdateHeader struct {
	NumRects uint16
}

func (m FramebufferUpdateHeader) Write(w io.Writer) error {
	return writeFramebufferUpdateHeader(w, m.NumRects)
}

// rectPayloadLen returns the payload byte length for every rect encoding
// whose size is derivable from the rect bounds and a PixelFormat, or -1 for
// ZRLE, whose length is instead carried on the wire as a u32 prefix. Shared
// by the client's pre-decode presence scan (client.go) and the proxy's
// byte-for-byte rect forwarding (proxy.go), so the two never drift apart.
func rectPayloadLen(h RectHeader, pf PixelFormat) (int, error) {
	switch h.Encoding {
	case EncodingRaw:
		return int(h.Rect.Width) * int(h.Rect.Height) * pf.BytesPerPixel(), nil
	case EncodingCopyRect:
		return 4, nil
	case EncodingCursor:
		npix := int(h.Rect.Width) * int(h.Rect.Height) * pf.BytesPerPixel()
		maskStride := (int(h.Rect.Width) + 7) / 8
		return npix + maskStride*int(h.Rect.Height), nil
	case EncodingDesktopSize:
		return 0, nil
	case EncodingZrle:
		return -1, nil
	default:
		return 0, errUnexpected(fmt.Sprintf("unknown rect encoding: %s", h.Encoding))
	}
}

// ReadServerMessage reads the next server-to-client message tag and its
// fixed-layout payload, the server-to-client mirror of ReadClientMessage.
// Used by both the client's inbound pump and the proxy's server->client
// forwarding loop, so the tag dispatch is only ever written once. A
// FramebufferUpdate's rects are not read here -- see FramebufferUpdateHeader.
func ReadServerMessage(r io.Reader) (interface{}, error) {
	tag, err := readU8(r)
	if err != nil {
		return nil, err
	}

	switch tag {
	case msgFramebufferUpdate:
		numRects, err := readFramebufferUpdateHeader(r)
		if err != nil {
			return nil, err
		}
		return FramebufferUpdateHeader{NumRects: numRects}, nil

	case msgSetColourMapEntries:
		return readSetColourMapEntries(r)

	case msgBell:
		return Bell{}, nil

	case msgServerCutText:
		return readServerCutText(r)

	default:
		return nil, errUnexpected(fmt.Sprintf("unknown server-to-client message: %d", tag))
	}
}

func readSetColourMapEntries(r io.Reader) (SetColourMapEntries, error) {
	var m SetColourMapEntries
	if err := discardPadding(r, 1); err != nil {
		return m, err
	}
	first, err := readU16(r)
	if err != nil {
		return m, err
	}
	n, err := readU16(r)
	if err != nil {
		return m, err
	}
	m.FirstColor = first
	m.Colors = make([][3]uint16, n)
	for i := range m.Colors {
		for j := range m.Colors[i] {
			v, err := readU16(r)
			if err != nil {
				return m, err
			}
			m.Colors[i][j] = v
		}
	}
	return m, nil
}

func readServerCutText(r io.Reader) (ServerCutText, error) {
	if err := discardPadding(r, 3); err != nil {
		return ServerCutText{}, err
	}
	text, err := readString(r)
	if err != nil {
		return ServerCutText{}, err
	}
	return ServerCutText{Text: text}, nil
}
