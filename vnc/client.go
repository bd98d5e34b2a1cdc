// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Client implements the RFB client role: Connect drives the handshake
// (spec.md §4.3) to completion synchronously, after which PollIter drains
// whatever complete server messages the transport has already delivered
// without blocking (spec.md §5). Generalizes the teacher's Conn/handshake,
// which only ever spoke a hardcoded 3.3/None/Raw path for a one-shot
// screenshot tool; this adds the negotiated state machine and the
// non-blocking inbound pump an interactive client needs.
package vnc

import (
	"bytes"
	"fmt"
	"io"
)

// ClientState names a position in the Handshaking -> Running -> Closed
// machine (spec.md §4.4, §9).
type ClientState int

const (
	StateHandshaking ClientState = iota
	StateRunning
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateRunning:
		return "Running"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Client is a live RFB session in the client role. Not safe for concurrent
// use: the core is single-threaded cooperative (spec.md §5); a host
// driving it from multiple goroutines must serialize its own calls.
type Client struct {
	t      Transport
	state  ClientState
	width  uint16
	height uint16
	name   string
	format PixelFormat
	zrle   *zrleDecoder

	// inbuf holds bytes read from the transport that have not yet formed
	// a complete message. tryDecodeOne only advances past a prefix of
	// inbuf once it has decoded that prefix as one whole message, so a
	// message split across two non-blocking reads is never partially
	// emitted (spec.md §5's "commits whole messages atomically").
	inbuf []byte
}

// Connect performs the version/security/auth/init handshake (spec.md
// §4.3) over t and returns a Client in the Running state. Unlike the
// steady-state pump, the handshake itself reads and writes synchronously;
// the host is expected to have t in blocking mode (or to have arranged an
// adequate deadline) until Connect returns.
func Connect(t Transport, shared bool, decide AuthDecider) (*Client, error) {
	_, minor, err := negotiateVersion(t)
	if err != nil {
		return nil, err
	}
	if err := negotiateSecurity(t, minor, decide); err != nil {
		return nil, err
	}

	sharedFlag := uint8(0)
	if shared {
		sharedFlag = 1
	}
	if err := writeU8(t, sharedFlag); err != nil {
		return nil, &IoError{Err: err}
	}

	width, err := readU16(t)
	if err != nil {
		return nil, &IoError{Err: err}
	}
	height, err := readU16(t)
	if err != nil {
		return nil, &IoError{Err: err}
	}
	pf, err := readPixelFormat(t)
	if err != nil {
		return nil, &IoError{Err: err}
	}
	name, err := readString(t)
	if err != nil {
		return nil, &IoError{Err: err}
	}

	return &Client{
		t:      t,
		state:  StateRunning,
		width:  width,
		height: height,
		name:   name,
		format: pf,
		zrle:   newZrleDecoder(),
	}, nil
}

// Size returns the current server framebuffer dimensions, as last updated
// by ServerInit or a DesktopSize event.
func (c *Client) Size() (uint16, uint16) { return c.width, c.height }

// Name returns the server's desktop name, fixed at handshake time.
func (c *Client) Name() string { return c.name }

// Format returns the currently negotiated PixelFormat.
func (c *Client) Format() PixelFormat { return c.format }

// State returns the client's current position in the session machine.
func (c *Client) State() ClientState { return c.state }

type clientMessage interface {
	Write(io.Writer) error
}

func (c *Client) write(m clientMessage) error {
	if c.state != StateRunning {
		return errUnexpected("operation requires the Running state")
	}
	if err := m.Write(c.t); err != nil {
		if isWouldBlock(err) {
			return ErrBackPressure
		}
		return &IoError{Err: err}
	}
	return nil
}

// SetEncodings sends the list verbatim; order expresses preference.
func (c *Client) SetEncodings(encs []Encoding) error {
	return c.write(SetEncodings{Encodings: encs})
}

// SetFormat renegotiates the session PixelFormat. Per spec.md §4.4, pixel
// payloads already in flight from the server were produced in the old
// format; the caller should treat a subsequent non-incremental
// RequestUpdate as the synchronisation point.
func (c *Client) SetFormat(pf PixelFormat) error {
	if err := c.write(SetPixelFormat{Format: pf}); err != nil {
		return err
	}
	c.format = pf
	return nil
}

// PokeServer re-sends the current PixelFormat unchanged, the QEMU
// workaround for servers that silently drop incremental updates
// (spec.md §4.4). The host owns the cadence; the core has no timer.
func (c *Client) PokeServer() error {
	return c.write(SetPixelFormat{Format: c.format})
}

// RequestUpdate asks the server for the contents of rect: the full
// contents when incremental is false, or only changed regions when true.
func (c *Client) RequestUpdate(rect Rect, incremental bool) error {
	return c.write(FramebufferUpdateRequest{Incremental: incremental, Rect: rect})
}

// SendKeyEvent reports a key transition. The keysym is the host's
// responsibility to map; the core never inspects it.
func (c *Client) SendKeyEvent(down bool, keysym uint32) error {
	return c.write(KeyEvent{Down: down, Keysym: keysym})
}

// SendPointerEvent reports a pointer transition.
func (c *Client) SendPointerEvent(buttons uint8, x, y uint16) error {
	return c.write(PointerEvent{ButtonMask: buttons, X: x, Y: y})
}

// UpdateClipboard forwards local clipboard text to the server.
func (c *Client) UpdateClipboard(text string) error {
	return c.write(ClientCutText{Text: text})
}

// Close tears down the transport in both directions and transitions to
// Closed. Idempotent.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	return c.t.Shutdown(ShutdownBoth)
}

// PollIter reads as much as the transport currently has buffered, decodes
// every complete server message it can, and returns the events produced.
// It never blocks: a read that would block simply ends this tick early.
// A fatal error ends the session and is reported as a single terminal
// Disconnected event, after which every call returns nil.
func (c *Client) PollIter() []Event {
	if c.state != StateRunning {
		return nil
	}

	if err := c.fill(); err != nil {
		return c.fail(err)
	}

	var events []Event
	for {
		consumed, msgEvents, err := c.tryDecodeOne()
		if err != nil {
			return append(events, c.fail(err)...)
		}
		if consumed == 0 {
			break
		}
		c.inbuf = c.inbuf[consumed:]
		events = append(events, msgEvents...)
	}
	return events
}

func (c *Client) fail(err error) []Event {
	c.state = StateClosed
	return []Event{{Kind: EventDisconnected, Err: err}}
}

// fill appends every byte currently available on the transport to inbuf,
// stopping on WouldBlock. An orderly close surfaces as DisconnectedError
// with no Reason; any other transport failure surfaces as IoError.
func (c *Client) fill() error {
	var scratch [32 * 1024]byte
	for {
		n, err := c.t.Read(scratch[:])
		if n > 0 {
			c.inbuf = append(c.inbuf, scratch[:n]...)
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			if err == io.EOF {
				return &DisconnectedError{}
			}
			return &IoError{Err: err}
		}
		if n == 0 {
			return nil
		}
	}
}

// tryDecodeOne attempts to decode exactly one server message from the
// front of inbuf without consuming it on failure. A short buffer (not yet
// enough bytes for a whole message) is reported as (0, nil, nil) rather
// than an error: on a live connection "truncated" and "not arrived yet"
// are indistinguishable, and spec.md §5 rules out timeouts at this layer.
func (c *Client) tryDecodeOne() (consumed int, events []Event, err error) {
	r := bytes.NewReader(c.inbuf)

	msg, err := ReadServerMessage(r)
	if err != nil {
		return shortOrFatal(err)
	}

	switch m := msg.(type) {
	case FramebufferUpdateHeader:
		// The rects are scanned once, without invoking any decoder, to
		// confirm the whole message is buffered before decodeRect runs --
		// decodeRect's ZRLE path mutates zrleDecoder's persistent
		// dictionary and stream, and that mutation cannot be undone once
		// made. Deciding "is the rest of this message here" and "decode
		// it" in the same pass let an earlier ZRLE rect's decode corrupt
		// the dictionary even when a later rect in the same message
		// turned out to be short, since the message would be re-parsed
		// from scratch (and that rect's bytes redecoded) on the next
		// PollIter once more bytes arrived.
		rectsStart := int64(len(c.inbuf)) - int64(r.Len())
		if err := scanFramebufferUpdate(r, m.NumRects, c.format); err != nil {
			return shortOrFatal(err)
		}
		if _, err := r.Seek(rectsStart, io.SeekStart); err != nil {
			return 0, nil, &IoError{Err: err}
		}

		for i := uint16(0); i < m.NumRects; i++ {
			h, err := readRectHeader(r)
			if err != nil {
				return shortOrFatal(err)
			}
			evs, err := c.decodeRect(r, h)
			if err != nil {
				return shortOrFatal(err)
			}
			events = append(events, evs...)
		}
		events = append(events, Event{Kind: EventEndOfFrame})

	case SetColourMapEntries:
		// Decoded to preserve framing; the client event model (spec.md
		// §4.4) has no colour-map event, so it is simply dropped.

	case Bell:
		// No payload, no corresponding event.

	case ServerCutText:
		events = append(events, Event{Kind: EventClipboard, Text: m.Text})
	}

	return len(c.inbuf) - r.Len(), events, nil
}

// scanFramebufferUpdate walks numRects rect headers and payloads in r,
// confirming the whole FramebufferUpdate message is present without
// invoking any decoder. A ZRLE rect is skipped by its self-describing
// length prefix only; zrleDecoder.decode is never called here, so a
// message later found to be short leaves no trace in the decoder's
// persistent state for tryDecodeOne to roll back.
func scanFramebufferUpdate(r *bytes.Reader, numRects uint16, pf PixelFormat) error {
	for i := uint16(0); i < numRects; i++ {
		h, err := readRectHeader(r)
		if err != nil {
			return err
		}
		n, err := rectPayloadLen(h, pf)
		if err != nil {
			return err
		}
		if n >= 0 {
			if _, err := readBytes(r, n); err != nil {
				return err
			}
			continue
		}

		clen, err := readU32(r)
		if err != nil {
			return err
		}
		if _, err := readBytes(r, int(clen)); err != nil {
			return err
		}
	}
	return nil
}

func shortOrFatal(err error) (int, []Event, error) {
	if err == ErrUnexpectedEof {
		return 0, nil, nil
	}
	return 0, nil, err
}

// decodeRect dispatches one rect's payload to the decoder named by its
// encoding (spec.md §4.5, §4.6), updating session state (dimensions,
// format) as a side effect where the encoding requires it.
func (c *Client) decodeRect(r *bytes.Reader, h RectHeader) ([]Event, error) {
	switch h.Encoding {
	case EncodingRaw:
		ev, err := decodeRaw(r, h.Rect, c.format)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil

	case EncodingCopyRect:
		ev, err := decodeCopyRect(r, h.Rect)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil

	case EncodingCursor:
		ev, err := decodeCursor(r, h.Rect, c.format)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil

	case EncodingDesktopSize:
		c.width, c.height = h.Rect.Width, h.Rect.Height
		return []Event{decodeDesktopSize(h.Rect)}, nil

	case EncodingZrle:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		data, err := readBytes(r, int(n))
		if err != nil {
			return nil, err
		}
		var events []Event
		emit := func(ev Event) error {
			events = append(events, ev)
			return nil
		}
		if err := c.zrle.decode(data, h.Rect, c.format, emit); err != nil {
			return nil, err
		}
		return events, nil

	default:
		return nil, errUnexpected(fmt.Sprintf("unknown rect encoding: %s", h.Encoding))
	}
}
