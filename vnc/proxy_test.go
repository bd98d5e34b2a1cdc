// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"bytes"
	"testing"
)

var rgb565 = PixelFormat{BitsPerPixel: 16, Depth: 16, TrueColorFlag: 1, RedMax: 31, GreenMax: 63, BlueMax: 31, RedShift: 11, GreenShift: 5, BlueShift: 0}

// TestForwardClientToServerUpdatesFormat checks that a SetPixelFormat
// passthrough is both forwarded upstream verbatim and recorded as the
// proxy's own current format, since rectPayloadLen relies on it to size
// the server's later Raw/Cursor rects correctly.
func TestForwardClientToServerUpdatesFormat(t *testing.T) {
	var in bytes.Buffer
	if err := (SetPixelFormat{Format: rgb565}).Write(&in); err != nil {
		t.Fatal(err)
	}
	if err := (FramebufferUpdateRequest{Incremental: true, Rect: Rect{Width: 10, Height: 10}}).Write(&in); err != nil {
		t.Fatal(err)
	}

	p := &Proxy{client: newFakeTransport(in.Bytes()), server: &fakeTransport{}, format: rgb888}

	if err := p.forwardClientToServer(); err == nil {
		t.Fatal("expected forwardClientToServer to return once its input drained")
	}

	if got := p.currentFormat(); got != rgb565 {
		t.Errorf("proxy format after SetPixelFormat passthrough = %#v, want %#v", got, rgb565)
	}

	var want bytes.Buffer
	(SetPixelFormat{Format: rgb565}).Write(&want)
	(FramebufferUpdateRequest{Incremental: true, Rect: Rect{Width: 10, Height: 10}}).Write(&want)
	server := p.server.(*fakeTransport)
	if !bytes.Equal(server.out.Bytes(), want.Bytes()) {
		t.Errorf("forwarded bytes = %v, want %v", server.out.Bytes(), want.Bytes())
	}
}

// TestForwardServerToClientUsesCurrentFormat is the regression test for the
// stale-format bug: after a renegotiation has updated the proxy's format,
// a Raw rect's byte count must be computed from the new format, not the one
// captured at NewProxy time.
func TestForwardServerToClientUsesCurrentFormat(t *testing.T) {
	p := &Proxy{client: &fakeTransport{}, server: &fakeTransport{}, format: rgb888}
	p.setFormat(rgb565) // simulate a SetPixelFormat renegotiation already observed

	rect := Rect{Width: 4, Height: 1}
	pixels := bytes.Repeat([]byte{0xab, 0xcd}, 4) // 4 pixels * 2 bytes/pixel under rgb565

	var in bytes.Buffer
	writeFramebufferUpdateHeader(&in, 1)
	writeRectHeader(&in, RectHeader{Rect: rect, Encoding: EncodingRaw})
	in.Write(pixels)

	serverSide := p.server.(*fakeTransport)
	serverSide.in = bytes.NewBuffer(in.Bytes())

	if err := p.forwardServerToClient(); err == nil {
		t.Fatal("expected forwardServerToClient to return once its input drained")
	}

	var want bytes.Buffer
	writeFramebufferUpdateHeader(&want, 1)
	writeRectHeader(&want, RectHeader{Rect: rect, Encoding: EncodingRaw})
	want.Write(pixels)

	client := p.client.(*fakeTransport)
	if !bytes.Equal(client.out.Bytes(), want.Bytes()) {
		t.Errorf("forwarded bytes = %v, want %v (4 pixels at 2 bytes/pixel, the updated format)", client.out.Bytes(), want.Bytes())
	}
}

// TestForwardServerToClientCopiesZrleOpaquely checks that a ZRLE rect is
// forwarded as an opaque length-prefixed blob: the proxy never inflates it,
// regardless of which PixelFormat is current.
func TestForwardServerToClientCopiesZrleOpaquely(t *testing.T) {
	p := &Proxy{client: &fakeTransport{}, server: &fakeTransport{}, format: rgb888}

	rect := Rect{Width: 2, Height: 2}
	blob := []byte{0x78, 0x9c, 0xaa, 0xbb, 0xcc} // not real zlib -- the proxy never parses it

	var in bytes.Buffer
	writeFramebufferUpdateHeader(&in, 1)
	writeRectHeader(&in, RectHeader{Rect: rect, Encoding: EncodingZrle})
	writeU32(&in, uint32(len(blob)))
	in.Write(blob)

	serverSide := p.server.(*fakeTransport)
	serverSide.in = bytes.NewBuffer(in.Bytes())

	if err := p.forwardServerToClient(); err == nil {
		t.Fatal("expected forwardServerToClient to return once its input drained")
	}

	var want bytes.Buffer
	writeFramebufferUpdateHeader(&want, 1)
	writeRectHeader(&want, RectHeader{Rect: rect, Encoding: EncodingZrle})
	writeU32(&want, uint32(len(blob)))
	want.Write(blob)

	client := p.client.(*fakeTransport)
	if !bytes.Equal(client.out.Bytes(), want.Bytes()) {
		t.Errorf("forwarded bytes = %v, want %v", client.out.Bytes(), want.Bytes())
	}
}

// TestForwardServerToClientBell checks a fixed-layout, payload-free
// message forwards unchanged.
func TestForwardServerToClientBell(t *testing.T) {
	p := &Proxy{client: &fakeTransport{}, server: &fakeTransport{}, format: rgb888}

	serverSide := p.server.(*fakeTransport)
	var in bytes.Buffer
	(Bell{}).Write(&in)
	serverSide.in = bytes.NewBuffer(in.Bytes())

	if err := p.forwardServerToClient(); err == nil {
		t.Fatal("expected forwardServerToClient to return once its input drained")
	}

	client := p.client.(*fakeTransport)
	if !bytes.Equal(client.out.Bytes(), []byte{msgBell}) {
		t.Errorf("forwarded bytes = %v, want a single Bell tag byte", client.out.Bytes())
	}
}
