// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"bytes"
	"testing"
)

var rgb888 = PixelFormat{BitsPerPixel: 32, Depth: 24, TrueColorFlag: 1, RedMax: 255, GreenMax: 255, BlueMax: 255, RedShift: 16, GreenShift: 8, BlueShift: 0}

func TestDecodeRaw(t *testing.T) {
	rect := Rect{Left: 1, Top: 2, Width: 2, Height: 2}
	pixels := bytes.Repeat([]byte{1, 2, 3, 0}, 4)
	ev, err := decodeRaw(bytes.NewReader(pixels), rect, rgb888)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventPutPixels || ev.Rect != rect || !bytes.Equal(ev.Pixels, pixels) {
		t.Errorf("got %#v", ev)
	}
}

func TestDecodeRawShort(t *testing.T) {
	rect := Rect{Width: 2, Height: 2}
	if _, err := decodeRaw(bytes.NewReader(make([]byte, 4)), rect, rgb888); err != ErrUnexpectedEof {
		t.Errorf("err = %v, want ErrUnexpectedEof", err)
	}
}

func TestDecodeCopyRect(t *testing.T) {
	var buf bytes.Buffer
	writeU16(&buf, 10) // srcX
	writeU16(&buf, 20) // srcY

	dst := Rect{Left: 100, Top: 200, Width: 64, Height: 32}
	ev, err := decodeCopyRect(&buf, dst)
	if err != nil {
		t.Fatal(err)
	}
	wantSrc := Rect{Left: 10, Top: 20, Width: 64, Height: 32}
	if ev.Kind != EventCopyPixels || ev.Src != wantSrc || ev.Dst != dst {
		t.Errorf("got %#v, want Src=%#v Dst=%#v", ev, wantSrc, dst)
	}
}

func TestDecodeCursor(t *testing.T) {
	rect := Rect{Left: 3, Top: 4, Width: 3, Height: 2} // hotspot (3,4), 3x2 cursor
	pixels := bytes.Repeat([]byte{9, 9, 9, 0}, 6) // 3*2 = 6 pixels
	mask := []byte{0b111, 0b111}                  // 1 byte per row, since width=3 <= 8

	var buf bytes.Buffer
	buf.Write(pixels)
	buf.Write(mask)

	ev, err := decodeCursor(&buf, rect, rgb888)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventSetCursor {
		t.Fatalf("kind = %v", ev.Kind)
	}
	if ev.CursorSize != [2]uint16{3, 2} {
		t.Errorf("cursor size = %v", ev.CursorSize)
	}
	if ev.Hotspot != [2]uint16{3, 4} {
		t.Errorf("hotspot = %v", ev.Hotspot)
	}
	if !bytes.Equal(ev.CursorPixels, pixels) {
		t.Errorf("pixels = %v, want %v", ev.CursorPixels, pixels)
	}
	if !bytes.Equal(ev.CursorMask, mask) {
		t.Errorf("mask = %v, want %v", ev.CursorMask, mask)
	}
}

func TestDecodeDesktopSize(t *testing.T) {
	ev := decodeDesktopSize(Rect{Width: 1024, Height: 768})
	if ev.Kind != EventResize || ev.Width != 1024 || ev.Height != 768 {
		t.Errorf("got %#v", ev)
	}
}
