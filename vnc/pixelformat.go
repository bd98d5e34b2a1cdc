// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import "fmt"

// PixelFormat describes how pixel values are packed on the wire. See RFC
// 6143 Section 7.4.
type PixelFormat struct {
	BitsPerPixel  uint8
	Depth         uint8
	BigEndianFlag uint8
	TrueColorFlag uint8
	RedMax        uint16
	GreenMax      uint16
	BlueMax       uint16
	RedShift      uint8
	GreenShift    uint8
	BlueShift     uint8
	_             [3]byte // padding
}

// BytesPerPixel is BitsPerPixel/8, the size of one encoded pixel.
func (f PixelFormat) BytesPerPixel() int {
	return int(f.BitsPerPixel) / 8
}

// Equivalent reports whether two PixelFormats have identical fields.
func (f PixelFormat) Equivalent(o PixelFormat) bool {
	return f == o
}

// channelFits reports whether a channel with the given max value and shift
// fits inside bpp bits, i.e. its occupied bit range lies within [0, bpp).
func channelFits(max uint16, shift, bpp uint8) bool {
	if max == 0 {
		return true
	}
	width := uint8(0)
	for v := uint32(max); v != 0; v >>= 1 {
		width++
	}
	return uint32(shift)+uint32(width) <= uint32(bpp)
}

// Validate checks the invariants from spec.md §3: depth <= bpp, and each
// enabled channel's occupied bit range fits within bpp without overlap.
func (f PixelFormat) Validate() error {
	switch f.BitsPerPixel {
	case 8, 16, 32:
	default:
		return fmt.Errorf("vnc: invalid bits-per-pixel %d", f.BitsPerPixel)
	}
	if f.Depth > f.BitsPerPixel {
		return fmt.Errorf("vnc: depth %d exceeds bits-per-pixel %d", f.Depth, f.BitsPerPixel)
	}
	if f.TrueColorFlag == 0 {
		return nil
	}
	if !channelFits(f.RedMax, f.RedShift, f.BitsPerPixel) ||
		!channelFits(f.GreenMax, f.GreenShift, f.BitsPerPixel) ||
		!channelFits(f.BlueMax, f.BlueShift, f.BitsPerPixel) {
		return fmt.Errorf("vnc: pixel format channel ranges overflow bits-per-pixel")
	}
	occupied := uint32(0)
	for _, ch := range []struct {
		max   uint16
		shift uint8
	}{{f.RedMax, f.RedShift}, {f.GreenMax, f.GreenShift}, {f.BlueMax, f.BlueShift}} {
		if ch.max == 0 {
			continue
		}
		width := uint8(0)
		for v := uint32(ch.max); v != 0; v >>= 1 {
			width++
		}
		mask := uint32((1<<width)-1) << ch.shift
		if occupied&mask != 0 {
			return fmt.Errorf("vnc: pixel format channel ranges overlap")
		}
		occupied |= mask
	}
	return nil
}

// Rect is a rectangular region of the framebuffer. See RFC 6143 Section 7.4.
type Rect struct {
	Left   uint16
	Top    uint16
	Width  uint16
	Height uint16
}

// FitsIn reports whether the rect lies entirely within a width x height
// framebuffer, per spec.md §3.
func (r Rect) FitsIn(width, height uint16) bool {
	return uint32(r.Left)+uint32(r.Width) <= uint32(width) &&
		uint32(r.Top)+uint32(r.Height) <= uint32(height)
}

// Encoding is a signed 32-bit encoding or pseudo-encoding identifier.
// Positive values carry pixel data; negative values are pseudo-encodings
// that modify session behaviour. See spec.md §3.
type Encoding int32

const (
	EncodingRaw         Encoding = 0
	EncodingCopyRect    Encoding = 1
	EncodingHextile     Encoding = 5
	EncodingZrle        Encoding = 16
	EncodingCursor      Encoding = -239
	EncodingDesktopSize Encoding = -223
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "Raw"
	case EncodingCopyRect:
		return "CopyRect"
	case EncodingHextile:
		return "Hextile"
	case EncodingZrle:
		return "Zrle"
	case EncodingCursor:
		return "Cursor"
	case EncodingDesktopSize:
		return "DesktopSize"
	default:
		return fmt.Sprintf("Encoding(%d)", int32(e))
	}
}
