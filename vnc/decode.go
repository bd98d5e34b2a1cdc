// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import "io"

// decodeRaw implements the Raw encoding (spec.md §4.5): width*height*bpp
// bytes of pixel data in the current session PixelFormat, row-major, no
// padding. Generalizes the teacher's decodeRawEncoding/readPixel, which
// decoded straight into an image.RGBA64; rendering is out of scope here,
// so the raw bytes themselves become the PutPixels payload.
func decodeRaw(r io.Reader, rect Rect, pf PixelFormat) (Event, error) {
	n := int(rect.Width) * int(rect.Height) * pf.BytesPerPixel()
	buf, err := readBytes(r, n)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: EventPutPixels, Rect: rect, Pixels: buf}, nil
}

// decodeCopyRect implements the CopyRect encoding (spec.md §4.5): the
// payload names a source region already rendered by the client.
func decodeCopyRect(r io.Reader, dst Rect) (Event, error) {
	srcX, err := readU16(r)
	if err != nil {
		return Event{}, err
	}
	srcY, err := readU16(r)
	if err != nil {
		return Event{}, err
	}
	src := Rect{Left: srcX, Top: srcY, Width: dst.Width, Height: dst.Height}
	return Event{Kind: EventCopyPixels, Src: src, Dst: dst}, nil
}

// decodeCursor implements the Cursor pseudo-encoding (spec.md §4.5): pixel
// data followed by a row-major, MSB-first bit mask. The rect's left/top
// are reused as the hotspot.
func decodeCursor(r io.Reader, rect Rect, pf PixelFormat) (Event, error) {
	npix := int(rect.Width) * int(rect.Height) * pf.BytesPerPixel()
	pixels, err := readBytes(r, npix)
	if err != nil {
		return Event{}, err
	}

	maskStride := (int(rect.Width) + 7) / 8
	mask, err := readBytes(r, maskStride*int(rect.Height))
	if err != nil {
		return Event{}, err
	}

	return Event{
		Kind:         EventSetCursor,
		CursorSize:   [2]uint16{rect.Width, rect.Height},
		Hotspot:      [2]uint16{rect.Left, rect.Top},
		CursorPixels: pixels,
		CursorMask:   mask,
	}, nil
}

// decodeDesktopSize implements the DesktopSize pseudo-encoding (spec.md
// §4.5): an empty payload whose rect carries the new framebuffer size.
func decodeDesktopSize(rect Rect) Event {
	return Event{Kind: EventResize, Width: rect.Width, Height: rect.Height}
}
