// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

// EventKind discriminates the variants of Event. See spec.md §4.4.
type EventKind int

const (
	EventResize EventKind = iota
	EventPutPixels
	EventCopyPixels
	EventSetCursor
	EventEndOfFrame
	EventClipboard
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventResize:
		return "Resize"
	case EventPutPixels:
		return "PutPixels"
	case EventCopyPixels:
		return "CopyPixels"
	case EventSetCursor:
		return "SetCursor"
	case EventEndOfFrame:
		return "EndOfFrame"
	case EventClipboard:
		return "Clipboard"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Event is one inbound event emitted by the client's poll loop, in receipt
// order within a FramebufferUpdate and terminated by EventEndOfFrame. See
// spec.md §4.4. Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventResize
	Width, Height uint16

	// EventPutPixels
	Rect   Rect
	Pixels []byte

	// EventCopyPixels
	Src, Dst Rect

	// EventSetCursor
	CursorSize   [2]uint16
	Hotspot      [2]uint16
	CursorPixels []byte
	CursorMask   []byte

	// EventClipboard
	Text string

	// EventDisconnected
	Err error
}
