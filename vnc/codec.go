// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readFull wraps io.ReadFull, mapping both a clean EOF and a short read to
// ErrUnexpectedEof so callers can tell running out of bytes apart from any
// other transport error.
func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrUnexpectedEof
		}
		return err
	}
	return nil
}

func readU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func discardPadding(r io.Reader, n int) error {
	_, err := readBytes(r, n)
	return err
}

// readString reads a u32 length prefix followed by that many raw bytes.
// The bytes are not validated as UTF-8 at this layer (spec.md §4.1).
func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf, err := readBytes(r, int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func readRect(r io.Reader) (Rect, error) {
	var rect Rect
	var err error
	if rect.Left, err = readU16(r); err != nil {
		return rect, err
	}
	if rect.Top, err = readU16(r); err != nil {
		return rect, err
	}
	if rect.Width, err = readU16(r); err != nil {
		return rect, err
	}
	if rect.Height, err = readU16(r); err != nil {
		return rect, err
	}
	return rect, nil
}

func readPixelFormat(r io.Reader) (PixelFormat, error) {
	var pf PixelFormat
	buf := make([]byte, 16)
	if err := readFull(r, buf); err != nil {
		return pf, err
	}
	pf.BitsPerPixel = buf[0]
	pf.Depth = buf[1]
	pf.BigEndianFlag = buf[2]
	pf.TrueColorFlag = buf[3]
	pf.RedMax = binary.BigEndian.Uint16(buf[4:6])
	pf.GreenMax = binary.BigEndian.Uint16(buf[6:8])
	pf.BlueMax = binary.BigEndian.Uint16(buf[8:10])
	pf.RedShift = buf[10]
	pf.GreenShift = buf[11]
	pf.BlueShift = buf[12]
	return pf, nil
}

func writeU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeI32(w io.Writer, v int32) error {
	return writeU32(w, uint32(v))
}

func writePadding(w io.Writer, n int) error {
	_, err := w.Write(make([]byte, n))
	return err
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeRect(w io.Writer, r Rect) error {
	if err := writeU16(w, r.Left); err != nil {
		return err
	}
	if err := writeU16(w, r.Top); err != nil {
		return err
	}
	if err := writeU16(w, r.Width); err != nil {
		return err
	}
	return writeU16(w, r.Height)
}

func writePixelFormat(w io.Writer, pf PixelFormat) error {
	buf := make([]byte, 16)
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	buf[2] = pf.BigEndianFlag
	buf[3] = pf.TrueColorFlag
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	_, err := w.Write(buf)
	return err
}

// writeMessage writes a 1-byte tag followed by a fixed-layout payload via
// binary.Write. Generalizes the teacher's util.go helper of the same name
// to any BigEndian-encodable struct.
func writeMessage(w io.Writer, msgType uint8, msg interface{}) error {
	if err := writeU8(w, msgType); err != nil {
		return fmt.Errorf("unable to write message type -- %s", err.Error())
	}
	if msg == nil {
		return nil
	}
	if err := binary.Write(w, binary.BigEndian, msg); err != nil {
		return fmt.Errorf("unable to write message -- %s", err.Error())
	}
	return nil
}
