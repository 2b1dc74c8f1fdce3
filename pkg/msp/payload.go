package msp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrShortPayload is returned when a payload ends before all fields were read.
var ErrShortPayload = errors.New("payload too short")

// Reader decodes little-endian fields from a payload. The first short read is
// remembered; later calls return zero values and Err reports it.
type Reader struct {
	b   []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = errors.Wrapf(ErrShortPayload, "need %d bytes at offset %d, have %d", n, r.off, len(r.b))
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) I16() int16 {
	return int16(r.U16())
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Bytes returns the next n raw bytes.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Remaining returns how many unread bytes are left.
func (r *Reader) Remaining() int {
	return len(r.b) - r.off
}

func (r *Reader) Err() error {
	return r.err
}

// Writer encodes little-endian fields into a payload.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) U8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	w.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
	return w
}

func (w *Writer) I16(v int16) *Writer {
	return w.U16(uint16(v))
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
	return w
}

// CString writes s followed by a NUL terminator.
func (w *Writer) CString(s string) *Writer {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
