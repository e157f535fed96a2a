// Package buffer implements a small growable byte buffer tuned for
// encoding and decoding AMQP frames without extra allocations on the
// hot path.
package buffer

import "encoding/binary"

// Buffer is a growable []byte with read and write cursors.
//
// The zero value is ready to use.
type Buffer struct {
	b   []byte
	off int // read offset
}

// New returns a Buffer wrapping b. b is read from starting at index 0;
// it is not copied.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Reset discards all buffered data and read position, retaining the
// underlying storage for future writes.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Size returns the total number of bytes written, ignoring read position.
func (b *Buffer) Size() int {
	return len(b.b)
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Detach returns the full underlying slice and clears the buffer.
// The caller takes ownership of the returned slice.
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b = nil
	b.off = 0
	return out
}

// Skip advances the read cursor by n bytes. It panics if n exceeds Len.
func (b *Buffer) Skip(n int) {
	if n < 0 || n > b.Len() {
		panic("buffer: skip out of range")
	}
	b.off += n
}

// Next returns the next n unread bytes and advances the cursor. The
// second return is false if fewer than n bytes remain.
func (b *Buffer) Next(n int64) ([]byte, bool) {
	if n < 0 || int64(b.Len()) < n {
		return nil, false
	}
	out := b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return out, true
}

// Peek returns the next n unread bytes without advancing the cursor.
func (b *Buffer) Peek(n int) ([]byte, bool) {
	if n < 0 || b.Len() < n {
		return nil, false
	}
	return b.b[b.off : b.off+n], true
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() < 1 {
		return 0, errEOF
	}
	c := b.b[b.off]
	b.off++
	return c, nil
}

// PeekByte returns the next unread byte without consuming it.
func (b *Buffer) PeekByte() (byte, bool) {
	if b.Len() < 1 {
		return 0, false
	}
	return b.b[b.off], true
}

// ReadUint16 reads a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	buf, ok := b.Next(2)
	if !ok {
		return 0, errEOF
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	buf, ok := b.Next(4)
	if !ok {
		return 0, errEOF
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	buf, ok := b.Next(8)
	if !ok {
		return 0, errEOF
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) {
	b.b = append(b.b, s...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendBytes appends p.
func (b *Buffer) AppendBytes(p []byte) {
	b.b = append(b.b, p...)
}

// AppendUint16 appends v as big-endian.
func (b *Buffer) AppendUint16(v uint16) {
	b.b = append(b.b, byte(v>>8), byte(v))
}

// AppendUint32 appends v as big-endian.
func (b *Buffer) AppendUint32(v uint32) {
	b.b = append(b.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// AppendUint64 appends v as big-endian.
func (b *Buffer) AppendUint64(v uint64) {
	b.b = append(b.b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v),
	)
}

// OverwriteUint32 patches a previously appended uint32 placeholder at
// byte offset idx (absolute, not relative to the read cursor).
func (b *Buffer) OverwriteUint32(idx int, v uint32) {
	binary.BigEndian.PutUint32(b.b[idx:idx+4], v)
}

type bufErr string

func (e bufErr) Error() string { return string(e) }

const errEOF = bufErr("buffer: unexpected end of data")

// ErrEOF is returned when a read runs past the end of the buffer.
var ErrEOF = errEOF
