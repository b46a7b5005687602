package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// writer appends big-endian fields to a buffer. Every narrowing conversion
// goes through a checked helper so values never get truncated silently.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) raw(b []byte) {
	w.buf.Write(b)
}

// count8 writes a u8 element count, failing when n does not fit
func (w *writer) count8(field string, n int) error {
	if n < 0 || n > math.MaxUint8 {
		return types.NewEncodingError(field, "count %d does not fit in 8 bits", n)
	}
	w.u8(uint8(n))
	return nil
}

// count16 writes a u16 element count, failing when n does not fit
func (w *writer) count16(field string, n int) error {
	if n < 0 || n > math.MaxUint16 {
		return types.NewEncodingError(field, "count %d does not fit in 16 bits", n)
	}
	w.u16(uint16(n))
	return nil
}

// bytes16 writes a u16 length prefix followed by b. A zero-length value is
// still written as an explicit zero prefix.
func (w *writer) bytes16(field string, b []byte, max int) error {
	if len(b) > max {
		return types.NewEncodingError(field, "length %d exceeds maximum %d", len(b), max)
	}
	if err := w.count16(field, len(b)); err != nil {
		return err
	}
	w.raw(b)
	return nil
}

// bytes32 writes a u32 length prefix followed by b
func (w *writer) bytes32(field string, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return types.NewEncodingError(field, "length %d does not fit in 32 bits", len(b))
	}
	w.u32(uint32(len(b)))
	w.raw(b)
	return nil
}

// bytes64 writes a u64 length prefix followed by b
func (w *writer) bytes64(b []byte) {
	w.u64(uint64(len(b)))
	w.raw(b)
}

func (w *writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *writer) Len() int {
	return w.buf.Len()
}
