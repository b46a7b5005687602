package codec

import (
	"encoding/binary"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// reader consumes big-endian fields. It never panics on short input; the
// first failure is returned as a DecodingError carrying the offset.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, types.NewDecodingError(r.off, "truncated %s: need %d bytes, have %d", what, n, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8(what string) (uint8, error) {
	b, err := r.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16(what string) (uint16, error) {
	b, err := r.take(2, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64(what string) (uint64, error) {
	b, err := r.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) bool(what string) (bool, error) {
	off := r.off
	v, err := r.u8(what)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, types.NewDecodingError(off, "invalid boolean %d for %s", v, what)
	}
}

// bytes returns a copy of the next n bytes. Empty fields decode to nil,
// the same value an unset field holds.
func (r *reader) bytes(n int, what string) ([]byte, error) {
	b, err := r.take(n, what)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) fixed(dst []byte, what string) error {
	b, err := r.take(len(dst), what)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *reader) bytes16(what string, max int) ([]byte, error) {
	off := r.off
	n, err := r.u16(what + " length")
	if err != nil {
		return nil, err
	}
	if int(n) > max {
		return nil, types.NewDecodingError(off, "%s length %d exceeds maximum %d", what, n, max)
	}
	return r.bytes(int(n), what)
}

func (r *reader) bytes32(what string) ([]byte, error) {
	n, err := r.u32(what + " length")
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, types.NewDecodingError(r.off, "truncated %s: need %d bytes, have %d", what, n, r.remaining())
	}
	return r.bytes(int(n), what)
}

func (r *reader) bytes64(what string) ([]byte, error) {
	n, err := r.u64(what + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(r.remaining()) {
		return nil, types.NewDecodingError(r.off, "truncated %s: need %d bytes, have %d", what, n, r.remaining())
	}
	return r.bytes(int(n), what)
}

func (r *reader) address(what string) (types.Address, error) {
	var a types.Address
	err := r.fixed(a[:], what)
	return a, err
}

// done fails if unconsumed bytes remain
func (r *reader) done(what string) error {
	if r.remaining() != 0 {
		return types.NewDecodingError(r.off, "%d trailing bytes after %s", r.remaining(), what)
	}
	return nil
}
