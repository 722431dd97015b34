package unityfs

import (
	"encoding/binary"
	"fmt"
	"math"
)

// binReader decodes fixed-width values from an in-memory buffer. The first
// overrun is recorded in err and every later read returns a zero value, so
// callers check err once after a group of reads.
type binReader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	err   error
	what  string
}

func newBinReader(buf []byte, order binary.ByteOrder, what string) *binReader {
	return &binReader{buf: buf, order: order, what: what}
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%s: read of %d bytes at offset %d past end (%d): %w", r.what, n, r.pos, len(r.buf), ErrTruncated)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) bool() bool {
	return r.u8() != 0
}

func (r *binReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *binReader) i16() int16 {
	return int16(r.u16())
}

func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *binReader) i32() int32 {
	return int32(r.u32())
}

func (r *binReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return r.order.Uint64(b)
}

func (r *binReader) i64() int64 {
	return int64(r.u64())
}

func (r *binReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *binReader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *binReader) bytes(n int) []byte {
	return r.take(n)
}

// cstring reads a NUL terminated string
func (r *binReader) cstring() string {
	if r.err != nil {
		return ""
	}
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.err = fmt.Errorf("%s: unterminated string at offset %d: %w", r.what, r.pos, ErrTruncated)
	return ""
}

// align advances to the next multiple of n relative to the buffer start.
// Padding that would run past the end stops at the end instead.
func (r *binReader) align(n int) {
	if r.err != nil {
		return
	}
	if rem := r.pos % n; rem != 0 {
		r.pos += n - rem
		if r.pos > len(r.buf) {
			r.pos = len(r.buf)
		}
	}
}

func (r *binReader) skip(n int) {
	r.take(n)
}
