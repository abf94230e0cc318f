// Package wire implements the bit-exact, little-endian packet framing
// and field codec described in the external-interfaces section: a
// u16 id, a pad byte, a u32 length, then a payload whose fields are
// fixed-width integers, LEB128-length-prefixed strings, int lists, and
// raw byte slices.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"banchod/internal/model"
)

// Header is the 7-byte packet prefix: id, a pad byte, then payload length.
type Header struct {
	ID     uint16
	Length uint32
}

const HeaderSize = 7

// ReadHeader parses the 7-byte packet header from the front of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, model.ErrShortRead
	}
	h := Header{
		ID:     binary.LittleEndian.Uint16(buf[0:2]),
		Length: binary.LittleEndian.Uint32(buf[3:7]),
	}
	return h, nil
}

// Writer accumulates a packet payload field by field.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteU8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) WriteS8(v int8)    { w.buf.WriteByte(byte(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteS16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteS32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteS64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteString writes the STRING encoding: 0x00 for an empty/absent
// string, else 0x0B followed by a ULEB128 byte length and UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	if s == "" {
		w.buf.WriteByte(0x00)
		return
	}
	w.buf.WriteByte(0x0B)
	writeULEB128(&w.buf, uint64(len(s)))
	w.buf.WriteString(s)
}

// WriteIntList writes the INT_LIST encoding: a u16 count then count s32s.
func (w *Writer) WriteIntList(values []int32) {
	w.WriteU16(uint16(len(values)))
	for _, v := range values {
		w.WriteS32(v)
	}
}

// WriteBytes writes a raw byte slice with no length prefix (BBYTES);
// the outer packet length implies the slice boundary.
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// Bytes returns the accumulated payload without the packet header, for
// callers building a payload to embed inside another packet (e.g. match
// data nested inside matchNew/updateMatch).
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Build wraps the accumulated payload with the packet header, producing
// a complete wire-ready frame.
func (w *Writer) Build(id uint16) []byte {
	payload := w.buf.Bytes()
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], id)
	out[2] = 0
	binary.LittleEndian.PutUint32(out[3:7], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// Build is a convenience for single-shot packets built from a closure
// over a fresh Writer.
func Build(id uint16, fill func(w *Writer)) []byte {
	w := NewWriter()
	if fill != nil {
		fill(w)
	}
	return w.Build(id)
}

// Reader consumes a packet payload field by field, tracking position so
// truncated reads surface ErrShortRead instead of panicking.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

func (r *Reader) require(n int) error {
	if r.pos+n > len(r.buf) {
		return model.ErrShortRead
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

func (r *Reader) ReadS8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadS16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadS32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadS64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadString decodes the STRING encoding documented on Writer.WriteString.
func (r *Reader) ReadString() (string, error) {
	marker, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	if marker == 0x00 {
		return "", nil
	}
	if marker != 0x0B {
		return "", fmt.Errorf("%w: bad string marker 0x%02x", model.ErrMalformedPacket, marker)
	}
	length, err := readULEB128(r)
	if err != nil {
		return "", err
	}
	if err := r.require(int(length)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(length)])
	r.pos += int(length)
	return s, nil
}

func (r *Reader) ReadIntList() ([]int32, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, count)
	for i := uint16(0); i < count; i++ {
		v, err := r.ReadS32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadBytes consumes the rest of the payload as a raw byte slice.
func (r *Reader) ReadBytes() []byte {
	rest := r.buf[r.pos:]
	r.pos = len(r.buf)
	return rest
}

// ReadN consumes exactly n raw bytes.
func (r *Reader) ReadN(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func writeULEB128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func readULEB128(r *Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("%w: leb128 overflow", model.ErrMalformedPacket)
		}
	}
}
