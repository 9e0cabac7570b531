package btlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrEndOfStream is returned when a read requests more bytes than remain in
// the source.
var ErrEndOfStream = errors.New("end of stream")

// Whence selects the reference point for Stream.Seek.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// Stream is a strictly sequential little-endian reader over a byte source
// (a memory-mapped file, an in-memory buffer, or any slice taken from one).
// It never buffers beyond what the underlying slice already holds.
type Stream struct {
	buf    []byte
	cursor int
}

// NewStream wraps buf for sequential reading starting at offset 0.
func NewStream(buf []byte) *Stream {
	return &Stream{buf: buf}
}

func (s *Stream) Size() int64 { return int64(len(s.buf)) }

func (s *Stream) Tell() int64 { return int64(s.cursor) }

func (s *Stream) RemainingSize() int64 { return int64(len(s.buf) - s.cursor) }

func (s *Stream) AtEnd() bool { return s.cursor >= len(s.buf) }

// Seek repositions the cursor relative to whence. A result outside
// [0, len(buf)] returns an error and leaves the cursor where it was.
func (s *Stream) Seek(offset int64, whence Whence) (int64, error) {
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(s.cursor)
	case SeekEnd:
		base = int64(len(s.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 || pos > int64(len(s.buf)) {
		return 0, fmt.Errorf("seek out of range: %d", pos)
	}
	s.cursor = int(pos)
	return pos, nil
}

// Read advances the cursor by n and returns the consumed bytes.
func (s *Stream) Read(n int) ([]byte, error) {
	if n < 0 || s.cursor+n > len(s.buf) {
		return nil, ErrEndOfStream
	}
	out := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return out, nil
}

// Probe returns the next n bytes without advancing the cursor.
func (s *Stream) Probe(n int) ([]byte, error) {
	if n < 0 || s.cursor+n > len(s.buf) {
		return nil, ErrEndOfStream
	}
	return s.buf[s.cursor : s.cursor+n], nil
}

func (s *Stream) ReadByte() (byte, error) {
	b, err := s.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadBool() (bool, error) {
	b, err := s.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (s *Stream) ReadUint8() (uint8, error) { return s.ReadByte() }

func (s *Stream) ReadInt8() (int8, error) {
	b, err := s.ReadByte()
	return int8(b), err
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Stream) ReadInt64() (int64, error) {
	v, err := s.ReadUint64()
	return int64(v), err
}

// ReadSizeT reads the 8-byte size_t primitive.
func (s *Stream) ReadSizeT() (uint64, error) { return s.ReadUint64() }

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (s *Stream) ReadAngle() (Angle, error) {
	v, err := s.ReadFloat32()
	return Angle(v), err
}

// ReadString reads a u32 length prefix followed by that many ASCII/UTF-8
// bytes.
func (s *Stream) ReadString() (string, error) {
	n, err := s.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := s.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadFixedASCII reads n bytes and trims trailing NUL padding.
func (s *Stream) ReadFixedASCII(n int) (string, error) {
	b, err := s.Read(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}

// ReadMessageHeader reads the 4-byte message header: a 1-byte log-local id
// and a 3-byte little-endian payload size, zero-extended to 32 bits.
func (s *Stream) ReadMessageHeader() (MessageHeader, error) {
	b, err := s.Read(4)
	if err != nil {
		return MessageHeader{}, err
	}
	size := uint32(b[1]) | uint32(b[2])<<8 | uint32(b[3])<<16
	return MessageHeader{LogID: b[0], PayloadSize: size}, nil
}

// ReadQueueHeader reads the 8-byte content-chunk queue header: bits [0,32)
// are low, [32,60) are messages, [60,64) are high.
func (s *Stream) ReadQueueHeader() (QueueHeader, error) {
	word, err := s.ReadUint64()
	if err != nil {
		return QueueHeader{}, err
	}
	return QueueHeader{
		Low:      uint32(word & 0xFFFFFFFF),
		Messages: uint32((word >> 32) & 0x0FFFFFFF),
		High:     uint8((word >> 60) & 0xF),
	}, nil
}

// WriteQueueHeader packs a QueueHeader back into its 8-byte wire form.
func WriteQueueHeader(q QueueHeader) []byte {
	word := uint64(q.Low) | (uint64(q.Messages&0x0FFFFFFF) << 32) | (uint64(q.High&0xF) << 60)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, word)
	return b
}

func putByte(buf []byte, x byte) int {
	buf[0] = x
	return 1
}

func putUint32(buf []byte, v uint32) int {
	binary.LittleEndian.PutUint32(buf, v)
	return 4
}

func putUint64(buf []byte, v uint64) int {
	binary.LittleEndian.PutUint64(buf, v)
	return 8
}

func putFixedASCII(buf []byte, s string, n int) int {
	clear := buf[:n]
	for i := range clear {
		clear[i] = 0
	}
	copy(clear, s)
	return n
}
