package btlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
)

// reprCacheVersion is the first byte of every Message_<absIndex>_repr.pkl
// record; bumped whenever the Value encoding changes shape.
const reprCacheVersion = 1

// resettableWriteCloser is an io.WriteCloser that can be repointed at a new
// underlying writer without reallocating, so one scratch buffer can be
// reused across every repr-cache record a worker encodes.
type resettableWriteCloser interface {
	io.WriteCloser
	Reset(io.Writer)
}

type bufCloser struct {
	b *bytes.Buffer
}

func (b bufCloser) Close() error                { return nil }
func (b bufCloser) Write(p []byte) (int, error) { return b.b.Write(p) }
func (b bufCloser) Reset(_ io.Writer)           { b.b.Reset() }

// countingCRCWriter tees writes through a CRC32 accumulator while tracking
// the total byte count written.
type countingCRCWriter struct {
	w    resettableWriteCloser
	size int64
	crc  hash.Hash32
}

func newCountingCRCWriter(w resettableWriteCloser) *countingCRCWriter {
	return &countingCRCWriter{w: w, crc: crc32.NewIEEE()}
}

func (c *countingCRCWriter) Write(p []byte) (int, error) {
	c.size += int64(len(p))
	_, _ = c.crc.Write(p)
	return c.w.Write(p)
}

func (c *countingCRCWriter) Reset() {
	c.size = 0
	c.crc.Reset()
	c.w.Reset(nil)
}

func (c *countingCRCWriter) CRC() uint32  { return c.crc.Sum32() }
func (c *countingCRCWriter) Size() int64  { return c.size }

// crcReader accumulates a CRC32 over every byte read through it. DecodeRepr
// does not use it: it checks a cached repr's trailer with
// crc32.ChecksumIEEE over the whole record.
type crcReader struct {
	r   io.Reader
	crc hash.Hash32
}

func newCRCReader(r io.Reader) *crcReader {
	return &crcReader{r: r, crc: crc32.NewIEEE()}
}

func (r *crcReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	_, _ = r.crc.Write(p[:n])
	return n, err
}

func (r *crcReader) Checksum() uint32 { return r.crc.Sum32() }

// reprEncoder serializes decoded Values into the repr-cache's versioned
// binary record format, reusing one scratch buffer across calls.
type reprEncoder struct {
	buf *bytes.Buffer
	cw  *countingCRCWriter
}

func newReprEncoder() *reprEncoder {
	buf := &bytes.Buffer{}
	return &reprEncoder{buf: buf, cw: newCountingCRCWriter(bufCloser{buf})}
}

// Encode returns a freshly allocated byte slice; the encoder's internal
// scratch buffer is reused on the next call.
func (e *reprEncoder) Encode(v Value) []byte {
	e.buf.Reset()
	e.cw.Reset()
	_, _ = e.cw.Write([]byte{reprCacheVersion})
	encodeValue(e.cw, v)
	out := make([]byte, e.buf.Len()+4)
	copy(out, e.buf.Bytes())
	binary.LittleEndian.PutUint32(out[e.buf.Len():], e.cw.CRC())
	return out
}

// DecodeRepr parses a record written by reprEncoder.Encode, validating its
// trailing CRC32 before trusting its bytes.
func DecodeRepr(data []byte) (Value, error) {
	if len(data) < 5 {
		return Value{}, fmt.Errorf("repr cache record too short: %d bytes", len(data))
	}
	body, tail := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(tail)
	got := crc32.ChecksumIEEE(body)
	if got != want {
		return Value{}, fmt.Errorf("repr cache checksum mismatch: got %08x want %08x", got, want)
	}
	if body[0] != reprCacheVersion {
		return Value{}, fmt.Errorf("unsupported repr cache version %d", body[0])
	}
	s := NewStream(body[1:])
	return decodeValue(s)
}

const (
	tagScalarBool byte = iota
	tagScalarInt8
	tagScalarUint8
	tagScalarInt16
	tagScalarUint16
	tagScalarInt32
	tagScalarUint32
	tagScalarInt64
	tagScalarUint64
	tagScalarFloat32
	tagScalarFloat64
	tagScalarAngle
	tagScalarString
	tagSequence
	tagEnum
	tagStruct
)

func encodeValue(w io.Writer, v Value) {
	switch v.Kind {
	case KindScalar:
		encodeScalar(w, v.Scalar)
	case KindSequence:
		_, _ = w.Write([]byte{tagSequence})
		writeUint32(w, uint32(len(v.Sequence)))
		for _, e := range v.Sequence {
			encodeValue(w, e)
		}
	case KindEnum:
		_, _ = w.Write([]byte{tagEnum})
		writeString(w, v.EnumName)
		_, _ = w.Write([]byte{v.EnumIndex})
	case KindStruct:
		_, _ = w.Write([]byte{tagStruct})
		writeUint32(w, uint32(len(v.Fields)))
		for _, f := range v.Fields {
			writeString(w, f.Name)
			encodeValue(w, f.Value)
		}
	}
}

func encodeScalar(w io.Writer, scalar interface{}) {
	switch x := scalar.(type) {
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		_, _ = w.Write([]byte{tagScalarBool, b})
	case int8:
		_, _ = w.Write([]byte{tagScalarInt8, byte(x)})
	case uint8:
		_, _ = w.Write([]byte{tagScalarUint8, x})
	case int16:
		_, _ = w.Write([]byte{tagScalarInt16})
		writeUint16(w, uint16(x))
	case uint16:
		_, _ = w.Write([]byte{tagScalarUint16})
		writeUint16(w, x)
	case int32:
		_, _ = w.Write([]byte{tagScalarInt32})
		writeUint32(w, uint32(x))
	case uint32:
		_, _ = w.Write([]byte{tagScalarUint32})
		writeUint32(w, x)
	case int64:
		_, _ = w.Write([]byte{tagScalarInt64})
		writeUint64(w, uint64(x))
	case uint64:
		_, _ = w.Write([]byte{tagScalarUint64})
		writeUint64(w, x)
	case float32:
		_, _ = w.Write([]byte{tagScalarFloat32})
		writeUint32(w, math.Float32bits(x))
	case float64:
		_, _ = w.Write([]byte{tagScalarFloat64})
		writeUint64(w, math.Float64bits(x))
	case Angle:
		_, _ = w.Write([]byte{tagScalarAngle})
		writeUint32(w, math.Float32bits(float32(x)))
	case string:
		_, _ = w.Write([]byte{tagScalarString})
		writeString(w, x)
	default:
		panic(fmt.Sprintf("repr cache: unencodable scalar type %T", scalar))
	}
}

func decodeValue(s *Stream) (Value, error) {
	tag, err := s.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch tag {
	case tagSequence:
		n, err := s.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		seq := make([]Value, n)
		for i := range seq {
			v, err := decodeValue(s)
			if err != nil {
				return Value{}, err
			}
			seq[i] = v
		}
		return Value{Kind: KindSequence, Sequence: seq}, nil
	case tagEnum:
		name, err := s.ReadString()
		if err != nil {
			return Value{}, err
		}
		idx, err := s.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindEnum, EnumName: name, EnumIndex: idx}, nil
	case tagStruct:
		n, err := s.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		fields := make([]Field, n)
		for i := range fields {
			name, err := s.ReadString()
			if err != nil {
				return Value{}, err
			}
			v, err := decodeValue(s)
			if err != nil {
				return Value{}, err
			}
			fields[i] = Field{Name: name, Value: v}
		}
		return Value{Kind: KindStruct, Fields: fields}, nil
	default:
		scalar, err := decodeScalar(tag, s)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindScalar, Scalar: scalar}, nil
	}
}

func decodeScalar(tag byte, s *Stream) (interface{}, error) {
	switch tag {
	case tagScalarBool:
		return s.ReadBool()
	case tagScalarInt8:
		return s.ReadInt8()
	case tagScalarUint8:
		return s.ReadUint8()
	case tagScalarInt16:
		return s.ReadInt16()
	case tagScalarUint16:
		return s.ReadUint16()
	case tagScalarInt32:
		return s.ReadInt32()
	case tagScalarUint32:
		return s.ReadUint32()
	case tagScalarInt64:
		return s.ReadInt64()
	case tagScalarUint64:
		return s.ReadUint64()
	case tagScalarFloat32:
		return s.ReadFloat32()
	case tagScalarFloat64:
		return s.ReadFloat64()
	case tagScalarAngle:
		return s.ReadAngle()
	case tagScalarString:
		return s.ReadString()
	default:
		return nil, fmt.Errorf("repr cache: unknown scalar tag %d", tag)
	}
}

func writeUint16(w io.Writer, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	_, _ = w.Write(b)
}

func writeUint32(w io.Writer, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	_, _ = w.Write(b)
}

func writeUint64(w io.Writer, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	_, _ = w.Write(b)
}

func writeString(w io.Writer, s string) {
	writeUint32(w, uint32(len(s)))
	_, _ = w.Write([]byte(s))
}
