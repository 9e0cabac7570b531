package btlog

import (
	"fmt"
	"strings"
)

// ValueKind discriminates the tagged union produced by the decoder.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindSequence
	KindEnum
	KindStruct
)

// Value is the generic decoded-value tree: a primitive scalar, a sequence
// of values (fixed or dynamic array), a named enum variant, or a struct of
// named fields.
type Value struct {
	Kind ValueKind

	Scalar interface{} // valid when Kind == KindScalar

	Sequence []Value // valid when Kind == KindSequence

	EnumIndex byte   // valid when Kind == KindEnum
	EnumName  string // valid when Kind == KindEnum

	Fields []Field // valid when Kind == KindStruct
}

// Field is one named entry of a KindStruct Value, kept as an ordered slice
// (not a map) so declaration order survives.
type Field struct {
	Name  string
	Value Value
}

// Get returns the first field matching name, or false if absent.
func (v Value) Get(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

type primitiveReader func(s *Stream) (interface{}, error)

// primitiveReaders maps the primitive type-name spellings a TypeInfoChunk
// is expected to carry onto component A's typed readers. Names follow
// common C++ primitive spellings since the type-info catalogue is written
// by a C++ control stack.
var primitiveReaders = map[string]primitiveReader{
	"bool":               func(s *Stream) (interface{}, error) { return s.ReadBool() },
	"char":                func(s *Stream) (interface{}, error) { return s.ReadInt8() },
	"signed char":         func(s *Stream) (interface{}, error) { return s.ReadInt8() },
	"int8_t":              func(s *Stream) (interface{}, error) { return s.ReadInt8() },
	"unsigned char":        func(s *Stream) (interface{}, error) { return s.ReadUint8() },
	"uint8_t":              func(s *Stream) (interface{}, error) { return s.ReadUint8() },
	"short":                func(s *Stream) (interface{}, error) { return s.ReadInt16() },
	"int16_t":              func(s *Stream) (interface{}, error) { return s.ReadInt16() },
	"unsigned short":       func(s *Stream) (interface{}, error) { return s.ReadUint16() },
	"uint16_t":             func(s *Stream) (interface{}, error) { return s.ReadUint16() },
	"int":                  func(s *Stream) (interface{}, error) { return s.ReadInt32() },
	"int32_t":              func(s *Stream) (interface{}, error) { return s.ReadInt32() },
	"unsigned int":         func(s *Stream) (interface{}, error) { return s.ReadUint32() },
	"uint32_t":             func(s *Stream) (interface{}, error) { return s.ReadUint32() },
	"long long":            func(s *Stream) (interface{}, error) { return s.ReadInt64() },
	"int64_t":              func(s *Stream) (interface{}, error) { return s.ReadInt64() },
	"unsigned long long":   func(s *Stream) (interface{}, error) { return s.ReadUint64() },
	"uint64_t":             func(s *Stream) (interface{}, error) { return s.ReadUint64() },
	"size_t":               func(s *Stream) (interface{}, error) { return s.ReadSizeT() },
	"float":                func(s *Stream) (interface{}, error) { return s.ReadFloat32() },
	"double":               func(s *Stream) (interface{}, error) { return s.ReadFloat64() },
	"Angle":                func(s *Stream) (interface{}, error) { return s.ReadAngle() },
	"std::string":          func(s *Stream) (interface{}, error) { return s.ReadString() },
	"string":               func(s *Stream) (interface{}, error) { return s.ReadString() },
}

// typeSuffixKind describes how a type-name string was split: a plain base
// type, a fixed array T[n], or a dynamic array T* (length read as a u32).
type typeSuffixKind int

const (
	suffixNone typeSuffixKind = iota
	suffixFixedArray
	suffixDynamicArray
)

func parseTypeSuffix(typeName string) (kind typeSuffixKind, base string, n int, err error) {
	if strings.HasSuffix(typeName, "*") {
		return suffixDynamicArray, strings.TrimSuffix(typeName, "*"), 0, nil
	}
	if strings.HasSuffix(typeName, "]") {
		open := strings.LastIndexByte(typeName, '[')
		if open < 0 {
			return 0, "", 0, fmt.Errorf("%w: malformed array type %q", ErrSchema, typeName)
		}
		var count int
		if _, scanErr := fmt.Sscanf(typeName[open+1:len(typeName)-1], "%d", &count); scanErr != nil {
			return 0, "", 0, fmt.Errorf("%w: malformed array length in %q", ErrSchema, typeName)
		}
		return suffixFixedArray, typeName[:open], count, nil
	}
	return suffixNone, typeName, 0, nil
}

// ReadValue recursively decodes a value of typeName from s, dispatching in
// the order: fixed array, dynamic array, primitive, enum, class.
func ReadValue(typeName string, s *Stream, reg *TypeInfo) (Value, error) {
	kind, base, n, err := parseTypeSuffix(typeName)
	if err != nil {
		return Value{}, err
	}
	switch kind {
	case suffixFixedArray:
		seq := make([]Value, n)
		for i := 0; i < n; i++ {
			v, err := ReadValue(base, s, reg)
			if err != nil {
				return Value{}, err
			}
			seq[i] = v
		}
		return Value{Kind: KindSequence, Sequence: seq}, nil
	case suffixDynamicArray:
		length, err := s.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		seq := make([]Value, length)
		for i := range seq {
			v, err := ReadValue(base, s, reg)
			if err != nil {
				return Value{}, err
			}
			seq[i] = v
		}
		return Value{Kind: KindSequence, Sequence: seq}, nil
	}

	if reg.IsPrimitive(base) {
		reader, ok := primitiveReaders[base]
		if !ok {
			return Value{}, fmt.Errorf("%w: no primitive reader registered for %q", ErrSchema, base)
		}
		v, err := reader(s)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindScalar, Scalar: v}, nil
	}

	if values, ok := reg.EnumValues(base); ok {
		idx, err := s.ReadByte()
		if err != nil {
			return Value{}, err
		}
		if int(idx) >= len(values) {
			return Value{}, &EnumRangeError{EnumName: base, Value: idx, NumValid: len(values)}
		}
		return Value{Kind: KindEnum, EnumIndex: idx, EnumName: values[idx]}, nil
	}

	if base == "Annotation" {
		return readAnnotation(s)
	}

	if fields, ok := reg.ClassFields(base); ok {
		out := Value{Kind: KindStruct, Fields: make([]Field, len(fields))}
		for i, a := range fields {
			v, err := ReadValue(a.Type, s, reg)
			if err != nil {
				return Value{}, fmt.Errorf("field %s.%s: %w", base, a.Name, err)
			}
			out.Fields[i] = Field{Name: a.Name, Value: v}
		}
		return out, nil
	}

	return Value{}, fmt.Errorf("%w: unknown type %q", ErrSchema, base)
}

// DecodeMessage decodes the full payload of a message of the given
// className and errors if any bytes remain unconsumed at the end.
func DecodeMessage(className string, payload []byte, reg *TypeInfo) (Value, error) {
	s := NewStream(payload)
	v, err := ReadValue(className, s, reg)
	if err != nil {
		return Value{}, err
	}
	if !s.AtEnd() {
		return Value{}, fmt.Errorf("%s: %w", className, ErrBufferNotFullyConsumed)
	}
	return v, nil
}

const annotationTopBit = 1 << 31

// readAnnotation decodes the Annotation class, whose layout does not
// follow the generic class rule: annotationNumber:u32, an optional
// frame:u32 when the top bit of annotationNumber is clear, then ASCII text
// tokenized into a name (first token) and an annotation (remaining tokens
// joined by single spaces).
func readAnnotation(s *Stream) (Value, error) {
	rawNumber, err := s.ReadUint32()
	if err != nil {
		return Value{}, err
	}
	hasFrame := rawNumber&annotationTopBit == 0
	fields := []Field{
		{Name: "annotationNumber", Value: Value{Kind: KindScalar, Scalar: rawNumber &^ annotationTopBit}},
	}
	if hasFrame {
		frame, err := s.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, Field{Name: "frame", Value: Value{Kind: KindScalar, Scalar: frame}})
	}
	rest, err := s.Read(int(s.RemainingSize()))
	if err != nil {
		return Value{}, err
	}
	tokens := tokenizeShellWords(string(rest))
	var name, annotation string
	if len(tokens) > 0 {
		name = tokens[0]
		annotation = strings.Join(tokens[1:], " ")
	}
	fields = append(fields,
		Field{Name: "name", Value: Value{Kind: KindScalar, Scalar: name}},
		Field{Name: "annotation", Value: Value{Kind: KindScalar, Scalar: annotation}},
	)
	return Value{Kind: KindStruct, Fields: fields}, nil
}

// tokenizeShellWords splits s on whitespace, treating a double-quoted run
// as a single token with its quotes stripped.
func tokenizeShellWords(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	haveToken := false
	flush := func() {
		if haveToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			haveToken = false
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			haveToken = true
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	flush()
	return tokens
}

// ReadFrameBeginPayload and ReadFrameFinishedPayload decode the single
// threadName string carried by FrameBegin/FrameFinished messages. The
// frame splitter reads thread names directly off the wire for byte-exact
// comparison; these helpers exist for symmetry and for callers that want a
// Value tree for these two classes like any other.
func ReadFrameBeginPayload(s *Stream) (Value, error)    { return readThreadNamePayload(s) }
func ReadFrameFinishedPayload(s *Stream) (Value, error) { return readThreadNamePayload(s) }

func readThreadNamePayload(s *Stream) (Value, error) {
	name, err := s.ReadString()
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindStruct, Fields: []Field{
		{Name: "threadName", Value: Value{Kind: KindScalar, Scalar: name}},
	}}, nil
}
