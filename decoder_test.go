package btlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadValuePrimitive(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("int32_t")
	s := NewStream([]byte{0x78, 0x56, 0x34, 0x12})
	v, err := ReadValue("int32_t", s, reg)
	require.NoError(t, err)
	assert.Equal(t, KindScalar, v.Kind)
	assert.Equal(t, int32(0x12345678), v.Scalar)
}

func TestReadValueFixedArray(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("uint8_t")
	s := NewStream([]byte{1, 2, 3})
	v, err := ReadValue("uint8_t[3]", s, reg)
	require.NoError(t, err)
	require.Equal(t, KindSequence, v.Kind)
	require.Len(t, v.Sequence, 3)
	assert.Equal(t, uint8(1), v.Sequence[0].Scalar)
	assert.Equal(t, uint8(3), v.Sequence[2].Scalar)
}

func TestReadValueDynamicArray(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("uint8_t")
	// length = 2, then two bytes
	s := NewStream([]byte{2, 0, 0, 0, 9, 10})
	v, err := ReadValue("uint8_t*", s, reg)
	require.NoError(t, err)
	require.Len(t, v.Sequence, 2)
	assert.Equal(t, uint8(9), v.Sequence[0].Scalar)
	assert.Equal(t, uint8(10), v.Sequence[1].Scalar)
}

func TestReadValueEnumInRange(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddEnum("Color", []string{"Red", "Green", "Blue"})
	s := NewStream([]byte{1})
	v, err := ReadValue("Color", s, reg)
	require.NoError(t, err)
	assert.Equal(t, KindEnum, v.Kind)
	assert.Equal(t, byte(1), v.EnumIndex)
	assert.Equal(t, "Green", v.EnumName)
}

func TestReadValueEnumOutOfRange(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddEnum("Color", []string{"Red", "Green"})
	s := NewStream([]byte{5})
	_, err := ReadValue("Color", s, reg)
	require.Error(t, err)
	var rangeErr *EnumRangeError
	assert.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "Color", rangeErr.EnumName)
}

func TestReadValueClassDispatchesFieldOrder(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("int32_t")
	reg.AddPrimitive("uint8_t")
	reg.AddClass("Point", []attr{
		{Name: "x", Type: "int32_t"},
		{Name: "y", Type: "int32_t"},
		{Name: "flags", Type: "uint8_t"},
	})
	s := NewStream([]byte{
		0x01, 0x00, 0x00, 0x00, // x = 1
		0x02, 0x00, 0x00, 0x00, // y = 2
		0x07, // flags
	})
	v, err := ReadValue("Point", s, reg)
	require.NoError(t, err)
	require.Equal(t, KindStruct, v.Kind)
	require.Len(t, v.Fields, 3)
	assert.Equal(t, "x", v.Fields[0].Name)
	assert.Equal(t, int32(1), v.Fields[0].Value.Scalar)
	assert.Equal(t, "y", v.Fields[1].Name)
	assert.Equal(t, int32(2), v.Fields[1].Value.Scalar)
	assert.Equal(t, "flags", v.Fields[2].Name)
	assert.Equal(t, uint8(7), v.Fields[2].Value.Scalar)

	x, ok := v.Get("x")
	assert.True(t, ok)
	assert.Equal(t, int32(1), x.Scalar)

	_, ok = v.Get("missing")
	assert.False(t, ok)
}

func TestReadValueUnknownTypeWrapsErrSchema(t *testing.T) {
	reg := NewTypeInfo(false)
	s := NewStream([]byte{0})
	_, err := ReadValue("NoSuchType", s, reg)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestDecodeMessageErrorsOnTrailingBytes(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("uint8_t")
	_, err := DecodeMessage("uint8_t", []byte{1, 2}, reg)
	assert.ErrorIs(t, err, ErrBufferNotFullyConsumed)
}

func TestDecodeMessageExactConsumption(t *testing.T) {
	reg := NewTypeInfo(false)
	reg.AddPrimitive("uint8_t")
	v, err := DecodeMessage("uint8_t", []byte{42}, reg)
	require.NoError(t, err)
	assert.Equal(t, uint8(42), v.Scalar)
}

func TestReadAnnotationWithFrameAndQuotedName(t *testing.T) {
	reg := NewTypeInfo(false)
	buf := make([]byte, 0)
	// top bit clear -> frame field present
	buf = append(buf, 0x05, 0x00, 0x00, 0x00) // annotationNumber = 5
	buf = append(buf, 0x10, 0x00, 0x00, 0x00) // frame = 16
	buf = append(buf, []byte(`kick "left foot" strong`)...)
	s := NewStream(buf)
	v, err := ReadValue("Annotation", s, reg)
	require.NoError(t, err)
	require.Equal(t, KindStruct, v.Kind)

	num, ok := v.Get("annotationNumber")
	require.True(t, ok)
	assert.Equal(t, uint32(5), num.Scalar)

	frame, ok := v.Get("frame")
	require.True(t, ok)
	assert.Equal(t, uint32(16), frame.Scalar)

	name, ok := v.Get("name")
	require.True(t, ok)
	assert.Equal(t, "kick", name.Scalar)

	annotation, ok := v.Get("annotation")
	require.True(t, ok)
	assert.Equal(t, "left foot strong", annotation.Scalar)
}

func TestReadAnnotationTopBitSetOmitsFrame(t *testing.T) {
	reg := NewTypeInfo(false)
	buf := make([]byte, 0)
	buf = append(buf, 0x00, 0x00, 0x00, 0x80) // top bit set, number = 0
	buf = append(buf, []byte("solo")...)
	s := NewStream(buf)
	v, err := ReadValue("Annotation", s, reg)
	require.NoError(t, err)
	_, ok := v.Get("frame")
	assert.False(t, ok)
	name, ok := v.Get("name")
	require.True(t, ok)
	assert.Equal(t, "solo", name.Scalar)
}
