package btlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReadPrimitivesRoundtrip(t *testing.T) {
	buf := make([]byte, 0)
	buf = append(buf, 0x01)                                     // bool
	buf = append(buf, 0xFE)                                     // uint8
	buf = append(buf, 0x34, 0x12)                                // uint16 = 0x1234
	buf = append(buf, 0x78, 0x56, 0x34, 0x12)                    // uint32 = 0x12345678
	buf = append(buf, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00) // uint64 = 1

	s := NewStream(buf)

	b, err := s.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	u8, err := s.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xFE), u8)

	u16, err := s.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), u32)

	u64, err := s.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), u64)

	assert.True(t, s.AtEnd())
}

func TestStreamProbeDoesNotAdvance(t *testing.T) {
	s := NewStream([]byte{1, 2, 3, 4})
	b, err := s.Probe(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)
	assert.Equal(t, int64(0), s.Tell())

	b, err = s.Read(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)
	assert.Equal(t, int64(2), s.Tell())
}

func TestStreamReadPastEndReturnsErrEndOfStream(t *testing.T) {
	s := NewStream([]byte{1, 2})
	_, err := s.Read(3)
	assert.ErrorIs(t, err, ErrEndOfStream)
	_, err = s.Probe(3)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestStreamSeekWhences(t *testing.T) {
	s := NewStream(make([]byte, 10))
	pos, err := s.Seek(4, SeekSet)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	pos, err = s.Seek(2, SeekCur)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	pos, err = s.Seek(-1, SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)

	_, err = s.Seek(100, SeekSet)
	assert.Error(t, err)
}

func TestStreamReadFixedASCIITrimsTrailingNUL(t *testing.T) {
	s := NewStream([]byte{'U', 'p', 'p', 'e', 'r', 0, 0, 0, 0, 0, 0, 0})
	name, err := s.ReadFixedASCII(12)
	require.NoError(t, err)
	assert.Equal(t, "Upper", name)
}

func TestStreamReadMessageHeaderUsesThreeByteSize(t *testing.T) {
	// logId 7, size 0x010203 (LE: 03 02 01)
	s := NewStream([]byte{7, 0x03, 0x02, 0x01})
	h, err := s.ReadMessageHeader()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), h.LogID)
	assert.Equal(t, uint32(0x010203), h.PayloadSize)
}

func TestQueueHeaderRoundtrip(t *testing.T) {
	// Self-consistent values per the structural bit layout in §3: low is
	// exactly 32 bits, high is 4 bits, rather than the inconsistent worked
	// example's literal hex digits (see DESIGN.md).
	cases := []QueueHeader{
		{Low: 0, Messages: 0, High: 0},
		{Low: 0xFFFFFFFF, Messages: 0x0FFFFFFF, High: 0xF},
		{Low: 0x89ABCDEF, Messages: 123, High: 0x9},
	}
	for _, q := range cases {
		encoded := WriteQueueHeader(q)
		assert.Len(t, encoded, 8)
		s := NewStream(encoded)
		got, err := s.ReadQueueHeader()
		require.NoError(t, err)
		assert.Equal(t, q, got)
		assert.Equal(t, (uint64(q.High)<<32)|uint64(q.Low), got.UsedSize())
	}
}

func TestAngleNormalize(t *testing.T) {
	assert.InDelta(t, 0.0, float64(Angle(0).Normalize()), 1e-6)
	assert.InDelta(t, -3.14159265, float64(Angle(3.14159265).Normalize()), 1e-3)
	twoPi := Angle(2 * 3.14159265)
	assert.InDelta(t, 0.0, float64(twoPi.Normalize()), 1e-3)
}
