package btlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodedString builds the wire form ReadString expects: a u32 length prefix
// followed by the raw bytes.
func encodedString(s string) []byte {
	b := make([]byte, 4+len(s))
	n := uint32(len(s))
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
	b[3] = byte(n >> 24)
	copy(b[4:], s)
	return b
}

// buildMessage assembles a raw message: a 4-byte header (1-byte logId,
// 3-byte LE payload size) followed by payload.
func buildMessage(logID uint8, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[0] = logID
	size := uint32(len(payload))
	out[1] = byte(size)
	out[2] = byte(size >> 8)
	out[3] = byte(size >> 16)
	copy(out[4:], payload)
	return out
}

func testIDs() *MessageIDTable {
	return NewMessageIDTable([]string{"idFrameBegin", "idFrameFinished", "idStopwatch"})
}

func TestFrameSplitterMinimalFrame(t *testing.T) {
	ids := testIDs()
	body := encodedString("Upper")
	var buf []byte
	buf = append(buf, buildMessage(0, body)...) // FrameBegin
	buf = append(buf, buildMessage(1, body)...) // FrameFinished, identical body

	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	frame, err := fs.Next()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "Upper", frame.ThreadName)
	assert.Len(t, frame.Messages, 2)
	assert.Empty(t, frame.Dummies)
	assert.Equal(t, uint64(0), frame.AbsIndex)

	frame2, err := fs.Next()
	require.NoError(t, err)
	assert.Nil(t, frame2)
}

func TestFrameSplitterDemotesNestedFrameBeginToDummies(t *testing.T) {
	ids := testIDs()
	outerBody := encodedString("Outer")
	innerBody := encodedString("Inner")
	var buf []byte
	buf = append(buf, buildMessage(0, outerBody)...) // FrameBegin (outer)
	buf = append(buf, buildMessage(2, nil)...)       // filler Stopwatch message
	buf = append(buf, buildMessage(0, innerBody)...) // nested FrameBegin
	buf = append(buf, buildMessage(1, innerBody)...) // FrameFinished matching inner

	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	frame, err := fs.Next()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "Inner", frame.ThreadName)
	require.Len(t, frame.Dummies, 2)
	require.Len(t, frame.Messages, 2)

	all := AllMessages(frame)
	assert.Len(t, all, 4)
	assert.Equal(t, frame.Dummies[0], all[0])
	assert.Equal(t, frame.Messages[len(frame.Messages)-1], all[len(all)-1])
}

func TestFrameSplitterTruncatedMidMessage(t *testing.T) {
	ids := testIDs()
	body := encodedString("Upper")
	var buf []byte
	buf = append(buf, buildMessage(0, body)...) // FrameBegin, no FrameFinished follows
	buf = append(buf, 0x01, 0x02)                // 2 stray bytes, shorter than a header

	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	_, err := fs.Next()
	var structErr *FrameStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, "truncated mid-message", structErr.Reason)
}

func TestFrameSplitterPayloadCrossesBoundary(t *testing.T) {
	ids := testIDs()
	// Header claims 100-byte payload but only a handful of bytes remain.
	buf := []byte{0, 100, 0, 0, 1, 2, 3}
	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	_, err := fs.Next()
	var structErr *FrameStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, "message payload crosses usedSize boundary", structErr.Reason)
}

func TestFrameSplitterMissingMessageID(t *testing.T) {
	ids := testIDs()
	buf := buildMessage(undefinedLogID, nil)
	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	_, err := fs.Next()
	var structErr *FrameStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, "missing MessageID", structErr.Reason)
}

func TestFrameSplitterLogIDOutOfRange(t *testing.T) {
	ids := testIDs()
	buf := buildMessage(99, nil)
	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	_, err := fs.Next()
	var structErr *FrameStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Contains(t, structErr.Reason, "out of range")
}

func TestFrameSplitterUnmatchedFrameFinished(t *testing.T) {
	ids := testIDs()
	var buf []byte
	buf = append(buf, buildMessage(2, nil)...) // a non-FrameBegin message first
	buf = append(buf, buildMessage(1, nil)...) // FrameFinished with no matching begin

	s := NewStream(buf)
	fs := NewFrameSplitter(s, int64(len(buf)), ids)

	_, err := fs.Next()
	var structErr *FrameStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, "frame finished without matching begin", structErr.Reason)
}

func TestFrameSplitterDoneOnShortRemainder(t *testing.T) {
	ids := testIDs()
	s := NewStream([]byte{1, 2, 3})
	fs := NewFrameSplitter(s, 3, ids)
	assert.True(t, fs.Done())

	frame, err := fs.Next()
	assert.NoError(t, err)
	assert.Nil(t, frame)
}
