package btlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCorruptedTailLogBytes produces a log with one complete, valid frame
// followed by a message whose logId is out of range, simulating a log cut
// off mid-recording. Eval must recover by keeping the good frame instead of
// failing outright.
func buildCorruptedTailLogBytes() []byte {
	var buf []byte
	buf = append(buf, buildMessageIDsChunk("idFrameBegin", "idFrameFinished", "idFoo")...)

	var ti []byte
	ti = append(ti, byte(ChunkTypeInfo))
	ti = append(ti, 0x01, 0x00, 0x00, 0x00)
	ti = append(ti, encodedString("int32_t")...)
	ti = append(ti, 0x01, 0x00, 0x00, 0x00)
	ti = append(ti, encodedString("Foo")...)
	ti = append(ti, 0x01, 0x00, 0x00, 0x00)
	ti = append(ti, encodedString("value")...)
	ti = append(ti, encodedString("int32_t")...)
	ti = append(ti, 0x00, 0x00, 0x00, 0x00)
	buf = append(buf, ti...)

	threadBody := encodedString("Upper")
	var goodFrame []byte
	goodFrame = append(goodFrame, buildMessage(0, threadBody)...)
	goodFrame = append(goodFrame, buildMessage(2, int32Payload(7))...)
	goodFrame = append(goodFrame, buildMessage(1, threadBody)...)

	// A message with an out-of-range logId (only 3 ids are declared above),
	// appended as if a second frame had started recording and the process
	// was killed before the table could grow to cover it.
	corruptTail := buildMessage(99, []byte{})

	payload := append(append([]byte{}, goodFrame...), corruptTail...)

	var content []byte
	content = append(content, byte(ChunkUncompressedContent))
	content = append(content, WriteQueueHeader(QueueHeader{Low: uint32(len(payload)), Messages: 2, High: 0})...)
	content = append(content, payload...)
	buf = append(buf, content...)

	return buf
}

func buildCorruptedTailLogFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.btlog")
	require.NoError(t, os.WriteFile(path, buildCorruptedTailLogBytes(), 0o644))
	return path
}

func TestEvalRecoversByTruncatingToLastCompleteFrameInstanceMode(t *testing.T) {
	path := buildCorruptedTailLogFile(t)
	log, err := Open(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Eval(ForceInstanceMode()))

	frames := log.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "Upper", frames[0].ThreadName)
}

func TestEvalRecoversByTruncatingToLastCompleteFrameAccessorMode(t *testing.T) {
	path := buildCorruptedTailLogFile(t)
	log, err := Open(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Eval(ForceAccessorMode()))

	fa, err := log.RootFrameAccessor()
	require.NoError(t, err)
	assert.Equal(t, 1, fa.Len())
}

func TestEvalTruncationIsIdempotentAcrossRepeatedOpens(t *testing.T) {
	path := buildCorruptedTailLogFile(t)

	for i := 0; i < 2; i++ {
		log, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, log.Eval(ForceInstanceMode()))
		assert.Len(t, log.Frames(), 1)
		require.NoError(t, log.Close())
	}
}
