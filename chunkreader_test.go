package btlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSettingsChunk() []byte {
	var buf []byte
	buf = append(buf, byte(ChunkSettings))
	buf = append(buf, 0x01, 0x00, 0x00, 0x00) // settingVersion = 1
	buf = append(buf, encodedString("Head")...)
	buf = append(buf, encodedString("Body")...)
	buf = append(buf, 0x2A, 0x00, 0x00, 0x00) // playerNumber = 42
	buf = append(buf, encodedString("Field")...)
	buf = append(buf, encodedString("Game")...)
	return buf
}

func buildMessageIDsChunk(names ...string) []byte {
	var buf []byte
	buf = append(buf, byte(ChunkMessageIDs))
	buf = append(buf, byte(len(names)))
	for _, n := range names {
		buf = append(buf, encodedString(n)...)
	}
	return buf
}

func TestParseChunksSettingsAndMessageIDs(t *testing.T) {
	var buf []byte
	buf = append(buf, buildSettingsChunk()...)
	buf = append(buf, buildMessageIDsChunk("idFrameBegin", "idFrameFinished")...)

	pc, err := ParseChunks(NewStream(buf))
	require.NoError(t, err)
	require.NotNil(t, pc.Settings)
	assert.Equal(t, uint32(1), pc.Settings.SettingVersion)
	assert.Equal(t, "Head", pc.Settings.HeadName)
	assert.Equal(t, int32(42), pc.Settings.PlayerNumber)
	require.NotNil(t, pc.MessageIDs)
	assert.Equal(t, 2, pc.MessageIDs.Count())
	assert.False(t, pc.Truncated)
}

func TestParseChunksDuplicateSettingsErrors(t *testing.T) {
	var buf []byte
	buf = append(buf, buildSettingsChunk()...)
	buf = append(buf, buildSettingsChunk()...)
	_, err := ParseChunks(NewStream(buf))
	assert.Error(t, err)
}

func TestParseChunksDuplicateMessageIDsErrors(t *testing.T) {
	var buf []byte
	buf = append(buf, buildMessageIDsChunk("idFrameBegin")...)
	buf = append(buf, buildMessageIDsChunk("idFrameBegin")...)
	_, err := ParseChunks(NewStream(buf))
	assert.Error(t, err)
}

func TestParseChunksUnsupportedSettingsVersion(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(ChunkSettings))
	buf = append(buf, 0x09, 0x00, 0x00, 0x00) // settingVersion = 9, unsupported
	_, err := ParseChunks(NewStream(buf))
	assert.ErrorIs(t, err, ErrUnsupportedSettingsVersion)
}

func TestParseChunksUnknownMagicTruncates(t *testing.T) {
	var buf []byte
	buf = append(buf, buildMessageIDsChunk("idFrameBegin")...)
	truncateAt := len(buf)
	buf = append(buf, 0xAB, 0x01, 0x02, 0x03) // unrecognized magic byte

	pc, err := ParseChunks(NewStream(buf))
	require.NoError(t, err)
	assert.True(t, pc.Truncated)
	assert.Equal(t, int64(truncateAt), pc.TruncateAt)
}

func TestParseChunksCompressedContentUnsupported(t *testing.T) {
	buf := []byte{byte(ChunkCompressedContent)}
	_, err := ParseChunks(NewStream(buf))
	assert.ErrorIs(t, err, ErrUnsupportedChunk)
}

func TestParseChunksIndicesUnsupportedVersionDiscardedNotFatal(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(ChunkIndices))
	buf = append(buf, 0x09, 0x00, 0x00, 0x00) // version 9, unsupported

	pc, err := ParseChunks(NewStream(buf))
	require.NoError(t, err)
	assert.Nil(t, pc.Indices)
	assert.True(t, pc.Truncated)
}

func TestParseChunksUncompressedContentAdvancesPastPayload(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(ChunkUncompressedContent))
	buf = append(buf, WriteQueueHeader(QueueHeader{Low: 4, Messages: 0, High: 0})...)
	buf = append(buf, 0xDE, 0xAD, 0xBE, 0xEF) // 4 bytes of payload matching usedSize
	buf = append(buf, buildMessageIDsChunk("idFrameBegin")...)

	pc, err := ParseChunks(NewStream(buf))
	require.NoError(t, err)
	require.Len(t, pc.Content, 1)
	assert.Equal(t, uint64(4), pc.Content[0].QueueHeader.UsedSize())
	require.NotNil(t, pc.MessageIDs)
}

func TestParseIndicesChunkRoundtrip(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x02, 0x00, 0x00, 0x00) // version 2
	buf = append(buf, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00) // usedSize = 16
	buf = append(buf, 0x01, 0x00, 0x00, 0x00)                        // 1 frame offset
	buf = append(buf, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80) // offset=0, image bit set
	buf = append(buf, 0x01, 0x00, 0x00, 0x00)                        // 1 thread stat
	buf = append(buf, encodedString("Upper")...)
	buf = append(buf, 0x05, 0x00, 0x00, 0x00) // frequency
	buf = append(buf, 0x64, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00) // storageSize
	buf = append(buf, 0x00, 0x00, 0x00, 0x00)                        // 0 annotations

	s := NewStream(buf)
	ic, err := parseIndicesChunk(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ic.Version)
	assert.Equal(t, uint64(16), ic.UsedSize)
	require.Len(t, ic.FrameOffsets, 1)
	assert.Equal(t, uint64(0), ic.FrameOffsets[0].Offset)
	assert.True(t, ic.FrameOffsets[0].HasImage)
	require.Len(t, ic.ThreadStats, 1)
	assert.Equal(t, "Upper", ic.ThreadStats[0].ThreadName)
	assert.Equal(t, uint32(5), ic.ThreadStats[0].Frequency)
	assert.Empty(t, ic.Annotations)
}
