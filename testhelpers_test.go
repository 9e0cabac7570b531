package btlog

import (
	"os"
	"path/filepath"
	"testing"
)

// int32Payload encodes a bare little-endian int32, the wire form of a class
// whose sole field is an int32_t.
func int32Payload(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// buildMinimalLogBytes assembles a complete, self-consistent log file: a
// MessageIDsChunk, a TypeInfoChunk declaring one "Foo{value int32_t}" class,
// and a single-frame content chunk (FrameBegin/Foo/FrameFinished on thread
// "Upper").
func buildMinimalLogBytes() []byte {
	var buf []byte

	buf = append(buf, buildMessageIDsChunk("idFrameBegin", "idFrameFinished", "idFoo")...)

	var ti []byte
	ti = append(ti, byte(ChunkTypeInfo))
	ti = append(ti, 0x01, 0x00, 0x00, 0x00) // 1 primitive, unification flag clear
	ti = append(ti, encodedString("int32_t")...)
	ti = append(ti, 0x01, 0x00, 0x00, 0x00) // 1 class
	ti = append(ti, encodedString("Foo")...)
	ti = append(ti, 0x01, 0x00, 0x00, 0x00) // 1 attr
	ti = append(ti, encodedString("value")...)
	ti = append(ti, encodedString("int32_t")...)
	ti = append(ti, 0x00, 0x00, 0x00, 0x00) // 0 enums
	buf = append(buf, ti...)

	threadBody := encodedString("Upper")
	var frame []byte
	frame = append(frame, buildMessage(0, threadBody)...)       // FrameBegin
	frame = append(frame, buildMessage(2, int32Payload(7))...)  // Foo{value:7}
	frame = append(frame, buildMessage(1, threadBody)...)       // FrameFinished

	var content []byte
	content = append(content, byte(ChunkUncompressedContent))
	content = append(content, WriteQueueHeader(QueueHeader{Low: uint32(len(frame)), Messages: 1, High: 0})...)
	content = append(content, frame...)
	buf = append(buf, content...)

	return buf
}

// buildMinimalLogFile writes buildMinimalLogBytes to a fresh file under a
// temp directory and returns its path.
func buildMinimalLogFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.btlog")
	if err := os.WriteFile(path, buildMinimalLogBytes(), 0o644); err != nil {
		t.Fatalf("writing sample log: %v", err)
	}
	return path
}

// openEvaledLog opens and evaluates a fresh minimal log, registering cleanup.
func openEvaledLog(t *testing.T, opts ...EvalOpt) *Log {
	t.Helper()
	path := buildMinimalLogFile(t)
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	if err := log.Eval(opts...); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return log
}
