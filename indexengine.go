package btlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	messageRecordSize = 32
	frameRecordSize   = 32
	threadNameFieldLen = 12
)

// MessageRecord is one 32-byte record of messageIndexFile.cache.
type MessageRecord struct {
	AbsMessageIndex uint64
	AbsFrameIndex   uint64
	StartByte       uint64
	EndByte         uint64
}

// Encode packs r into its 32-byte wire form.
func (r MessageRecord) Encode() []byte {
	buf := make([]byte, messageRecordSize)
	off := 0
	off += putUint64(buf[off:], r.AbsMessageIndex)
	off += putUint64(buf[off:], r.AbsFrameIndex)
	off += putUint64(buf[off:], r.StartByte)
	putUint64(buf[off:], r.EndByte)
	return buf
}

// DecodeMessageRecord unpacks a 32-byte messageIndexFile.cache record.
func DecodeMessageRecord(buf []byte) (MessageRecord, error) {
	if len(buf) != messageRecordSize {
		return MessageRecord{}, fmt.Errorf("message index record must be %d bytes, got %d", messageRecordSize, len(buf))
	}
	return MessageRecord{
		AbsMessageIndex: binary.LittleEndian.Uint64(buf[0:8]),
		AbsFrameIndex:   binary.LittleEndian.Uint64(buf[8:16]),
		StartByte:       binary.LittleEndian.Uint64(buf[16:24]),
		EndByte:         binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// FrameRecord is one 32-byte record of frameIndexFile.cache.
type FrameRecord struct {
	AbsFrameIndex   uint32
	ThreadName      string
	FirstAbsMessage uint64
	EndAbsMessage   uint64
}

// Encode packs r into its 32-byte wire form: u32 absFrameIndex, 12-byte
// NUL-padded ASCII threadName, u64 firstAbsMessage, u64 endAbsMessage.
func (r FrameRecord) Encode() []byte {
	buf := make([]byte, frameRecordSize)
	off := putUint32(buf, r.AbsFrameIndex)
	off += putFixedASCII(buf[off:], r.ThreadName, threadNameFieldLen)
	off += putUint64(buf[off:], r.FirstAbsMessage)
	putUint64(buf[off:], r.EndAbsMessage)
	return buf
}

// DecodeFrameRecord unpacks a 32-byte frameIndexFile.cache record.
func DecodeFrameRecord(buf []byte) (FrameRecord, error) {
	if len(buf) != frameRecordSize {
		return FrameRecord{}, fmt.Errorf("frame index record must be %d bytes, got %d", frameRecordSize, len(buf))
	}
	s := NewStream(buf)
	idx, _ := s.ReadUint32()
	name, _ := s.ReadFixedASCII(threadNameFieldLen)
	first, _ := s.ReadUint64()
	end, _ := s.ReadUint64()
	return FrameRecord{AbsFrameIndex: idx, ThreadName: name, FirstAbsMessage: first, EndAbsMessage: end}, nil
}

// IndexFiles owns the two external index files for one log's cache
// directory: messageIndexFile.cache and frameIndexFile.cache.
type IndexFiles struct {
	dir          string
	messagePath  string
	framePath    string
	messageFile  *os.File
	frameFile    *os.File
	messageCount int64
	frameCount   int64
}

func indexPaths(cacheDir string) (messagePath, framePath string) {
	return filepath.Join(cacheDir, "messageIndexFile.cache"), filepath.Join(cacheDir, "frameIndexFile.cache")
}

// OpenIndexFiles opens (creating if necessary) the index files in
// cacheDir, truncates any ragged trailing partial record, and runs the
// cheap consistency checks from §4.F steps 2-3. On any inconsistency it
// truncates both files to the largest internally-consistent prefix; on a
// fully unusable index, both files are truncated to empty so evaluation
// starts over from scratch.
func OpenIndexFiles(cacheDir string) (*IndexFiles, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	messagePath, framePath := indexPaths(cacheDir)

	messageFile, err := os.OpenFile(messagePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	frameFile, err := os.OpenFile(framePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = messageFile.Close()
		return nil, err
	}

	idx := &IndexFiles{
		dir:         cacheDir,
		messagePath: messagePath,
		framePath:   framePath,
		messageFile: messageFile,
		frameFile:   frameFile,
	}
	if err := idx.truncateRagged(); err != nil {
		return nil, err
	}
	if err := idx.repair(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *IndexFiles) truncateRagged() error {
	mInfo, err := idx.messageFile.Stat()
	if err != nil {
		return err
	}
	mCount := mInfo.Size() / messageRecordSize
	if err := idx.messageFile.Truncate(mCount * messageRecordSize); err != nil {
		return err
	}
	idx.messageCount = mCount

	fInfo, err := idx.frameFile.Stat()
	if err != nil {
		return err
	}
	fCount := fInfo.Size() / frameRecordSize
	if err := idx.frameFile.Truncate(fCount * frameRecordSize); err != nil {
		return err
	}
	idx.frameCount = fCount
	return nil
}

func (idx *IndexFiles) readFrameRecord(i int64) (FrameRecord, error) {
	buf := make([]byte, frameRecordSize)
	if _, err := idx.frameFile.ReadAt(buf, i*frameRecordSize); err != nil {
		return FrameRecord{}, err
	}
	return DecodeFrameRecord(buf)
}

func (idx *IndexFiles) readMessageRecord(i int64) (MessageRecord, error) {
	buf := make([]byte, messageRecordSize)
	if _, err := idx.messageFile.ReadAt(buf, i*messageRecordSize); err != nil {
		return MessageRecord{}, err
	}
	return DecodeMessageRecord(buf)
}

// repair implements §4.F's validation: check the last frame record's
// absFrameIndex, check every message in its range matches, and truncate to
// the last known-good boundary on any mismatch.
func (idx *IndexFiles) repair() error {
	if idx.frameCount == 0 {
		if idx.messageCount > 0 {
			return idx.resetToEmpty()
		}
		return nil
	}
	last, err := idx.readFrameRecord(idx.frameCount - 1)
	if err != nil {
		return idx.resetToEmpty()
	}
	if int64(last.AbsFrameIndex) != idx.frameCount-1 {
		return idx.resetToEmpty()
	}
	if last.EndAbsMessage > uint64(idx.messageCount) {
		return idx.truncateToLastGoodFrame()
	}
	for i := last.FirstAbsMessage; i < last.EndAbsMessage; i++ {
		rec, err := idx.readMessageRecord(int64(i))
		if err != nil || rec.AbsMessageIndex != i || rec.AbsFrameIndex != last.AbsFrameIndex {
			return idx.truncateToLastGoodFrame()
		}
	}
	if uint64(idx.messageCount) > last.EndAbsMessage {
		if err := idx.messageFile.Truncate(int64(last.EndAbsMessage) * messageRecordSize); err != nil {
			return err
		}
		idx.messageCount = int64(last.EndAbsMessage)
	}
	return nil
}

func (idx *IndexFiles) resetToEmpty() error {
	if err := idx.messageFile.Truncate(0); err != nil {
		return err
	}
	if err := idx.frameFile.Truncate(0); err != nil {
		return err
	}
	idx.messageCount = 0
	idx.frameCount = 0
	return nil
}

// truncateToLastGoodFrame drops the last frame record (and every message
// record at or beyond its firstAbsMessage) and retries validation against
// the new last frame, repeating until a consistent prefix is found or the
// files are empty.
func (idx *IndexFiles) truncateToLastGoodFrame() error {
	for idx.frameCount > 0 {
		idx.frameCount--
		if err := idx.frameFile.Truncate(idx.frameCount * frameRecordSize); err != nil {
			return err
		}
		if idx.frameCount == 0 {
			return idx.resetToEmpty()
		}
		prev, err := idx.readFrameRecord(idx.frameCount - 1)
		if err != nil {
			continue
		}
		if int64(prev.AbsFrameIndex) != idx.frameCount-1 {
			continue
		}
		if prev.EndAbsMessage > uint64(idx.messageCount) {
			continue
		}
		consistent := true
		for i := prev.FirstAbsMessage; i < prev.EndAbsMessage; i++ {
			rec, err := idx.readMessageRecord(int64(i))
			if err != nil || rec.AbsMessageIndex != i || rec.AbsFrameIndex != prev.AbsFrameIndex {
				consistent = false
				break
			}
		}
		if !consistent {
			continue
		}
		if err := idx.messageFile.Truncate(int64(prev.EndAbsMessage) * messageRecordSize); err != nil {
			return err
		}
		idx.messageCount = int64(prev.EndAbsMessage)
		return nil
	}
	return idx.resetToEmpty()
}

// ResumeByteOffset returns the content-chunk byte offset the coordinator
// should resume scanning from: the last indexed message's endByte, or the
// content chunk's payload start when the index is empty.
func (idx *IndexFiles) ResumeByteOffset(contentStart int64) (int64, error) {
	if idx.messageCount == 0 {
		return contentStart, nil
	}
	rec, err := idx.readMessageRecord(idx.messageCount - 1)
	if err != nil {
		return 0, err
	}
	return int64(rec.EndByte), nil
}

// AppendFrame appends one frame record and one message record for every
// message consumed while building it (both the final messages and any
// demoted dummies, in chronological order), keeping message-index records
// contiguous across the whole file regardless of dummy reclassification.
func (idx *IndexFiles) AppendFrame(f *Frame) error {
	all := AllMessages(f)
	if len(all) == 0 {
		return nil
	}
	for _, m := range all {
		rec := MessageRecord{
			AbsMessageIndex: m.AbsIndex,
			AbsFrameIndex:   f.AbsIndex,
			StartByte:       m.StartByte,
			EndByte:         m.EndByte,
		}
		if _, err := idx.messageFile.WriteAt(rec.Encode(), int64(rec.AbsMessageIndex)*messageRecordSize); err != nil {
			return err
		}
	}
	idx.messageCount = int64(all[len(all)-1].AbsIndex) + 1

	frec := FrameRecord{
		AbsFrameIndex:   uint32(f.AbsIndex),
		ThreadName:      f.ThreadName,
		FirstAbsMessage: all[0].AbsIndex,
		EndAbsMessage:   all[len(all)-1].AbsIndex + 1,
	}
	if _, err := idx.frameFile.WriteAt(frec.Encode(), int64(f.AbsIndex)*frameRecordSize); err != nil {
		return err
	}
	idx.frameCount = int64(f.AbsIndex) + 1
	return nil
}

func (idx *IndexFiles) FrameCount() int64   { return idx.frameCount }
func (idx *IndexFiles) MessageCount() int64 { return idx.messageCount }

func (idx *IndexFiles) Frame(i int64) (FrameRecord, error)     { return idx.readFrameRecord(i) }
func (idx *IndexFiles) Message(i int64) (MessageRecord, error) { return idx.readMessageRecord(i) }

func (idx *IndexFiles) Close() error {
	err1 := idx.messageFile.Close()
	err2 := idx.frameFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Validate runs the full O(n) continuity check described in §4.F's
// "detailed verification" and §8's roundtrip/continuity property tests.
func (idx *IndexFiles) Validate() error {
	for i := int64(1); i < idx.messageCount; i++ {
		prev, err := idx.readMessageRecord(i - 1)
		if err != nil {
			return err
		}
		cur, err := idx.readMessageRecord(i)
		if err != nil {
			return err
		}
		if cur.StartByte != prev.EndByte {
			return fmt.Errorf("message record %d: startByte %d != previous endByte %d", i, cur.StartByte, prev.EndByte)
		}
	}
	for i := int64(1); i < idx.frameCount; i++ {
		prev, err := idx.readFrameRecord(i - 1)
		if err != nil {
			return err
		}
		cur, err := idx.readFrameRecord(i)
		if err != nil {
			return err
		}
		if cur.FirstAbsMessage != prev.EndAbsMessage {
			return fmt.Errorf("frame record %d: firstAbsMessage %d != previous endAbsMessage %d", i, cur.FirstAbsMessage, prev.EndAbsMessage)
		}
		if int64(cur.AbsFrameIndex) != i {
			return fmt.Errorf("frame record %d: absFrameIndex %d != %d", i, cur.AbsFrameIndex, i)
		}
	}
	return nil
}
