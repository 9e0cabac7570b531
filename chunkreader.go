package btlog

import "fmt"

// ContentChunk describes an uncompressed content chunk's queue header and
// the byte range, within the log, that its frames occupy.
type ContentChunk struct {
	QueueHeader  QueueHeader
	PayloadStart int64
	PayloadEnd   int64
}

// FrameOffsetEntry is one entry of an IndicesChunk's per-frame offset
// table: an 8-byte offset whose top bit flags "frame contains an image".
type FrameOffsetEntry struct {
	Offset   uint64
	HasImage bool
}

// ThreadStatsEntry is one thread's message-frequency/storage-size summary
// from an IndicesChunk.
type ThreadStatsEntry struct {
	ThreadName  string
	Frequency   uint32
	StorageSize uint64
}

// AnnotationIndexEntry is one entry of an IndicesChunk's per-thread
// annotation list.
type AnnotationIndexEntry struct {
	ThreadName       string
	AnnotationNumber uint32
	Frame            uint32
	Name             string
	Annotation       string
}

// IndicesChunk is the optional trailing fast-path index baked into the log
// itself, distinct from the core's own external index files.
type IndicesChunk struct {
	Version      uint32
	UsedSize     uint64
	FrameOffsets []FrameOffsetEntry
	ThreadStats  []ThreadStatsEntry
	Annotations  []AnnotationIndexEntry
}

// SupportedIndicesVersion is the only IndicesChunk version this reader
// accepts; any other value causes the indices to be treated as invalid and
// rebuilt from content.
const SupportedIndicesVersion = 2

// ParsedChunks holds the decoded top-level chunks of a log file, in the
// order the chunk reader encountered them.
type ParsedChunks struct {
	Settings   *SettingsChunk
	MessageIDs *MessageIDTable
	TypeInfo   *TypeInfo
	Content    []ContentChunk
	Indices    *IndicesChunk
	// TruncateAt is set to the absolute offset where a malformed
	// IndicesChunk or an unrecognized chunk magic was found, and parsing
	// stops there. The log file itself is not truncated: Open maps it
	// read-only.
	TruncateAt int64
	Truncated  bool
}

// ParseChunks drives the chunk reader: peek the next magic byte, dispatch,
// advance, repeat. An unknown magic aborts the scan; everything from that
// point on is trailing garbage.
func ParseChunks(s *Stream) (*ParsedChunks, error) {
	pc := &ParsedChunks{}
	for !s.AtEnd() {
		magicByte, err := s.Probe(1)
		if err != nil {
			break
		}
		magic := ChunkMagic(magicByte[0])
		switch magic {
		case ChunkSettings:
			if pc.Settings != nil {
				return nil, fmt.Errorf("duplicate settings chunk at byte %d", s.Tell())
			}
			_, _ = s.Read(1)
			sc, err := parseSettingsChunk(s)
			if err != nil {
				return nil, err
			}
			pc.Settings = sc
		case ChunkMessageIDs:
			if pc.MessageIDs != nil {
				return nil, fmt.Errorf("duplicate message id chunk at byte %d", s.Tell())
			}
			_, _ = s.Read(1)
			mt, err := parseMessageIDsChunk(s)
			if err != nil {
				return nil, err
			}
			pc.MessageIDs = mt
		case ChunkTypeInfo:
			if pc.TypeInfo != nil {
				return nil, fmt.Errorf("duplicate type info chunk at byte %d", s.Tell())
			}
			_, _ = s.Read(1)
			ti, err := parseTypeInfoChunk(s)
			if err != nil {
				return nil, err
			}
			pc.TypeInfo = ti
		case ChunkUncompressedContent:
			_, _ = s.Read(1)
			cc, err := parseContentChunkHeader(s)
			if err != nil {
				return nil, err
			}
			pc.Content = append(pc.Content, cc)
			if _, err := s.Seek(cc.PayloadEnd, SeekSet); err != nil {
				return nil, err
			}
		case ChunkCompressedContent:
			return nil, ErrUnsupportedChunk
		case ChunkIndices:
			_, _ = s.Read(1)
			ic, err := parseIndicesChunk(s)
			if err != nil {
				// An invalid IndicesChunk is not fatal: it is simply
				// discarded and rebuilt from content by the index engine.
				pc.Indices = nil
				pc.TruncateAt = s.Tell()
				pc.Truncated = true
				return pc, nil
			}
			pc.Indices = ic
		default:
			pc.TruncateAt = s.Tell()
			pc.Truncated = true
			return pc, nil
		}
	}
	return pc, nil
}

func parseSettingsChunk(s *Stream) (*SettingsChunk, error) {
	sc := &SettingsChunk{}
	var err error
	if sc.SettingVersion, err = s.ReadUint32(); err != nil {
		return nil, err
	}
	if sc.SettingVersion != SupportedSettingsVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedSettingsVersion, sc.SettingVersion, SupportedSettingsVersion)
	}
	if sc.HeadName, err = s.ReadString(); err != nil {
		return nil, err
	}
	if sc.BodyName, err = s.ReadString(); err != nil {
		return nil, err
	}
	if sc.PlayerNumber, err = s.ReadInt32(); err != nil {
		return nil, err
	}
	if sc.Location, err = s.ReadString(); err != nil {
		return nil, err
	}
	if sc.Scenario, err = s.ReadString(); err != nil {
		return nil, err
	}
	return sc, nil
}

func parseMessageIDsChunk(s *Stream) (*MessageIDTable, error) {
	count, err := s.ReadUint8()
	if err != nil {
		return nil, err
	}
	names := make([]string, count)
	for i := range names {
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return NewMessageIDTable(names), nil
}

const typeInfoUnificationFlag = 1 << 31

func parseTypeInfoChunk(s *Stream) (*TypeInfo, error) {
	rawPrimCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	needsUnification := rawPrimCount&typeInfoUnificationFlag != 0
	primCount := rawPrimCount &^ typeInfoUnificationFlag

	reg := NewTypeInfo(needsUnification)

	for i := uint32(0); i < primCount; i++ {
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		reg.AddPrimitive(name)
	}

	classCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < classCount; i++ {
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		attrCount, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		attrs := make([]attr, attrCount)
		for j := uint32(0); j < attrCount; j++ {
			attrName, err := s.ReadString()
			if err != nil {
				return nil, err
			}
			attrType, err := s.ReadString()
			if err != nil {
				return nil, err
			}
			attrs[j] = attr{Name: attrName, Type: attrType}
		}
		reg.AddClass(name, attrs)
	}

	enumCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < enumCount; i++ {
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		valueCount, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		values := make([]string, valueCount)
		for j := uint32(0); j < valueCount; j++ {
			v, err := s.ReadString()
			if err != nil {
				return nil, err
			}
			values[j] = v
		}
		reg.AddEnum(name, values)
	}

	return reg, nil
}

func parseContentChunkHeader(s *Stream) (ContentChunk, error) {
	qh, err := s.ReadQueueHeader()
	if err != nil {
		return ContentChunk{}, err
	}
	start := s.Tell()
	remaining := s.RemainingSize()
	used := int64(qh.UsedSize())
	payloadLen := used
	if qh.UsedSize() == 0 || used > remaining {
		payloadLen = remaining
	}
	return ContentChunk{
		QueueHeader:  qh,
		PayloadStart: start,
		PayloadEnd:   start + payloadLen,
	}, nil
}

const frameOffsetImageBit = uint64(1) << 63

func parseIndicesChunk(s *Stream) (*IndicesChunk, error) {
	version, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if version != SupportedIndicesVersion {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedIndicesVersion, version)
	}
	usedSize, err := s.ReadUint64()
	if err != nil {
		return nil, err
	}

	frameCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	offsets := make([]FrameOffsetEntry, frameCount)
	for i := range offsets {
		raw, err := s.ReadUint64()
		if err != nil {
			return nil, err
		}
		offsets[i] = FrameOffsetEntry{
			Offset:   raw &^ frameOffsetImageBit,
			HasImage: raw&frameOffsetImageBit != 0,
		}
	}

	threadCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	stats := make([]ThreadStatsEntry, threadCount)
	for i := range stats {
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		freq, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		size, err := s.ReadUint64()
		if err != nil {
			return nil, err
		}
		stats[i] = ThreadStatsEntry{ThreadName: name, Frequency: freq, StorageSize: size}
	}

	annCount, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	anns := make([]AnnotationIndexEntry, annCount)
	for i := range anns {
		thread, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		number, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		frame, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		name, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		text, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		anns[i] = AnnotationIndexEntry{
			ThreadName:       thread,
			AnnotationNumber: number,
			Frame:            frame,
			Name:             name,
			Annotation:       text,
		}
	}

	return &IndicesChunk{
		Version:      version,
		UsedSize:     usedSize,
		FrameOffsets: offsets,
		ThreadStats:  stats,
		Annotations:  anns,
	}, nil
}
