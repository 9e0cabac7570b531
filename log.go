package btlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Mode selects between the two representations §4.G describes.
type Mode int

const (
	// ModeInstance eagerly materializes every frame and message into memory.
	ModeInstance Mode = iota
	// ModeAccessor keeps only a cursor over the external index files, with
	// bytes read from the mmapped log on demand.
	ModeAccessor
)

const reprCacheCapacity = 200
const classNameCacheCapacity = 200

// Log is the root façade (component J): it owns the memory-mapped log
// file, the parsed chunk catalog, the two index-file handles, the
// per-thread views, and the decode caches.
type Log struct {
	path string
	file *os.File
	mm   mmap.MMap

	chunks *ParsedChunks
	index  *IndexFiles

	typeInfo *TypeInfo
	ids      *MessageIDTable

	mode   Mode
	frames []Frame

	threads     map[string]*ThreadView
	threadOrder []string

	reprCache      *lru.Cache[uint64, Value]
	classNameCache *lru.Cache[uint64, string]

	opts EvalOptions

	cacheDir string
}

// Open memory-maps path and parses its chunk catalog, but does not yet
// build frames, the index files, or any caches; call Eval for that.
func Open(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := NewStream(mm)
	chunks, err := ParseChunks(s)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}
	reprCache, _ := lru.New[uint64, Value](reprCacheCapacity)
	classNameCache, _ := lru.New[uint64, string](classNameCacheCapacity)

	log := &Log{
		path:           path,
		file:           f,
		mm:             mm,
		chunks:         chunks,
		typeInfo:       chunks.TypeInfo,
		ids:            chunks.MessageIDs,
		reprCache:      reprCache,
		classNameCache: classNameCache,
	}
	return log, nil
}

// Close unmaps the log file and closes the index-file handles.
func (log *Log) Close() error {
	var firstErr error
	if log.index != nil {
		if err := log.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := log.mm.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := log.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CacheDir is cache/<stem>, the directory holding the index files and, if
// caching to disk is enabled, per-message repr cache files.
func (log *Log) CacheDir() string {
	if log.cacheDir != "" {
		return log.cacheDir
	}
	stem := strings.TrimSuffix(filepath.Base(log.path), filepath.Ext(log.path))
	return filepath.Join(filepath.Dir(log.path), "cache", stem)
}

// OutputDir is the directory output artifacts (§6) are written to,
// sitting alongside the cache directory rather than inside it.
func (log *Log) OutputDir() string {
	stem := strings.TrimSuffix(filepath.Base(log.path), filepath.Ext(log.path))
	return filepath.Join(filepath.Dir(log.path), "output", stem)
}

// Eval builds the index files (repairing or rebuilding them as needed),
// picks instance vs. accessor mode, and (in instance mode) materializes
// every frame and message. Calling it again repeats the whole evaluation:
// it reopens the index files, appends records only for content not yet
// indexed, picks the mode afresh from the new options, and (in instance
// mode) rebuilds the frame list.
func (log *Log) Eval(opt ...EvalOpt) error {
	opts := defaultEvalOptions()
	for _, o := range opt {
		if err := o(&opts); err != nil {
			return err
		}
	}
	log.opts = opts
	if opts.CacheDir != "" {
		log.cacheDir = opts.CacheDir
	}

	if opts.ForceReEval {
		if err := os.RemoveAll(log.CacheDir()); err != nil {
			return err
		}
	}

	idx, err := OpenIndexFiles(log.CacheDir())
	if err != nil {
		return err
	}
	log.index = idx

	if err := log.rebuildIndex(); err != nil {
		return err
	}

	info, statErr := log.file.Stat()
	large := statErr == nil && info.Size() >= opts.LargeFileThreshold
	switch {
	case opts.ForceInstance:
		log.mode = ModeInstance
	case opts.ForceAccessor:
		log.mode = ModeAccessor
	case large:
		log.mode = ModeAccessor
	default:
		log.mode = ModeInstance
	}

	if log.mode == ModeInstance {
		if err := log.materialize(); err != nil {
			return err
		}
	}
	return nil
}

// rebuildIndex resumes appending frame/message index records from wherever
// the repaired index left off, per §4.F step 4.
func (log *Log) rebuildIndex() error {
	if len(log.chunks.Content) == 0 {
		return nil
	}
	content := log.chunks.Content[0]
	resume, err := log.index.ResumeByteOffset(content.PayloadStart)
	if err != nil {
		return err
	}
	if resume >= content.PayloadEnd {
		return nil
	}

	s := NewStream(log.mm)
	if _, err := s.Seek(resume, SeekSet); err != nil {
		return err
	}
	fs := NewFrameSplitter(s, content.PayloadEnd, log.ids)
	fs.absFrameIndex = uint64(log.index.FrameCount())
	fs.absMessageIndex = uint64(log.index.MessageCount())
	for !fs.Done() {
		f, err := fs.Next()
		if err != nil {
			var fse *FrameStructureError
			if errors.As(err, &fse) {
				break
			}
			return err
		}
		if f == nil {
			break
		}
		if err := log.index.AppendFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// materialize builds log.frames by replaying the content chunk fresh; used
// only in instance mode, where frame/message trees are kept in memory
// rather than re-read through the accessor on every access.
func (log *Log) materialize() error {
	if len(log.chunks.Content) == 0 {
		log.frames = nil
		buildThreadViews(log)
		return nil
	}
	content := log.chunks.Content[0]
	s := NewStream(log.mm)
	if _, err := s.Seek(content.PayloadStart, SeekSet); err != nil {
		return err
	}
	fs := NewFrameSplitter(s, content.PayloadEnd, log.ids)
	var frames []Frame
	for !fs.Done() {
		f, err := fs.Next()
		if err != nil {
			// A structural error (unmatched FrameBegin/FrameFinished, a
			// message id out of range, a payload crossing the usedSize
			// boundary) ends the frame list at the last complete frame
			// instead of failing Eval outright: every frame built so far
			// stays usable. The log file itself is not modified.
			var fse *FrameStructureError
			if errors.As(err, &fse) {
				break
			}
			return err
		}
		if f == nil {
			break
		}
		frames = append(frames, *f)
	}
	log.frames = frames
	buildThreadViews(log)
	interpolateAllTimestamps(log)
	return nil
}

// ParseBytes is the entry point for bulk decoding (component H): it
// dispatches every not-yet-decoded message of the in-memory frame list to
// the worker pool and returns any per-message decode failures. That list is
// only built in instance mode, so in accessor mode nothing is decoded.
func (log *Log) ParseBytes(cacheToDisk bool, progress ProgressReporter) ([]ParseFailure, error) {
	return log.ParseAll(context.Background(), log.opts.NumWorkers, cacheToDisk, progress)
}

// Frames returns the in-memory frame list; valid only in instance mode.
func (log *Log) Frames() []Frame { return log.frames }

// Messages returns every message across every frame, in absolute-index
// order; valid only in instance mode.
func (log *Log) Messages() []Message {
	var out []Message
	for i := range log.frames {
		out = append(out, log.frames[i].Messages...)
	}
	return out
}

// RootFrameAccessor returns a FrameAccessor over every frame in the log;
// valid in either mode (it just reads frameIndexFile.cache on demand).
func (log *Log) RootFrameAccessor() (*FrameAccessor, error) {
	if log.index == nil {
		return nil, ErrMissingIndexFile
	}
	return NewFrameAccessor(log, RangeIndexMap(0, log.index.FrameCount())), nil
}

// MessageIDMap returns the message id table parsed from the log's
// MessageIDsChunk.
func (log *Log) MessageIDMap() *MessageIDTable { return log.ids }

// TypeInfo returns the type registry parsed from the log's TypeInfoChunk.
func (log *Log) TypeInfo() *TypeInfo { return log.typeInfo }

// Settings returns the log's SettingsChunk.
func (log *Log) Settings() *SettingsChunk { return log.chunks.Settings }

// Chunk looks up a top-level parsed chunk by key: an int selects
// log.chunks.Content by position; a ChunkMagic, or one of the strings
// "settings", "messageIds", "typeInfo" and "indices", selects
// Settings/MessageIDs/TypeInfo/Indices.
func (log *Log) Chunk(key interface{}) (interface{}, error) {
	switch k := key.(type) {
	case int:
		if k < 0 || k >= len(log.chunks.Content) {
			return nil, fmt.Errorf("content chunk index %d out of range", k)
		}
		return log.chunks.Content[k], nil
	case ChunkMagic:
		return log.chunkByMagic(k)
	case string:
		switch k {
		case "settings":
			return log.chunks.Settings, nil
		case "messageIds":
			return log.chunks.MessageIDs, nil
		case "typeInfo":
			return log.chunks.TypeInfo, nil
		case "indices":
			return log.chunks.Indices, nil
		default:
			return nil, fmt.Errorf("unrecognized chunk key %q", k)
		}
	default:
		return nil, fmt.Errorf("unrecognized chunk key type %T", key)
	}
}

func (log *Log) chunkByMagic(m ChunkMagic) (interface{}, error) {
	switch m {
	case ChunkSettings:
		return log.chunks.Settings, nil
	case ChunkMessageIDs:
		return log.chunks.MessageIDs, nil
	case ChunkTypeInfo:
		return log.chunks.TypeInfo, nil
	case ChunkIndices:
		return log.chunks.Indices, nil
	default:
		return nil, fmt.Errorf("chunk magic %s has no singleton accessor", m)
	}
}

// bytesRange returns the log bytes in [start, end), backed directly by the
// mmap with no copy.
func (log *Log) bytesRange(start, end uint64) ([]byte, error) {
	if end > uint64(len(log.mm)) || start > end {
		return nil, fmt.Errorf("byte range [%d,%d) out of bounds (file size %d)", start, end, len(log.mm))
	}
	return log.mm[start:end], nil
}

// classNameAt resolves the class name of the message at absolute index abs
// via its message-id header byte, with an LRU cache.
func (log *Log) classNameAt(abs uint64) (string, error) {
	if cn, ok := log.classNameCache.Get(abs); ok {
		return cn, nil
	}
	rec, err := log.index.Message(int64(abs))
	if err != nil {
		return "", err
	}
	header, err := log.bytesRange(rec.StartByte, rec.StartByte+4)
	if err != nil {
		return "", err
	}
	cn, err := log.ids.ClassName(header[0])
	if err != nil {
		return "", err
	}
	log.classNameCache.Add(abs, cn)
	return cn, nil
}

// reprAt decodes (or returns the cached decode of) the message at absolute
// index abs, consulting the in-memory LRU cache and then the on-disk repr
// cache before decoding from raw bytes.
func (log *Log) reprAt(abs uint64) (Value, error) {
	if v, ok := log.reprCache.Get(abs); ok {
		return v, nil
	}
	if v, ok := log.loadCachedRepr(abs); ok {
		log.reprCache.Add(abs, v)
		return v, nil
	}
	rec, err := log.index.Message(int64(abs))
	if err != nil {
		return Value{}, err
	}
	cn, err := log.classNameAt(abs)
	if err != nil {
		return Value{}, err
	}
	body, err := log.bytesRange(rec.StartByte+4, rec.EndByte)
	if err != nil {
		return Value{}, err
	}
	v, err := DecodeMessage(cn, body, log.typeInfo)
	if err != nil {
		return Value{}, &DecodeError{AbsIndex: abs, ClassName: cn, Err: err}
	}
	log.reprCache.Add(abs, v)
	return v, nil
}

// reprCachePath is the Message_<absIndex>_repr.pkl path for abs, per §4.J's
// cache directory layout (the ".pkl" suffix is kept for layout
// compatibility; its contents are this reader's own CRC32-checked binary
// encoding, not a language-specific pickle, per §9's design note).
func (log *Log) reprCachePath(abs uint64) string {
	return filepath.Join(log.CacheDir(), fmt.Sprintf("Message_%d_repr.pkl", abs))
}

func (log *Log) loadCachedRepr(abs uint64) (Value, bool) {
	data, err := os.ReadFile(log.reprCachePath(abs))
	if err != nil {
		return Value{}, false
	}
	v, err := DecodeRepr(data)
	if err != nil {
		return Value{}, false
	}
	return v, true
}

func (log *Log) writeCachedRepr(abs uint64, data []byte) error {
	if err := os.MkdirAll(log.CacheDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(log.reprCachePath(abs), data, 0o644)
}
