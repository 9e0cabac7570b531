package btlog

import "fmt"

// IndexMap is an Accessor's addressing scheme: either a contiguous range
// of absolute indices or an explicit sorted list (used for filtered views
// like "every Annotation message in this frame" or "every frame on thread
// X"). A non-nil List always takes precedence over Range.
type IndexMap struct {
	Range [2]int64
	List  []uint64
}

func RangeIndexMap(start, end int64) IndexMap { return IndexMap{Range: [2]int64{start, end}} }
func ListIndexMap(list []uint64) IndexMap     { return IndexMap{List: list} }

func (m IndexMap) Len() int {
	if m.List != nil {
		return len(m.List)
	}
	if m.Range[1] < m.Range[0] {
		return 0
	}
	return int(m.Range[1] - m.Range[0])
}

func (m IndexMap) At(i int) uint64 {
	if m.List != nil {
		return m.List[i]
	}
	return uint64(m.Range[0] + int64(i))
}

// FrameAccessor is a lightweight cursor over frameIndexFile.cache: it never
// mutates on-disk state and never materializes more than one frame record
// at a time. The zero cursor position is "before the first element";
// Next() must be called before the first Record().
type FrameAccessor struct {
	log      *Log
	indexMap IndexMap
	cursor   int
	frozen   bool
}

// NewFrameAccessor builds an accessor over m.
func NewFrameAccessor(log *Log, m IndexMap) *FrameAccessor {
	return &FrameAccessor{log: log, indexMap: m, cursor: -1}
}

// Copy produces an independent cursor over the same index map, positioned
// at the same element.
func (a *FrameAccessor) Copy() *FrameAccessor {
	cp := *a
	return &cp
}

// Freeze prevents further cursor movement, so a caller holding a reference
// to this accessor can rely on it staying put.
func (a *FrameAccessor) Freeze() { a.frozen = true }

func (a *FrameAccessor) Len() int { return a.indexMap.Len() }

// Next advances the cursor and reports whether a record is available.
func (a *FrameAccessor) Next() bool {
	if a.frozen {
		panic("btlog: Next called on a frozen FrameAccessor")
	}
	if a.cursor+1 >= a.indexMap.Len() {
		a.cursor = a.indexMap.Len()
		return false
	}
	a.cursor++
	return true
}

// AbsIndex returns the absolute frame index at the current cursor
// position; ok is false before the first Next() or past the last record.
func (a *FrameAccessor) AbsIndex() (idx uint64, ok bool) {
	if a.cursor < 0 || a.cursor >= a.indexMap.Len() {
		return 0, false
	}
	return a.indexMap.At(a.cursor), true
}

// Record reads the current frame's 32-byte record from frameIndexFile.cache.
func (a *FrameAccessor) Record() (FrameRecord, error) {
	abs, ok := a.AbsIndex()
	if !ok {
		return FrameRecord{}, fmt.Errorf("accessor cursor out of range")
	}
	return a.log.index.Frame(int64(abs))
}

// Messages returns a MessageAccessor over this frame's whole message-record
// range [firstAbsMessage, endAbsMessage): any demoted dummy messages come
// first, followed by the frame's final message list.
func (a *FrameAccessor) Messages() (*MessageAccessor, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	return NewMessageAccessor(a.log, RangeIndexMap(int64(rec.FirstAbsMessage), int64(rec.EndAbsMessage))), nil
}

// ByClassName linearly scans the frame's messages comparing className.
// "Annotation" is rejected: a frame may hold several, so callers must use
// Annotations instead.
func (a *FrameAccessor) ByClassName(name string) (*MessageAccessor, error) {
	if name == "Annotation" {
		return nil, ErrAnnotationKey
	}
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	for i := rec.FirstAbsMessage; i < rec.EndAbsMessage; i++ {
		cn, err := a.log.classNameAt(i)
		if err != nil {
			return nil, err
		}
		if cn == name {
			return NewMessageAccessor(a.log, ListIndexMap([]uint64{i})), nil
		}
	}
	return nil, fmt.Errorf("no message of class %q in frame", name)
}

// Annotations returns a MessageAccessor over every Annotation message in
// this frame.
func (a *FrameAccessor) Annotations() (*MessageAccessor, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	var list []uint64
	for i := rec.FirstAbsMessage; i < rec.EndAbsMessage; i++ {
		cn, err := a.log.classNameAt(i)
		if err != nil {
			return nil, err
		}
		if cn == "Annotation" {
			list = append(list, i)
		}
	}
	return NewMessageAccessor(a.log, ListIndexMap(list)), nil
}

// MessageAccessor is a lightweight cursor over messageIndexFile.cache,
// reading header/body bytes from the mmapped log on demand.
type MessageAccessor struct {
	log      *Log
	indexMap IndexMap
	cursor   int
	frozen   bool
}

func NewMessageAccessor(log *Log, m IndexMap) *MessageAccessor {
	return &MessageAccessor{log: log, indexMap: m, cursor: -1}
}

func (a *MessageAccessor) Copy() *MessageAccessor {
	cp := *a
	return &cp
}

func (a *MessageAccessor) Freeze() { a.frozen = true }

func (a *MessageAccessor) Len() int { return a.indexMap.Len() }

func (a *MessageAccessor) Next() bool {
	if a.frozen {
		panic("btlog: Next called on a frozen MessageAccessor")
	}
	if a.cursor+1 >= a.indexMap.Len() {
		a.cursor = a.indexMap.Len()
		return false
	}
	a.cursor++
	return true
}

func (a *MessageAccessor) AbsIndex() (idx uint64, ok bool) {
	if a.cursor < 0 || a.cursor >= a.indexMap.Len() {
		return 0, false
	}
	return a.indexMap.At(a.cursor), true
}

func (a *MessageAccessor) Record() (MessageRecord, error) {
	abs, ok := a.AbsIndex()
	if !ok {
		return MessageRecord{}, fmt.Errorf("accessor cursor out of range")
	}
	return a.log.index.Message(int64(abs))
}

func (a *MessageAccessor) HeaderBytes() ([]byte, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	return a.log.bytesRange(rec.StartByte, rec.StartByte+4)
}

func (a *MessageAccessor) BodyBytes() ([]byte, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	return a.log.bytesRange(rec.StartByte+4, rec.EndByte)
}

func (a *MessageAccessor) ClassName() (string, error) {
	abs, ok := a.AbsIndex()
	if !ok {
		return "", fmt.Errorf("accessor cursor out of range")
	}
	return a.log.classNameAt(abs)
}

// Repr decodes (or returns the cached decode of) this message's
// representation.
func (a *MessageAccessor) Repr() (Value, error) {
	abs, ok := a.AbsIndex()
	if !ok {
		return Value{}, fmt.Errorf("accessor cursor out of range")
	}
	return a.log.reprAt(abs)
}
