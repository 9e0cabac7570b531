package btlog

// EmptyTimerSlot marks an unmeasured stopwatch cell in a Timer's storage.
const EmptyTimerSlot = ^uint32(0)

// Timer is one thread's dense stopwatch-timing table. Rows are frames in
// thread order; columns are stopwatch slots (assigned on first sighting of
// an id) followed by a threadStartTime and frameNo trailer, per §4.I.
type Timer struct {
	names   map[uint32]string
	slots   []uint32
	storage [][]uint32
}

func newTimer() *Timer {
	return &Timer{names: map[uint32]string{}}
}

func (t *Timer) slotFor(id uint32) int {
	for i, s := range t.slots {
		if s == id {
			return i
		}
	}
	t.slots = append(t.slots, id)
	for i, row := range t.storage {
		t.storage[i] = append(row[:len(row)-2:len(row)-2], EmptyTimerSlot, row[len(row)-2], row[len(row)-1])
	}
	return len(t.slots) - 1
}

// recordFrame appends one frame's stopwatch sample row. Ids first seen in
// infos widen every existing row with EmptyTimerSlot before the new row is
// laid down, so every row always has the same width; names only updates
// the display-name table.
func (t *Timer) recordFrame(names map[uint32]string, infos map[uint32]uint32, threadStartTime, frameNo uint32) {
	for id, name := range names {
		t.names[id] = name
	}
	for id := range infos {
		t.slotFor(id)
	}
	row := make([]uint32, len(t.slots)+2)
	for i := range row {
		row[i] = EmptyTimerSlot
	}
	for id, v := range infos {
		row[t.slotFor(id)] = v
	}
	row[len(t.slots)] = threadStartTime
	row[len(t.slots)+1] = frameNo
	t.storage = append(t.storage, row)
}

// Rows returns the number of recorded frames.
func (t *Timer) Rows() int { return len(t.storage) }

// NameOf returns the display name of a stopwatch id, as of its last rename.
func (t *Timer) NameOf(id uint32) (string, bool) {
	n, ok := t.names[id]
	return n, ok
}

// Interpolate fills missing samples in every stopwatch column linearly
// between the two nearest valid neighbours, constant-extrapolating at the
// ends. The threadStartTime/frameNo trailer columns are never interpolated.
func (t *Timer) Interpolate() {
	for col := 0; col < len(t.slots); col++ {
		interpolateU32Column(t.storage, col)
	}
}

func interpolateU32Column(storage [][]uint32, col int) {
	n := len(storage)
	var idx []int
	for r := 0; r < n; r++ {
		if storage[r][col] != EmptyTimerSlot {
			idx = append(idx, r)
		}
	}
	if len(idx) == 0 {
		return
	}
	for r := 0; r < idx[0]; r++ {
		storage[r][col] = storage[idx[0]][col]
	}
	for r := idx[len(idx)-1] + 1; r < n; r++ {
		storage[r][col] = storage[idx[len(idx)-1]][col]
	}
	for k := 0; k+1 < len(idx); k++ {
		lo, hi := idx[k], idx[k+1]
		loV, hiV := int64(storage[lo][col]), int64(storage[hi][col])
		for r := lo + 1; r < hi; r++ {
			frac := float64(r-lo) / float64(hi-lo)
			storage[r][col] = uint32(loV + int64(frac*float64(hiV-loV)))
		}
	}
}

// ThreadView groups the frames belonging to one thread, in log order, and
// owns that thread's Timer.
type ThreadView struct {
	Name   string
	frames []uint64 // absolute frame indices, ascending
	timer  *Timer
}

func (tv *ThreadView) Frames() []uint64 { return tv.frames }
func (tv *ThreadView) Timer() *Timer     { return tv.timer }

// buildThreadViews groups log.frames by ThreadName into per-thread views in
// first-sighting order, and sets each Frame's ThreadIndex to its position
// within its thread's frame list.
func buildThreadViews(log *Log) {
	log.threads = make(map[string]*ThreadView)
	log.threadOrder = nil
	for i := range log.frames {
		f := &log.frames[i]
		tv := log.threads[f.ThreadName]
		if tv == nil {
			tv = &ThreadView{Name: f.ThreadName, timer: newTimer()}
			log.threads[f.ThreadName] = tv
			log.threadOrder = append(log.threadOrder, f.ThreadName)
		}
		f.ThreadIndex = uint64(len(tv.frames))
		tv.frames = append(tv.frames, f.AbsIndex)
	}
}

// threadIndexOf returns f's position within its thread's frame list.
func (log *Log) threadIndexOf(f *Frame) int {
	return int(f.ThreadIndex)
}

// recordStopwatch forwards a decoded Stopwatch representation to its
// thread's Timer, per §4.H step 3 / §4.I. The Stopwatch schema models its
// two maps (stopwatchId->name, stopwatchId->microseconds) as parallel
// sequences of {id, value} structs, since component C's dispatch has no
// dedicated map kind; this is the assumed wire shape, documented in
// DESIGN.md.
func (log *Log) recordStopwatch(v Value, absMsgIndex uint64) {
	rec, err := log.index.Message(int64(absMsgIndex))
	if err != nil {
		return
	}
	frec, err := log.index.Frame(int64(rec.AbsFrameIndex))
	if err != nil {
		return
	}
	tv := log.threads[frec.ThreadName]
	if tv == nil {
		return
	}
	names := stopwatchNameMap(v)
	infos := stopwatchInfoMap(v)
	threadStartTime := u32Field(v, "threadStartTime")
	frameNo := u32Field(v, "frameNo")
	tv.timer.recordFrame(names, infos, threadStartTime, frameNo)
}

func stopwatchNameMap(v Value) map[uint32]string {
	out := map[uint32]string{}
	names, ok := v.Get("names")
	if !ok {
		return out
	}
	for _, entry := range names.Sequence {
		id, ok1 := entry.Fields[0].Value.Scalar.(uint32)
		name, ok2 := entry.Fields[1].Value.Scalar.(string)
		if ok1 && ok2 {
			out[id] = name
		}
	}
	return out
}

func stopwatchInfoMap(v Value) map[uint32]uint32 {
	out := map[uint32]uint32{}
	infos, ok := v.Get("infos")
	if !ok {
		return out
	}
	for _, entry := range infos.Sequence {
		id, ok1 := entry.Fields[0].Value.Scalar.(uint32)
		ms, ok2 := entry.Fields[1].Value.Scalar.(uint32)
		if ok1 && ok2 {
			out[id] = ms
		}
	}
	return out
}

func u32Field(v Value, name string) uint32 {
	f, ok := v.Get(name)
	if !ok {
		return 0
	}
	u, _ := f.Scalar.(uint32)
	return u
}

// interpolateAllTimestamps resolves every frame's timestamp: a frame's own
// FrameInfo.time when present, else the nearest anchor found by
// resolveFrameTimestamps, else its threadIndex as a last resort when the
// thread has no anchor at all. The pass is not linear in the frame count:
// resolveFrameTimestamps searches outward from each unresolved frame, so a
// run of k frames without FrameInfo takes on the order of k*k steps.
func interpolateAllTimestamps(log *Log) {
	n := len(log.frames)
	raw := make([]float64, n)
	valid := make([]bool, n)
	for i := range log.frames {
		f := &log.frames[i]
		if t, ok := frameInfoTime(log, f); ok {
			raw[i] = t
			valid[i] = true
		}
	}

	for _, name := range log.threadOrder {
		tv := log.threads[name]
		vals := make([]float64, len(tv.frames))
		have := make([]bool, len(tv.frames))
		for pos, abs := range tv.frames {
			vals[pos] = raw[abs]
			have[pos] = valid[abs]
		}
		anyValid := false
		for _, ok := range have {
			if ok {
				anyValid = true
				break
			}
		}
		if !anyValid {
			for pos, abs := range tv.frames {
				log.frames[abs].Timestamp = float64(pos)
			}
			continue
		}
		resolveFrameTimestamps(vals, have)
		for pos, abs := range tv.frames {
			log.frames[abs].Timestamp = vals[pos]
		}
	}
}

// resolveFrameTimestamps fills every unresolved slot in vals (have[i] ==
// false) by a sign-alternating expanding search (+1, -1, +2, -2, ...) for
// the nearest slot that carries its own FrameInfo.time, then extrapolates
// from that single anchor along unit-distance steps: a frame d positions
// away gets the anchor's value shifted by d. Unlike a Timer column's
// two-point linear interpolation (interpolateU32Column), this never blends
// between two anchors — only the nearest one ever contributes.
func resolveFrameTimestamps(vals []float64, have []bool) {
	n := len(vals)
	for i := 0; i < n; i++ {
		if have[i] {
			continue
		}
		for d := 1; d < n; d++ {
			if i+d < n && have[i+d] {
				vals[i] = vals[i+d] - float64(d)
				break
			}
			if i-d >= 0 && have[i-d] {
				vals[i] = vals[i-d] + float64(d)
				break
			}
		}
	}
}

// frameInfoTime looks for a FrameInfo message in f and decodes its "time"
// field, without disturbing any memoized repr cache.
func frameInfoTime(log *Log, f *Frame) (float64, bool) {
	for i := range f.Messages {
		m := &f.Messages[i]
		if m.ClassName != "FrameInfo" {
			continue
		}
		var v Value
		if m.Repr != nil {
			v = *m.Repr
		} else {
			dv, err := DecodeMessage(m.ClassName, m.BodyBytes, log.typeInfo)
			if err != nil {
				return 0, false
			}
			v = dv
		}
		tf, ok := v.Get("time")
		if !ok {
			return 0, false
		}
		switch s := tf.Scalar.(type) {
		case float32:
			return float64(s), true
		case float64:
			return s, true
		case uint32:
			return float64(s), true
		case int32:
			return float64(s), true
		default:
			return 0, false
		}
	}
	return 0, false
}
