package btlog

import (
	"container/heap"
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ProgressReporter is the narrow interface the bulk parser reports
// progress through. The core never imports a progress-bar library
// directly; the CLI supplies a schollz/progressbar/v3-backed
// implementation, everyone else gets NoopProgress.
type ProgressReporter interface {
	Add(n int)
	Finish()
}

type noopProgress struct{}

func (noopProgress) Add(int) {}
func (noopProgress) Finish() {}

// NoopProgress is the default ProgressReporter: it does nothing.
var NoopProgress ProgressReporter = noopProgress{}

// parseJob is one unit of work dispatched to the worker pool.
type parseJob struct {
	msg *Message
}

type parseResult struct {
	absIndex uint64
	msg      *Message
	value    Value
	err      error
}

// resultHeap reassembles out-of-order worker results back into ascending
// absolute-index order, adapted from the teacher's rangeIndexHeap (which
// merged ChunkIndex/MessageIndexEntry ranges by log time) onto this
// reader's need to merge worker results by absolute message index instead.
type resultHeap struct {
	results []parseResult
}

func (h resultHeap) Len() int            { return len(h.results) }
func (h resultHeap) Less(i, j int) bool  { return h.results[i].absIndex < h.results[j].absIndex }
func (h resultHeap) Swap(i, j int)       { h.results[i], h.results[j] = h.results[j], h.results[i] }
func (h *resultHeap) Push(x interface{}) { h.results = append(h.results, x.(parseResult)) }
func (h *resultHeap) Pop() interface{} {
	old := h.results
	n := len(old)
	x := old[n-1]
	h.results = old[:n-1]
	return x
}

// ParseFailure records one message that failed to decode during a bulk
// parse; the bulk parse continues past it per §7's propagation policy.
type ParseFailure struct {
	AbsIndex  uint64
	ClassName string
	Err       error
}

// ParseAll implements component H: partitions messages into already-parsed,
// cached-on-disk, and unparsed sets; dispatches the unparsed set to a
// worker pool; applies decoded results back onto their messages in input
// order; optionally schedules each result for an on-disk cache write.
func (log *Log) ParseAll(ctx context.Context, numWorkers int, cacheToDisk bool, progress ProgressReporter) ([]ParseFailure, error) {
	if progress == nil {
		progress = NoopProgress
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	var jobs []parseJob
	for fi := range log.frames {
		f := &log.frames[fi]
		for mi := range f.Messages {
			m := &f.Messages[mi]
			if m.Repr != nil {
				continue
			}
			if cacheToDisk {
				if v, ok := log.loadCachedRepr(m.AbsIndex); ok {
					m.Repr = &v
					log.forwardStopwatch(m)
					continue
				}
			}
			jobs = append(jobs, parseJob{msg: m})
		}
	}
	if len(jobs) == 0 {
		progress.Finish()
		return nil, nil
	}

	jobCh := make(chan parseJob)
	resultsCh := make(chan parseResult, numWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			enc := newReprEncoder()
			for j := range jobCh {
				res := parseResult{absIndex: j.msg.AbsIndex, msg: j.msg}
				body := j.msg.BodyBytes
				v, derr := DecodeMessage(j.msg.ClassName, body, log.typeInfo)
				if derr != nil {
					res.err = &DecodeError{AbsIndex: j.msg.AbsIndex, ClassName: j.msg.ClassName, Err: derr}
				} else {
					res.value = v
					if cacheToDisk {
						_ = log.writeCachedRepr(j.msg.AbsIndex, enc.Encode(v))
					}
				}
				select {
				case resultsCh <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	var failures []ParseFailure
	done := make(chan struct{})
	go func() {
		defer close(done)
		h := &resultHeap{}
		heap.Init(h)
		nextJob := 0
		for res := range resultsCh {
			heap.Push(h, res)
			progress.Add(1)
			for h.Len() > 0 && nextJob < len(jobs) && h.results[0].absIndex == jobs[nextJob].msg.AbsIndex {
				top := heap.Pop(h).(parseResult)
				if top.err != nil {
					failures = append(failures, ParseFailure{AbsIndex: top.absIndex, ClassName: top.msg.ClassName, Err: top.err})
				} else {
					v := top.value
					top.msg.Repr = &v
					log.forwardStopwatch(top.msg)
				}
				nextJob++
			}
		}
	}()

	err := g.Wait()
	close(resultsCh)
	<-done
	progress.Finish()
	if err != nil {
		return failures, err
	}
	return failures, nil
}

// forwardStopwatch implements §4.H step 3: a decoded Stopwatch
// representation is forwarded to its thread's Timer for aggregation.
func (log *Log) forwardStopwatch(m *Message) {
	if m.ClassName != "Stopwatch" || m.Repr == nil {
		return
	}
	log.recordStopwatch(*m.Repr, m.AbsIndex)
}
