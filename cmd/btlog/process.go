package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/bhumanlog/btlog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// timeBaselineMs is the fixed baseline added to a parsed --start-time/
// --end-time so it lines up with in-log timestamps, per §6.
const timeBaselineMs = 100000

var knownThreads = map[string]bool{
	"Upper": true, "Lower": true, "Motion": true,
	"Audio": true, "Cognition": true, "Referee": true,
}

var timeArgPattern = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)$|^(\d+(?:\.\d+)?)$`)

// parseTimeArgMs parses "[HH:]MM:SS[.mmm]" or "SS[.mmm]" into milliseconds,
// then adds the fixed baseline.
func parseTimeArgMs(s string) (int64, error) {
	m := timeArgPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q, want [HH:]MM:SS[.mmm] or SS[.mmm]", s)
	}
	var hours, minutes float64
	var seconds float64
	if m[4] != "" {
		seconds, _ = strconv.ParseFloat(m[4], 64)
	} else {
		if m[1] != "" {
			hours, _ = strconv.ParseFloat(m[1], 64)
		}
		minutes, _ = strconv.ParseFloat(m[2], 64)
		seconds, _ = strconv.ParseFloat(m[3], 64)
	}
	totalMs := (hours*3600+minutes*60+seconds)*1000 + timeBaselineMs
	return int64(totalMs), nil
}

// progressBarReporter adapts *progressbar.ProgressBar (whose Add/Finish
// return an error) onto btlog.ProgressReporter's plain signature.
type progressBarReporter struct {
	bar *progressbar.ProgressBar
}

func (p progressBarReporter) Add(n int) { _ = p.bar.Add(n) }
func (p progressBarReporter) Finish()    { _ = p.bar.Finish() }

type processFlags struct {
	numWorkers int
	threads    []string
	startTime  string
	endTime    string
	startFrame int64
	endFrame   int64
	profile    bool
	monitor    bool
}

var processOpts processFlags

var processCmd = &cobra.Command{
	Use:   "process inputFile",
	Short: "Filters frames by thread/time/index range, bulk-decodes every message of the log, and writes a JSON dump per selected frame.",
	Run: func(_ *cobra.Command, args []string) {
		if len(args) != 1 {
			badArg("process requires exactly one inputFile argument")
		}
		if err := runProcess(args[0], processOpts); err != nil {
			die("process failed: %v", err)
		}
	},
}

func init() {
	processCmd.Flags().IntVar(&processOpts.numWorkers, "numworkers", runtime.NumCPU(), "worker pool size")
	processCmd.Flags().StringSliceVar(&processOpts.threads, "threads", nil, "subset of Upper,Lower,Motion,Audio,Cognition,Referee")
	processCmd.Flags().StringVar(&processOpts.startTime, "start-time", "", "[HH:]MM:SS[.mmm] or SS[.mmm]")
	processCmd.Flags().StringVar(&processOpts.endTime, "end-time", "", "[HH:]MM:SS[.mmm] or SS[.mmm]")
	processCmd.Flags().Int64Var(&processOpts.startFrame, "start-frame", -1, "absolute frame index")
	processCmd.Flags().Int64Var(&processOpts.endFrame, "end-frame", -1, "absolute frame index")
	processCmd.Flags().BoolVar(&processOpts.profile, "profile", false, "print wall-clock timing for each stage")
	processCmd.Flags().BoolVar(&processOpts.monitor, "monitor", false, "sample CPU/memory/IO usage for the run's duration and write a CSV report")
	rootCmd.AddCommand(processCmd)
}

func runProcess(inputFile string, opts processFlags) error {
	for _, t := range opts.threads {
		if !knownThreads[t] {
			badArg("unrecognized thread %q", t)
		}
	}
	var startMs, endMs int64 = -1, -1
	var err error
	if opts.startTime != "" {
		if startMs, err = parseTimeArgMs(opts.startTime); err != nil {
			badArg("%v", err)
		}
	}
	if opts.endTime != "" {
		if endMs, err = parseTimeArgMs(opts.endTime); err != nil {
			badArg("%v", err)
		}
	}

	stageStart := time.Now()
	log, err := btlog.Open(inputFile)
	if err != nil {
		return err
	}
	defer log.Close()

	if opts.monitor {
		mon, err := newResourceMonitor(log.OutputDir(), time.Second)
		if err != nil {
			return err
		}
		mon.Start()
		defer func() {
			if err := mon.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "resource monitor: %v\n", err)
			}
		}()
	}

	if err := log.Eval(btlog.WithNumWorkers(opts.numWorkers)); err != nil {
		return err
	}
	if opts.profile {
		fmt.Fprintf(os.Stderr, "eval: %s\n", time.Since(stageStart))
	}

	selected := selectFrames(log, opts, startMs, endMs)
	if len(selected) == 0 {
		fmt.Fprintln(os.Stderr, "no frames matched the given filters")
		return nil
	}

	var bar btlog.ProgressReporter = btlog.NoopProgress
	if !opts.profile {
		bar = progressBarReporter{progressbar.Default(int64(len(selected)))}
	}

	decodeStart := time.Now()
	failures, err := log.ParseBytes(true, bar)
	if err != nil {
		return err
	}
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "message %d (%s): %v\n", f.AbsIndex, f.ClassName, f.Err)
	}
	if opts.profile {
		fmt.Fprintf(os.Stderr, "decode: %s\n", time.Since(decodeStart))
	}

	outDir := filepath.Join(log.OutputDir(), stemOf(inputFile)+"_frames")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return writeFrameDumps(log, selected, outDir)
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// selectFrames returns the frames that pass the thread, frame-index and
// time filters; it decodes nothing itself. The bulk decode in runProcess is
// not limited to these frames: it covers every message of the log, and the
// selection only decides which frames are written out.
func selectFrames(log *btlog.Log, opts processFlags, startMs, endMs int64) []btlog.Frame {
	threadFilter := map[string]bool{}
	for _, t := range opts.threads {
		threadFilter[t] = true
	}
	var out []btlog.Frame
	for _, f := range log.Frames() {
		if len(threadFilter) > 0 && !threadFilter[f.ThreadName] {
			continue
		}
		if opts.startFrame >= 0 && int64(f.AbsIndex) < opts.startFrame {
			continue
		}
		if opts.endFrame >= 0 && int64(f.AbsIndex) > opts.endFrame {
			continue
		}
		if startMs >= 0 && f.Timestamp < float64(startMs) {
			continue
		}
		if endMs >= 0 && f.Timestamp > float64(endMs) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// writeFrameDumps implements §6's per-frame JSON artifact. Image PNG export
// is out of scope; image-bearing frames are dumped the same as any other.
func writeFrameDumps(log *btlog.Log, frames []btlog.Frame, outDir string) error {
	settings := log.Settings()
	var playerNumber int32
	if settings != nil {
		playerNumber = settings.PlayerNumber
	}
	stem := stemOf(log.CacheDir())
	for i := range frames {
		f := &frames[i]
		name := fmt.Sprintf("%s_R%d_T%d_%s_%d_Bf%d_Bt%d.json",
			stem, playerNumber, int64(f.Timestamp), f.ThreadName, f.ThreadIndex, f.StartByte, f.EndByte)
		if err := writeFrameJSON(log, f, filepath.Join(outDir, name)); err != nil {
			return err
		}
	}
	return nil
}

type frameDump struct {
	AbsIndex    uint64        `json:"absIndex"`
	ThreadName  string        `json:"threadName"`
	ThreadIndex uint64        `json:"threadIndex"`
	Timestamp   float64       `json:"timestamp"`
	StartByte   uint64        `json:"startByte"`
	EndByte     uint64        `json:"endByte"`
	HasImage    bool          `json:"hasImage"`
	Messages    []messageDump `json:"messages"`
}

type messageDump struct {
	AbsIndex  uint64      `json:"absIndex"`
	ClassName string      `json:"className"`
	Repr      interface{} `json:"repr,omitempty"`
}

func writeFrameJSON(_ *btlog.Log, f *btlog.Frame, path string) error {
	dump := frameDump{
		AbsIndex:    f.AbsIndex,
		ThreadName:  f.ThreadName,
		ThreadIndex: f.ThreadIndex,
		Timestamp:   f.Timestamp,
		StartByte:   f.StartByte,
		EndByte:     f.EndByte,
		HasImage:    f.HasImage,
	}
	for i := range f.Messages {
		m := &f.Messages[i]
		md := messageDump{AbsIndex: m.AbsIndex, ClassName: m.ClassName}
		if m.Repr != nil {
			md.Repr = valueToJSON(*m.Repr)
		}
		dump.Messages = append(dump.Messages, md)
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// valueToJSON converts a decoded Value into plain JSON-marshalable data.
func valueToJSON(v btlog.Value) interface{} {
	switch v.Kind {
	case btlog.KindScalar:
		return v.Scalar
	case btlog.KindSequence:
		out := make([]interface{}, len(v.Sequence))
		for i, e := range v.Sequence {
			out[i] = valueToJSON(e)
		}
		return out
	case btlog.KindEnum:
		return v.EnumName
	case btlog.KindStruct:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name] = valueToJSON(f.Value)
		}
		return out
	default:
		return nil
	}
}
