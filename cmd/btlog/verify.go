package cmd

import (
	"fmt"
	"os"

	"github.com/bhumanlog/btlog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func warn(format string, v ...any) { color.Yellow(format, v...) }

func fail(format string, v ...any) { color.Red(format, v...) }

func ok(format string, v ...any) { color.Green(format, v...) }

var verifyForceReEval bool

var verifyCmd = &cobra.Command{
	Use:   "verify inputFile",
	Short: "Repairs or rebuilds a log's external index files and reports any structural errors",
	Run: func(_ *cobra.Command, args []string) {
		if len(args) != 1 {
			badArg("verify requires exactly one inputFile argument")
		}
		if err := runVerify(args[0]); err != nil {
			die("verify failed: %v", err)
		}
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyForceReEval, "rebuild", false, "discard cached index/repr files and rebuild from scratch")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(inputFile string) error {
	log, err := btlog.Open(inputFile)
	if err != nil {
		fail("could not open %s: %v", inputFile, err)
		return err
	}
	defer log.Close()

	opts := []btlog.EvalOpt{btlog.ForceAccessorMode()}
	if verifyForceReEval {
		opts = append(opts, btlog.ForceReEval())
		warn("rebuilding index files from scratch")
	}
	if err := log.Eval(opts...); err != nil {
		fail("eval failed: %v", err)
		return err
	}

	fa, err := log.RootFrameAccessor()
	if err != nil {
		fail("no index available: %v", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "%d frames indexed\n", fa.Len())

	if err := verifyContinuity(log); err != nil {
		fail("index continuity check failed: %v", err)
		return err
	}
	ok("index files are internally consistent")
	return nil
}

// verifyContinuity checks frame-to-frame continuity (each frame's
// firstAbsMessage equals the previous frame's endAbsMessage) against the
// accessor-mode view, without needing instance mode's materialized frame
// tree. Message record byte contiguity is not checked here.
func verifyContinuity(log *btlog.Log) error {
	fa, err := log.RootFrameAccessor()
	if err != nil {
		return err
	}
	var prevEnd uint64
	first := true
	for fa.Next() {
		rec, err := fa.Record()
		if err != nil {
			return err
		}
		if !first && rec.FirstAbsMessage != prevEnd {
			return fmt.Errorf("frame %d: firstAbsMessage %d != previous frame's endAbsMessage %d",
				rec.AbsFrameIndex, rec.FirstAbsMessage, prevEnd)
		}
		first = false
		prevEnd = rec.EndAbsMessage
	}
	return nil
}
