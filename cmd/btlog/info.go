package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bhumanlog/btlog"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func addRow(rows [][]string, field string, value string, args ...any) [][]string {
	return append(rows, []string{field, fmt.Sprintf(value, args...)})
}

// printSummaryRows renders field/value pairs as a borderless two-column
// table, matching the teacher's expanded-display convention.
func printSummaryRows(w io.Writer, rows [][]string) error {
	buf := &bytes.Buffer{}
	tw := tablewriter.NewWriter(buf)
	tw.SetBorder(false)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetColumnSeparator("")
	tw.AppendBulk(rows)
	tw.Render()
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		fmt.Fprintln(w, strings.TrimLeft(scanner.Text(), " "))
	}
	return scanner.Err()
}

func printLogInfo(w io.Writer, log *btlog.Log) error {
	settings := log.Settings()
	header := [][]string{}
	if settings != nil {
		header = addRow(header, "head:", "%s", settings.HeadName)
		header = addRow(header, "body:", "%s", settings.BodyName)
		header = addRow(header, "player:", "%d", settings.PlayerNumber)
		header = addRow(header, "location:", "%s", settings.Location)
		header = addRow(header, "scenario:", "%s", settings.Scenario)
	}
	header = addRow(header, "frames:", "%d", len(log.Frames()))
	header = addRow(header, "messages:", "%d", len(log.Messages()))
	if err := printSummaryRows(w, header); err != nil {
		return err
	}

	threadCounts := map[string]int{}
	threadMsgs := map[string]int{}
	frames := log.Frames()
	for i := range frames {
		f := &frames[i]
		threadCounts[f.ThreadName]++
		threadMsgs[f.ThreadName] += len(f.Messages)
	}
	var names []string
	for name := range threadCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "threads:\n")
	rows := [][]string{}
	for _, name := range names {
		rows = append(rows, []string{
			fmt.Sprintf("\t%s", name),
			fmt.Sprintf("%d frames, %d messages", threadCounts[name], threadMsgs[name]),
		})
	}
	return printSummaryRows(w, rows)
}

var infoCmd = &cobra.Command{
	Use:   "info inputFile",
	Short: "Report per-thread frame/message statistics about a log file",
	Run: func(_ *cobra.Command, args []string) {
		if len(args) != 1 {
			badArg("info requires exactly one inputFile argument")
		}
		log, err := btlog.Open(args[0])
		if err != nil {
			die("failed to open %s: %v", args[0], err)
		}
		defer log.Close()
		if err := log.Eval(); err != nil {
			die("failed to eval %s: %v", args[0], err)
		}
		if err := printLogInfo(os.Stdout, log); err != nil {
			die("failed to print info: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
