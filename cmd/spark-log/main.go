// Command spark-log is a tool for viewing and analyzing event stream
// protocol capture files.
//
// Capture files are created by spark-events with the -protocol-log flag.
//
// Usage:
//
//	spark-log <command> [flags] <file.elog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	spark-log view session.elog
//
//	# View decoded records of one scope
//	spark-log view -layer wire -scope mine session.elog
//
//	# View records whose name starts with temp/
//	spark-log view -prefix temp/ session.elog
//
//	# Export to JSONL
//	spark-log export -format jsonl session.elog
//
//	# Filter by connection and save to new file
//	spark-log filter -conn-id abc12345 -o filtered.elog session.elog
//
//	# Show statistics
//	spark-log stats session.elog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/phuongtg/spark-cloud-go/cmd/spark-log/commands"
)

const usage = `spark-log - Event Stream Log Analyzer

Usage:
  spark-log <command> [flags] <file.elog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "spark-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// parsePath parses args and returns the single log file argument.
func parsePath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, synopsis, usageLine string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "spark-log %s - %s\n\nUsage:\n  %s\n\nFlags:\n", name, synopsis, usageLine)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format", "spark-log view [flags] <file.elog>")

	layer := fs.String("layer", "", "Filter by layer (transport, wire, router)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	scope := fs.String("scope", "", "Filter by scope (public, mine, device:<id>)")
	prefix := fs.String("prefix", "", "Show only records whose event name has this prefix")

	path := parsePath(fs, args)

	filter := commands.ViewFilter{Scope: *scope, EventPrefix: *prefix}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fatalf("%v", err)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fatalf("%v", err)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fatalf("%v", err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSON or CSV format", "spark-log export [flags] <file.elog>")

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path := parsePath(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fatalf("%v", err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file", "spark-log filter [flags] <file.elog>")

	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	deviceID := fs.String("device-id", "", "Filter by source device ID")
	scope := fs.String("scope", "", "Filter by scope (public, mine, device:<id>)")
	prefix := fs.String("prefix", "", "Keep only records whose event name has this prefix")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, router)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")

	path := parsePath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:      *output,
		ConnID:      *connID,
		DeviceID:    *deviceID,
		Scope:       *scope,
		EventPrefix: *prefix,
		TimeStart:   *timeStart,
		TimeEnd:     *timeEnd,
		Layer:       *layer,
		Direction:   *direction,
		Category:    *category,
	}

	count, err := commands.RunFilter(path, opts)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file", "spark-log stats <file.elog>")

	path := parsePath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}
