// Command nxs-log is a tool for viewing and analyzing NXS trace files.
//
// Trace files are written by nxsd when started with -trace.
//
// Usage:
//
//	nxs-log <command> [flags] <file.nlog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSON or CSV format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	nxs-log view nxsd.nlog
//
//	# View claim traffic on one node
//	nxs-log view -category claim -node dmar.0 nxsd.nlog
//
//	# Export to JSONL
//	nxs-log export -format jsonl nxsd.nlog
//
//	# Keep only the events of function 3
//	nxs-log filter -handle 3 -o fn3.nlog nxsd.nlog
//
//	# Show statistics
//	nxs-log stats nxsd.nlog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/cmd/nxs-log/commands"
)

const usage = `nxs-log - NXS Trace Analyzer

Usage:
  nxs-log <command> [flags] <file.nlog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSON or CSV format
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "nxs-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err := run(afero.NewOsFs(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(fs afero.Fs, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "view":
		return runView(fs, args, out)
	case "export":
		return runExport(fs, args, out)
	case "filter":
		return runFilter(fs, args, out)
	case "stats":
		return runStats(fs, args, out)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func newFlagSet(name, help string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), help)
		fs.PrintDefaults()
	}
	return fs
}

func pathArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(afs afero.Fs, args []string, out io.Writer) error {
	fs := newFlagSet("view", `nxs-log view - View trace file in human-readable format

Usage:
  nxs-log view [flags] <file.nlog>

Flags:
`)
	layer := fs.String("layer", "", "Filter by layer (transport, wire, service, graph, node)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, claim, state, irq, error)")
	node := fs.String("node", "", "Filter by node name, e.g. dmar.0")
	handle := fs.Int("handle", 0, "Filter by function handle")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := pathArg(fs)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{Node: *node}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}
	if *handle != 0 {
		filter.Handle = handle
	}

	return commands.RunView(afs, path, filter, out)
}

func runExport(afs afero.Fs, args []string, out io.Writer) error {
	fs := newFlagSet("export", `nxs-log export - Export trace file to JSON or CSV format

Usage:
  nxs-log export [flags] <file.nlog>

Flags:
`)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := pathArg(fs)
	if err != nil {
		return err
	}
	return commands.RunExport(afs, path, *format, *output, out)
}

func runFilter(afs afero.Fs, args []string, out io.Writer) error {
	fs := newFlagSet("filter", `nxs-log filter - Filter trace file and write to new file

Usage:
  nxs-log filter [flags] <file.nlog>

Flags:
`)
	output := fs.String("o", "", "Output file (required)")
	session := fs.String("session", "", "Filter by session ID")
	node := fs.String("node", "", "Filter by node name")
	handle := fs.Int("handle", 0, "Filter by function handle")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, service, graph, node)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, claim, state, irq, error)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := pathArg(fs)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}

	opts := commands.FilterOptions{
		Output:    *output,
		SessionID: *session,
		Node:      *node,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	}
	if *handle != 0 {
		opts.Handle = strconv.Itoa(*handle)
	}
	return commands.RunFilter(afs, path, opts, out)
}

func runStats(afs afero.Fs, args []string, out io.Writer) error {
	fs := newFlagSet("stats", `nxs-log stats - Show statistics about the trace file

Usage:
  nxs-log stats <file.nlog>

`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := pathArg(fs)
	if err != nil {
		return err
	}
	return commands.RunStats(afs, path, out)
}
