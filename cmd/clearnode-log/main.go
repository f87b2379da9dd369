// Command clearnode-log is a tool for viewing and analyzing ClearNode
// protocol trace files.
//
// Trace files are written by clearnode-cli with the -protocol-log flag, or
// by any client built with clearnode.WithProtocolLogger and a
// log.FileLogger.
//
// Usage:
//
//	clearnode-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSONL or CSV format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	clearnode-log view session.clog
//
//	# View only inbound wire messages
//	clearnode-log view --layer wire --direction in session.clog
//
//	# Follow one request
//	clearnode-log view --request-id 1700000000001 session.clog
//
//	# Export to CSV
//	clearnode-log export --format csv -o session.csv session.clog
//
//	# Keep only get_channels traffic of one connection
//	clearnode-log filter --conn-id 3f2a9c1e-5b7d-4e0f-9a61-2c8d4b0e7f13 --method get_channels -o channels.clog session.clog
//
//	# Show statistics
//	clearnode-log stats session.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/hookpay/clearnode-go/cmd/clearnode-log/commands"
)

const usage = `clearnode-log - ClearNode Protocol Trace Analyzer

Usage:
  clearnode-log <command> [flags] <file.clog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSONL or CSV format
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "clearnode-log <command> -help" for more information about a command.
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

// criteriaFlags registers the selection flags shared by view and filter.
func criteriaFlags(fs *flag.FlagSet) *commands.Criteria {
	c := &commands.Criteria{}
	fs.StringVar(&c.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&c.Method, "method", "", "Filter by RPC method")
	fs.StringVar(&c.RequestID, "request-id", "", "Filter by request ID")
	fs.StringVar(&c.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&c.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&c.Layer, "layer", "", "Filter by layer (transport, wire, client)")
	fs.StringVar(&c.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&c.Category, "category", "", "Filter by category (message, control, state, error)")
	return c
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `clearnode-log view - View trace file in human-readable format

Usage:
  clearnode-log view [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	criteria := criteriaFlags(fs)
	noColor := fs.Bool("no-color", false, "Disable colored output")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)
	if *noColor {
		color.NoColor = true
	}

	if err := commands.RunView(path, *criteria, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `clearnode-log export - Export trace file to JSONL or CSV format

Usage:
  clearnode-log export [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `clearnode-log filter - Filter trace file and write to new file

Usage:
  clearnode-log filter [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	criteria := criteriaFlags(fs)

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	count, err := commands.RunFilter(path, *output, *criteria)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `clearnode-log stats - Show statistics about the trace file

Usage:
  clearnode-log stats <file.clog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
