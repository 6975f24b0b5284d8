package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/domeseeing/internal/version"
)

// errUsage is returned when the command line cannot be dispatched; main
// prints the usage text instead of a log line.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, errUsage) {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("domeseeing: %v", err)
	}
}

// run dispatches a subcommand. It never exits the process so tests can
// drive it directly.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "reduce":
		return handleReduce(ctx, rest, stdout, stderr)
	case "batch":
		return handleBatch(ctx, rest, stdout, stderr)
	case "history":
		return handleHistory(ctx, rest, stdout, stderr)
	case "migrate":
		return handleMigrate(rest, stdout, stderr)
	case "config":
		return handleConfig(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `domeseeing - dome seeing estimator for gridded CFD temperature fields

Usage: domeseeing <command> [options]

Commands:
  reduce     Reduce one or more sample files from the input bucket
  batch      Reduce every object named in an S3-style event file
  history    List recorded reductions for a case
  migrate    Manage the run ledger schema (up, down, status, force N)
  config     Print the built-in defaults as JSON or YAML
  version    Show version information
  help       Show this help message

Common Flags (reduce, batch):
  -config <file>     Run configuration (.json, .yaml or .yml)
  -store <dir>       Local bucket root; each bucket is a sub-directory (default ".")
  -store-url <url>   Object store endpoint; overrides -store
  -db <path>         Run ledger path (default from config)
  -no-db             Do not record reductions
  -metrics <file>    Write Prometheus textfile metrics on exit
  -v                 Verbose diagnostics
  -trace             Per-stage trace output

Examples:
  # Reduce one file with the defaults
  domeseeing reduce -store ./buckets -key optvol_case12.csv.gz

  # Replay an upload notification
  domeseeing batch -config run.yaml -event event.json

  # Show the last 10 reductions of a case
  domeseeing history -case optvol_case12 -limit 10`)
}
