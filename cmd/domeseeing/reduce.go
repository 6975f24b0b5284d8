package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/pipeline"
)

func handleReduce(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("reduce", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c Config
	c.register(fs)
	key := fs.String("key", "", "Sample file key in the input bucket (further keys may follow as arguments)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	keys := fs.Args()
	if *key != "" {
		keys = append([]string{*key}, keys...)
	}
	if len(keys) == 0 {
		return errors.New("reduce: -key is required")
	}

	return execute(ctx, &c, stdout, stderr, func(r *pipeline.Runner) ([]*pipeline.Outcome, error) {
		var (
			outcomes []*pipeline.Outcome
			errs     []error
		)
		for _, k := range keys {
			out, err := r.Reduce(ctx, k)
			outcomes = append(outcomes, out)
			if err != nil {
				errs = append(errs, err)
			}
		}
		return outcomes, errors.Join(errs...)
	})
}

func handleBatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c Config
	c.register(fs)
	eventPath := fs.String("event", "", "S3-style event JSON file, or - for stdin (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eventPath == "" {
		return errors.New("batch: -event is required")
	}

	data, err := readEvent(*eventPath)
	if err != nil {
		return err
	}
	ev, err := pipeline.ParseEvent(data)
	if err != nil {
		return err
	}

	return execute(ctx, &c, stdout, stderr, func(r *pipeline.Runner) ([]*pipeline.Outcome, error) {
		defer monitoring.StageTimer("batch", time.Now())
		return r.ReduceEvent(ctx, ev)
	})
}

func readEvent(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	return data, nil
}

// execute wires a Runner from the flags, runs fn, prints one line per
// outcome and writes the metrics textfile even when reductions failed.
func execute(ctx context.Context, c *Config, stdout, stderr io.Writer, fn func(*pipeline.Runner) ([]*pipeline.Outcome, error)) error {
	c.setupLogging(stderr)

	runner, closeLedger, err := c.newRunner()
	if err != nil {
		return err
	}
	defer closeLedger()

	outcomes, runErr := fn(runner)
	printOutcomes(stdout, outcomes)

	if err := monitoring.WriteTextfile(c.metricsPath(runner.Config())); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

const nm = 1e9

func printOutcomes(w io.Writer, outcomes []*pipeline.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tPSSn\tRMS (nm)\tPV (nm)\tRAYS\tELAPSED\tOUTPUT")
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		// Outputs are written last, so a run without them failed.
		if out.Result == nil || len(out.Written) == 0 {
			fmt.Fprintf(tw, "%s\tfailed\t-\t-\t-\t-\t%s\t-\n", out.Key, out.Elapsed.Round(time.Millisecond))
			continue
		}
		pssn := "-"
		if out.Result.PSSn != nil {
			pssn = fmt.Sprintf("%.5f", *out.Result.PSSn)
		}
		s := out.Result.Stats
		output := strings.Join(out.Written, ",")
		fmt.Fprintf(tw, "%s\tok\t%s\t%.2f\t%.2f\t%d\t%s\t%s\n",
			out.Key, pssn, s.RMS*nm, s.PV*nm, s.Count, out.Elapsed.Round(time.Millisecond), output)
	}
	tw.Flush()
}
