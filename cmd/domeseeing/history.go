package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/domeseeing/internal/db"
	"github.com/banshee-data/domeseeing/internal/storage/sqlite"
)

func handleHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c Config
	fs.StringVar(&c.ConfigPath, "config", "", "Run configuration file (for db_path)")
	fs.StringVar(&c.DBPath, "db", "", "Run ledger path (default from config)")
	caseKey := fs.String("case", "", "Case key, the sample file name without extensions (required)")
	limit := fs.Int("limit", 20, "Maximum rows, newest first; 0 lists all")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caseKey == "" {
		return errors.New("history: -case is required")
	}

	cfg, err := c.loadRunConfig()
	if err != nil {
		return err
	}
	database, err := db.NewDB(c.ledgerPath(cfg))
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer database.Close()

	rows, err := sqlite.NewReductionStore(database.DB).ListByCase(ctx, *caseKey, *limit)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonRows(rows))
	}
	printHistory(stdout, rows)
	return nil
}

// jsonRows replaces non-finite statistics, which encoding/json rejects.
func jsonRows(rows []*sqlite.Reduction) []*sqlite.Reduction {
	out := make([]*sqlite.Reduction, len(rows))
	for i, r := range rows {
		c := *r
		for _, v := range []*float64{&c.OPDRMS, &c.OPDPV, &c.OPDMin, &c.OPDMax} {
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				*v = 0
			}
		}
		out[i] = &c
	}
	return out
}

func printHistory(w io.Writer, rows []*sqlite.Reduction) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No reductions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tSTATUS\tλ (µm)\tPSSn\tRMS (nm)\tRAYS\tOUTPUT")
	for _, r := range rows {
		pssn := "-"
		if r.PSSn != nil {
			pssn = fmt.Sprintf("%.5f", *r.PSSn)
		}
		rms := "-"
		if !math.IsNaN(r.OPDRMS) {
			rms = fmt.Sprintf("%.2f", r.OPDRMS*nm)
		}
		output := r.OutputKey
		if r.Status == sqlite.StatusFailed {
			output = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\t%s\t%d\t%s\n",
			time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339), r.ReductionID, r.Status,
			r.WavelengthMicrons, pssn, rms, r.ValidRays, output)
	}
	tw.Flush()
}
