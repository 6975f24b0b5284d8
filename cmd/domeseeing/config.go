package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/domeseeing/internal/config"
)

// handleConfig prints a complete config file, the built-in defaults
// overlaid with -config when given.
func handleConfig(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c Config
	fs.StringVar(&c.ConfigPath, "config", "", "Configuration to resolve against the defaults")
	format := fs.String("format", "json", "Output format: json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultRunConfig()
	if c.ConfigPath != "" {
		loaded, err := c.loadRunConfig()
		if err != nil {
			return err
		}
		cfg = resolved(loaded)
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", *format)
	}
}

// resolved fills every unset field of cfg with its effective value.
func resolved(cfg *config.RunConfig) *config.RunConfig {
	layout := cfg.GetCSVLayout()
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	b := func(v bool) *bool { return &v }
	s := func(v string) *string { return &v }
	out := *cfg
	out.WavelengthMicrons = f(cfg.GetWavelengthMicrons())
	out.NPx = i(cfg.GetNPx())
	out.NH = i(cfg.GetNH())
	out.DomainWidth = f(cfg.GetDomainWidth())
	out.VertexOffset = f(cfg.GetVertexOffset())
	out.OutOfDomain = s(cfg.GetOutOfDomain())
	out.Gridding = s(cfg.GetGridding())
	out.ShepardRadius = f(cfg.GetShepardRadius())
	out.LatticeCache = b(cfg.GetLatticeCache())
	out.Steps = i(cfg.GetSteps())
	out.ChunkSize = i(cfg.GetChunkSize())
	if out.Workers == nil {
		out.Workers = i(0) // NumCPU at run time
	}
	out.ComputePSSn = b(cfg.GetComputePSSn())
	out.Autocorrelation = s(cfg.GetAutocorrelation())
	if out.CSVLayout == nil {
		out.CSVLayout = s(config.LayoutOptVol)
	}
	out.TemperatureColumn = i(layout.TemperatureColumn)
	out.PositionColumn = i(layout.PositionColumn)
	out.SkipRows = i(layout.SkipRows)
	out.InputBucket = s(cfg.GetInputBucket())
	out.GeometryBucket = s(cfg.GetGeometryBucket())
	out.GeometryKey = s(cfg.GetGeometryKey())
	out.OutputBucket = s(cfg.GetOutputBucket())
	out.CacheBucket = s(cfg.GetCacheBucket())
	out.DBPath = s(cfg.GetDBPath())
	out.MetricsFile = s(cfg.GetMetricsFile())
	out.WriteReport = b(cfg.GetWriteReport())
	return &out
}
