package main

import (
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/domeseeing/internal/blobstore"
	"github.com/banshee-data/domeseeing/internal/config"
	"github.com/banshee-data/domeseeing/internal/db"
	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/pipeline"
	"github.com/banshee-data/domeseeing/internal/storage/sqlite"
	"github.com/banshee-data/domeseeing/internal/version"
)

// Config holds the flags shared by the reducing subcommands.
type Config struct {
	ConfigPath  string
	StoreDir    string
	StoreURL    string
	DBPath      string
	NoDB        bool
	MetricsFile string
	Verbose     bool
	Trace       bool
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", "", "Run configuration file (.json, .yaml or .yml)")
	fs.StringVar(&c.StoreDir, "store", ".", "Local bucket root directory")
	fs.StringVar(&c.StoreURL, "store-url", "", "Object store endpoint (overrides -store)")
	fs.StringVar(&c.DBPath, "db", "", "Run ledger path (default from config)")
	fs.BoolVar(&c.NoDB, "no-db", false, "Do not record reductions")
	fs.StringVar(&c.MetricsFile, "metrics", "", "Prometheus textfile written on exit (default from config)")
	fs.BoolVar(&c.Verbose, "v", false, "Verbose diagnostics")
	fs.BoolVar(&c.Trace, "trace", false, "Per-stage trace output")
}

// loadRunConfig reads -config, or returns the built-in defaults.
func (c *Config) loadRunConfig() (*config.RunConfig, error) {
	if c.ConfigPath == "" {
		return config.EmptyRunConfig(), nil
	}
	return config.LoadRunConfig(c.ConfigPath)
}

func (c *Config) store() blobstore.Store {
	if c.StoreURL != "" {
		return blobstore.NewHTTPStore(c.StoreURL, nil)
	}
	return blobstore.NewFileStore(c.StoreDir)
}

func (c *Config) ledgerPath(cfg *config.RunConfig) string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return cfg.GetDBPath()
}

func (c *Config) metricsPath(cfg *config.RunConfig) string {
	if c.MetricsFile != "" {
		return c.MetricsFile
	}
	return cfg.GetMetricsFile()
}

// setupLogging routes the pipeline streams to stderr. Ops lines are always
// shown; diag and trace only when asked for.
func (c *Config) setupLogging(stderr io.Writer) {
	var diag, trace io.Writer
	if c.Verbose {
		diag = stderr
		monitoring.SetLogger(log.New(stderr, "", log.LstdFlags|log.Lmicroseconds).Printf)
	} else {
		monitoring.SetLogger(nil)
	}
	if c.Trace {
		trace = stderr
	}
	pipeline.SetLogWriters(stderr, diag, trace)
}

// newRunner builds a Runner from the flags. The returned close function
// releases the ledger database and must always be called.
func (c *Config) newRunner() (*pipeline.Runner, func() error, error) {
	noop := func() error { return nil }

	cfg, err := c.loadRunConfig()
	if err != nil {
		return nil, noop, err
	}
	runner, err := pipeline.NewRunner(c.store(), cfg)
	if err != nil {
		return nil, noop, err
	}
	runner.Version = version.String()

	if c.NoDB {
		return runner, noop, nil
	}
	database, err := db.NewDB(c.ledgerPath(cfg))
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open run ledger: %w", err)
	}
	runner.Ledger = sqlite.NewReductionStore(database.DB)
	return runner, database.Close, nil
}
