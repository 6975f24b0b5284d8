package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/domeseeing/internal/config"
	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/storage/sqlite"
	"github.com/banshee-data/domeseeing/internal/testutil"
)

const testKey = "CASES/optvol_case.csv"

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// workspace is a bucket root holding one sample file and a 2×2 pupil,
// plus a small run configuration.
type workspace struct {
	root   string
	config string
	db     string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{
		root:   filepath.Join(dir, "buckets"),
		config: filepath.Join(dir, "run.json"),
		db:     filepath.Join(dir, "ledger.db"),
	}

	cfg := config.EmptyRunConfig()
	write := func(bucket, key string, data []byte) {
		p := filepath.Join(w.root, bucket, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}
	write(cfg.GetInputBucket(), testKey, testutil.SamplesCSV(t, testutil.UniformCube(288, 3, 2, 0, 10)))
	write(cfg.GetGeometryBucket(), cfg.GetGeometryKey(), testutil.GeometryNPZ(t, testutil.PupilRays{
		NPx:     2,
		Spacing: 1,
		Heights: [4]float64{20, 0, 8, 2},
	}))

	runCfg := `{
  "npx": 5,
  "nh": 5,
  "domain_width_m": 4,
  "vertex_offset_m": 0,
  "steps": 11,
  "chunk_size": 2,
  "workers": 2
}`
	require.NoError(t, os.WriteFile(w.config, []byte(runCfg), 0644))
	return w
}

func (w *workspace) flags(extra ...string) []string {
	return append([]string{"-config", w.config, "-store", w.root, "-db", w.db}, extra...)
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantUsage bool
		contains  string
	}{
		{name: "no arguments", args: nil, wantUsage: true},
		{name: "unknown command", args: []string{"frobnicate"}, wantUsage: true},
		{name: "version", args: []string{"version"}, contains: "domeseeing dev"},
		{name: "help", args: []string{"help"}, contains: "Commands:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := runCmd(t, tt.args...)
			if tt.wantUsage {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, stdout, tt.contains)
		})
	}
}

func TestReduce_WritesArchiveLedgerAndMetrics(t *testing.T) {
	w := newWorkspace(t)
	metrics := filepath.Join(t.TempDir(), "domeseeing.prom")

	stdout, _, err := runCmd(t, append([]string{"reduce"}, w.flags("-metrics", metrics, "-key", testKey)...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, testKey)
	assert.Contains(t, stdout, "CASES/reduced_optvol_case.npz")

	cfg := config.EmptyRunConfig()
	assert.FileExists(t, filepath.Join(w.root, cfg.GetOutputBucket(), "CASES", "reduced_optvol_case.npz"))
	assert.FileExists(t, filepath.Join(w.root, cfg.GetOutputBucket(), "CASES", "reduced_optvol_case.json"))

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "domeseeing_reductions_total")

	stdout, _, err = runCmd(t, "history", "-db", w.db, "-case", "optvol_case")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CASES/reduced_optvol_case.npz")
	assert.Contains(t, stdout, sqlite.StatusOK)

	stdout, _, err = runCmd(t, "history", "-db", w.db, "-case", "optvol_case", "-json")
	require.NoError(t, err)
	var rows []sqlite.Reduction
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, sqlite.StatusOK, rows[0].Status)
	assert.Equal(t, 4, rows[0].ValidRays)
	assert.Equal(t, 2, rows[0].NPx, "pupil sampling of the geometry bundle")
	assert.Nil(t, rows[0].PSSn, "geometry without a reference skips PSSn")
}

func TestReduce_Errors(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := runCmd(t, append([]string{"reduce"}, w.flags()...)...)
	assert.ErrorContains(t, err, "-key is required")

	stdout, _, err := runCmd(t, "reduce", "-config", w.config, "-store", w.root, "-no-db", "-key", "missing.csv")
	assert.Error(t, err)
	assert.Contains(t, stdout, "failed")

	_, _, err = runCmd(t, "reduce", "-config", filepath.Join(t.TempDir(), "run.toml"), "-key", testKey)
	assert.ErrorContains(t, err, "extension")
}

func TestBatch_ContinuesPastFailures(t *testing.T) {
	w := newWorkspace(t)
	event := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(event, []byte(`{"Records": [
  {"s3": {"bucket": {"name": "cfd.scattered"}, "object": {"key": "CASES/optvol_case.csv"}}},
  {"s3": {"bucket": {"name": "cfd.scattered"}, "object": {"key": "CASES/optvol%20missing.csv"}}}
]}`), 0644))

	stdout, _, err := runCmd(t, append([]string{"batch"}, w.flags("-event", event)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optvol missing.csv")
	assert.Contains(t, stdout, "CASES/reduced_optvol_case.npz")
	assert.Contains(t, stdout, "CASES/optvol missing.csv")

	stdout, _, err = runCmd(t, "history", "-db", w.db, "-case", "optvol missing")
	require.NoError(t, err)
	assert.Contains(t, stdout, sqlite.StatusFailed)
}

func TestBatch_Errors(t *testing.T) {
	_, _, err := runCmd(t, "batch", "-no-db")
	assert.ErrorContains(t, err, "-event is required")

	_, _, err = runCmd(t, "batch", "-no-db", "-event", filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "failed to read event file")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"Records": []}`), 0644))
	_, _, err = runCmd(t, "batch", "-no-db", "-event", empty)
	assert.Error(t, err)
}

func TestHistory_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	_, _, err := runCmd(t, "history", "-db", dbPath)
	assert.ErrorContains(t, err, "-case is required")

	stdout, _, err := runCmd(t, "history", "-db", dbPath, "-case", "nothing")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No reductions recorded.")
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	stdout, _, err := runCmd(t, "migrate", "-db", dbPath, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 0")
	assert.Contains(t, stdout, "2 migration(s) pending")

	stdout, _, err = runCmd(t, "migrate", "-db", dbPath, "up")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ All migrations applied successfully")
	assert.Contains(t, stdout, "Current version: 2 (dirty: false)")

	stdout, _, err = runCmd(t, "migrate", "-db", dbPath, "down")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 1 (dirty: false)")

	stdout, _, err = runCmd(t, "migrate", "-db", dbPath, "force", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Forced version to 2")

	stdout, _, err = runCmd(t, "migrate", "-db", dbPath, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 2")
	assert.NotContains(t, stdout, "pending")
}

func TestMigrate_Errors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing action", []string{"migrate", "-db", dbPath}, "missing action"},
		{"unknown action", []string{"migrate", "-db", dbPath, "sideways"}, "unknown migrate action"},
		{"force without version", []string{"migrate", "-db", dbPath, "force"}, "usage"},
		{"force with bad version", []string{"migrate", "-db", dbPath, "force", "two"}, "invalid version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCmd(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestConfigCommand(t *testing.T) {
	stdout, _, err := runCmd(t, "config")
	require.NoError(t, err)
	var defaults config.RunConfig
	require.NoError(t, json.Unmarshal([]byte(stdout), &defaults))
	assert.Equal(t, 421, defaults.GetNPx())
	assert.Equal(t, config.OutOfDomainRaise, defaults.GetOutOfDomain())

	stdout, _, err = runCmd(t, "config", "-format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "npx: 421")
	assert.Contains(t, stdout, "wavelength_um: 0.5")

	w := newWorkspace(t)
	stdout, _, err = runCmd(t, "config", "-config", w.config)
	require.NoError(t, err)
	var merged config.RunConfig
	require.NoError(t, json.Unmarshal([]byte(stdout), &merged))
	assert.Equal(t, 5, merged.GetNPx())
	assert.Equal(t, 0.5, merged.GetWavelengthMicrons())
	require.NotNil(t, merged.Workers)
	assert.Equal(t, 2, *merged.Workers)
	require.NotNil(t, merged.InputBucket)
	assert.Equal(t, "cfd.scattered", *merged.InputBucket)

	_, _, err = runCmd(t, "config", "-format", "toml")
	assert.ErrorContains(t, err, "unknown format")
}
