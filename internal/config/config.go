package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/domeseeing.defaults.json"

// Out-of-domain policies for field queries
const (
	OutOfDomainRaise   = "raise"
	OutOfDomainNearest = "nearest"
)

// Gridding methods for the scattered→lattice stage
const (
	GriddingNearest = "nearest"
	GriddingShepard = "shepard"
)

// Autocorrelation methods for the sharpness stage
const (
	AutocorrelationFFT    = "fft"
	AutocorrelationDirect = "direct"
)

// RunConfig represents the root configuration for a dome seeing reduction.
// Every field is optional; the Get* methods supply defaults so partial
// config files are safe.
type RunConfig struct {
	// Field gridding
	WavelengthMicrons *float64 `json:"wavelength_um,omitempty" yaml:"wavelength_um,omitempty"`
	NPx               *int     `json:"npx,omitempty" yaml:"npx,omitempty"`
	NH                *int     `json:"nh,omitempty" yaml:"nh,omitempty"`
	DomainWidth       *float64 `json:"domain_width_m,omitempty" yaml:"domain_width_m,omitempty"`
	VertexOffset      *float64 `json:"vertex_offset_m,omitempty" yaml:"vertex_offset_m,omitempty"`
	OutOfDomain       *string  `json:"out_of_domain,omitempty" yaml:"out_of_domain,omitempty"` // "raise" or "nearest"
	Gridding          *string  `json:"gridding,omitempty" yaml:"gridding,omitempty"`           // "nearest" or "shepard"
	ShepardRadius     *float64 `json:"shepard_radius_m,omitempty" yaml:"shepard_radius_m,omitempty"`
	LatticeCache      *bool    `json:"lattice_cache,omitempty" yaml:"lattice_cache,omitempty"`

	// Ray integration
	Steps     *int `json:"steps,omitempty" yaml:"steps,omitempty"`
	ChunkSize *int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	Workers   *int `json:"workers,omitempty" yaml:"workers,omitempty"` // 0 means runtime.NumCPU()

	// Sharpness
	ComputePSSn     *bool   `json:"compute_pssn,omitempty" yaml:"compute_pssn,omitempty"`
	Autocorrelation *string `json:"autocorrelation,omitempty" yaml:"autocorrelation,omitempty"` // "fft" or "direct"

	// Sample file layout
	CSVLayout         *string `json:"csv_layout,omitempty" yaml:"csv_layout,omitempty"`
	TemperatureColumn *int    `json:"temperature_column,omitempty" yaml:"temperature_column,omitempty"`
	PositionColumn    *int    `json:"position_column,omitempty" yaml:"position_column,omitempty"`
	SkipRows          *int    `json:"skip_rows,omitempty" yaml:"skip_rows,omitempty"`

	// Storage
	InputBucket    *string `json:"input_bucket,omitempty" yaml:"input_bucket,omitempty"`
	GeometryBucket *string `json:"geometry_bucket,omitempty" yaml:"geometry_bucket,omitempty"`
	GeometryKey    *string `json:"geometry_key,omitempty" yaml:"geometry_key,omitempty"`
	OutputBucket   *string `json:"output_bucket,omitempty" yaml:"output_bucket,omitempty"`
	CacheBucket    *string `json:"cache_bucket,omitempty" yaml:"cache_bucket,omitempty"`
	DBPath         *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	MetricsFile    *string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
	WriteReport    *bool   `json:"write_report,omitempty" yaml:"write_report,omitempty"` // PNG and HTML next to the archive
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields set to nil.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// DefaultRunConfig returns a RunConfig with every field populated from the
// built-in defaults. Useful as a template when writing a new config file.
func DefaultRunConfig() *RunConfig {
	e := EmptyRunConfig()
	layout := e.GetCSVLayout()
	return &RunConfig{
		WavelengthMicrons: ptrFloat64(e.GetWavelengthMicrons()),
		NPx:               ptrInt(e.GetNPx()),
		NH:                ptrInt(e.GetNH()),
		DomainWidth:       ptrFloat64(e.GetDomainWidth()),
		VertexOffset:      ptrFloat64(e.GetVertexOffset()),
		OutOfDomain:       ptrString(e.GetOutOfDomain()),
		Gridding:          ptrString(e.GetGridding()),
		ShepardRadius:     ptrFloat64(e.GetShepardRadius()),
		LatticeCache:      ptrBool(e.GetLatticeCache()),
		Steps:             ptrInt(e.GetSteps()),
		ChunkSize:         ptrInt(e.GetChunkSize()),
		Workers:           ptrInt(0),
		ComputePSSn:       ptrBool(e.GetComputePSSn()),
		Autocorrelation:   ptrString(e.GetAutocorrelation()),
		CSVLayout:         ptrString(LayoutOptVol),
		TemperatureColumn: ptrInt(layout.TemperatureColumn),
		PositionColumn:    ptrInt(layout.PositionColumn),
		SkipRows:          ptrInt(layout.SkipRows),
		InputBucket:       ptrString(e.GetInputBucket()),
		GeometryBucket:    ptrString(e.GetGeometryBucket()),
		GeometryKey:       ptrString(e.GetGeometryKey()),
		OutputBucket:      ptrString(e.GetOutputBucket()),
		CacheBucket:       ptrString(e.GetCacheBucket()),
		DBPath:            ptrString(e.GetDBPath()),
		MetricsFile:       ptrString(""),
		WriteReport:       ptrBool(e.GetWriteReport()),
	}
}

// LoadRunConfig loads a RunConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file keep their defaults.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.WavelengthMicrons != nil && *c.WavelengthMicrons <= 0 {
		return fmt.Errorf("wavelength_um must be positive, got %f", *c.WavelengthMicrons)
	}
	if c.NPx != nil && *c.NPx < 2 {
		return fmt.Errorf("npx must be at least 2, got %d", *c.NPx)
	}
	if c.NH != nil && *c.NH < 2 {
		return fmt.Errorf("nh must be at least 2, got %d", *c.NH)
	}
	if c.DomainWidth != nil && *c.DomainWidth <= 0 {
		return fmt.Errorf("domain_width_m must be positive, got %f", *c.DomainWidth)
	}
	if c.Steps != nil && *c.Steps < 2 {
		return fmt.Errorf("steps must be at least 2, got %d", *c.Steps)
	}
	if c.ChunkSize != nil && *c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.ShepardRadius != nil && *c.ShepardRadius <= 0 {
		return fmt.Errorf("shepard_radius_m must be positive, got %f", *c.ShepardRadius)
	}
	if c.OutOfDomain != nil {
		switch *c.OutOfDomain {
		case OutOfDomainRaise, OutOfDomainNearest:
		default:
			return fmt.Errorf("out_of_domain must be %q or %q, got %q", OutOfDomainRaise, OutOfDomainNearest, *c.OutOfDomain)
		}
	}
	if c.Gridding != nil {
		switch *c.Gridding {
		case GriddingNearest, GriddingShepard:
		default:
			return fmt.Errorf("gridding must be %q or %q, got %q", GriddingNearest, GriddingShepard, *c.Gridding)
		}
	}
	if c.Autocorrelation != nil {
		switch *c.Autocorrelation {
		case AutocorrelationFFT, AutocorrelationDirect:
		default:
			return fmt.Errorf("autocorrelation must be %q or %q, got %q", AutocorrelationFFT, AutocorrelationDirect, *c.Autocorrelation)
		}
	}
	if c.CSVLayout != nil {
		if _, ok := layoutPresets[*c.CSVLayout]; !ok {
			return fmt.Errorf("unknown csv_layout %q", *c.CSVLayout)
		}
	}
	if c.TemperatureColumn != nil && *c.TemperatureColumn < 0 {
		return fmt.Errorf("temperature_column must be non-negative, got %d", *c.TemperatureColumn)
	}
	if c.PositionColumn != nil && *c.PositionColumn < 0 {
		return fmt.Errorf("position_column must be non-negative, got %d", *c.PositionColumn)
	}
	if c.SkipRows != nil && *c.SkipRows < 0 {
		return fmt.Errorf("skip_rows must be non-negative, got %d", *c.SkipRows)
	}
	return nil
}

// GetWavelengthMicrons returns the wavelength in micrometres or the default.
func (c *RunConfig) GetWavelengthMicrons() float64 {
	if c.WavelengthMicrons == nil {
		return 0.5
	}
	return *c.WavelengthMicrons
}

// GetNPx returns the horizontal lattice size or the default.
func (c *RunConfig) GetNPx() int {
	if c.NPx == nil {
		return 421
	}
	return *c.NPx
}

// GetNH returns the vertical lattice size or the default.
func (c *RunConfig) GetNH() int {
	if c.NH == nil {
		return 101
	}
	return *c.NH
}

// GetDomainWidth returns the horizontal lattice width in metres or the default.
func (c *RunConfig) GetDomainWidth() float64 {
	if c.DomainWidth == nil {
		return 26
	}
	return *c.DomainWidth
}

// GetVertexOffset returns the M1 vertex height subtracted from sample z.
func (c *RunConfig) GetVertexOffset() float64 {
	if c.VertexOffset == nil {
		return 3.9
	}
	return *c.VertexOffset
}

// GetOutOfDomain returns the out-of-domain query policy or the default.
func (c *RunConfig) GetOutOfDomain() string {
	if c.OutOfDomain == nil {
		return OutOfDomainRaise
	}
	return *c.OutOfDomain
}

// GetGridding returns the scattered→lattice method or the default.
func (c *RunConfig) GetGridding() string {
	if c.Gridding == nil {
		return GriddingNearest
	}
	return *c.Gridding
}

// GetShepardRadius returns the Shepard search radius in metres.
func (c *RunConfig) GetShepardRadius() float64 {
	if c.ShepardRadius == nil {
		return 0.5
	}
	return *c.ShepardRadius
}

// GetLatticeCache returns whether gridded lattices are cached between runs.
func (c *RunConfig) GetLatticeCache() bool {
	if c.LatticeCache == nil {
		return false
	}
	return *c.LatticeCache
}

// GetSteps returns the number of samples per ray segment or the default.
func (c *RunConfig) GetSteps() int {
	if c.Steps == nil {
		return 101
	}
	return *c.Steps
}

// GetChunkSize returns the ray batch size or the default.
func (c *RunConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 65536
	}
	return *c.ChunkSize
}

// GetWorkers returns the number of concurrent chunk workers.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetComputePSSn returns whether the sharpness stage runs.
func (c *RunConfig) GetComputePSSn() bool {
	if c.ComputePSSn == nil {
		return true
	}
	return *c.ComputePSSn
}

// GetAutocorrelation returns the autocorrelation method or the default.
func (c *RunConfig) GetAutocorrelation() string {
	if c.Autocorrelation == nil {
		return AutocorrelationFFT
	}
	return *c.Autocorrelation
}

// GetInputBucket returns the bucket holding scattered CFD samples.
func (c *RunConfig) GetInputBucket() string {
	if c.InputBucket == nil {
		return "cfd.scattered"
	}
	return *c.InputBucket
}

// GetGeometryBucket returns the bucket holding the ray geometry bundle.
func (c *RunConfig) GetGeometryBucket() string {
	if c.GeometryBucket == nil {
		return "cfd.geometry"
	}
	return *c.GeometryBucket
}

// GetGeometryKey returns the key of the ray geometry bundle.
func (c *RunConfig) GetGeometryKey() string {
	if c.GeometryKey == nil {
		return "cfdRaytrace.npz"
	}
	return *c.GeometryKey
}

// GetOutputBucket returns the bucket receiving reduced archives.
func (c *RunConfig) GetOutputBucket() string {
	if c.OutputBucket == nil {
		return "cfd.gridded"
	}
	return *c.OutputBucket
}

// GetCacheBucket returns the bucket used for cached lattices.
func (c *RunConfig) GetCacheBucket() string {
	if c.CacheBucket == nil {
		return "cfd.lattice"
	}
	return *c.CacheBucket
}

// GetDBPath returns the sqlite run ledger path or the default.
func (c *RunConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "domeseeing.db"
	}
	return *c.DBPath
}

// GetMetricsFile returns the metrics textfile path; empty disables output.
func (c *RunConfig) GetMetricsFile() string {
	if c.MetricsFile == nil {
		return ""
	}
	return *c.MetricsFile
}

// GetWriteReport returns whether OPD plots are written with each archive.
func (c *RunConfig) GetWriteReport() bool {
	if c.WriteReport == nil {
		return false
	}
	return *c.WriteReport
}
