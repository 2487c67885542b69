// Package config provides configuration management for geosample.
// Configuration is loaded from YAML files and environment variables and
// handed to the sampling stages as immutable values.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/pkg/checkpoint"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/extract"
	"github.com/geosample/geosample/pkg/reduce"
	"github.com/geosample/geosample/pkg/writer"
)

// Config represents the full geosample configuration.
type Config struct {
	// Version of the config schema
	Version int `yaml:"version"`

	Input      InputConfig      `yaml:"input"`
	Extract    ExtractConfig    `yaml:"extract"`
	Reduce     ReduceConfig     `yaml:"reduce"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Classes    model.ClassMap   `yaml:"classes"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Seed makes both phases reproducible. Unset means a fresh random
	// sample on every run.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// InputConfig locates the raster partitions.
type InputConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// ExtractConfig configures Phase 1.
type ExtractConfig struct {
	Workers          int             `yaml:"workers"`
	PerClassCapacity int             `yaml:"per_class_capacity"`
	Classes          []model.ClassID `yaml:"classes"` // empty = every class in the class map
}

// ReduceConfig configures Phase 2.
type ReduceConfig struct {
	FinalCapacity int    `yaml:"final_capacity"`
	OutputDir     string `yaml:"output_dir"`
	Format        string `yaml:"format"` // gpkg | parquet
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend     string      `yaml:"backend"` // local | redis | s3
	Dir         string      `yaml:"dir"`
	Compression string      `yaml:"compression"` // none | zstd | lz4
	Redis       RedisConfig `yaml:"redis"`
	S3          S3Config    `yaml:"s3"`
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Prefix   string `yaml:"prefix"`
}

// S3Config configures the S3 checkpoint backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Input: InputConfig{
			Dir:     ".",
			Pattern: "*.tif",
		},
		Extract: ExtractConfig{
			Workers:          runtime.NumCPU(),
			PerClassCapacity: 20000,
		},
		Reduce: ReduceConfig{
			FinalCapacity: 2500,
			OutputDir:     ".",
			Format:        string(writer.FormatGeoPackage),
		},
		Checkpoint: CheckpointConfig{
			Backend:     "local",
			Dir:         "checkpoints",
			Compression: string(checkpoint.CompressionZstd),
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "geosample:checkpoints:",
			},
			S3: S3Config{
				Prefix: "checkpoints/",
			},
		},
		Classes: model.WorldCoverClasses(),
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
	}
}

// TargetClasses returns the configured Phase-1 classes, defaulting to the
// whole class map.
func (c *Config) TargetClasses() []model.ClassID {
	if len(c.Extract.Classes) == 0 {
		return c.Classes.IDs()
	}
	out := slices.Clone(c.Extract.Classes)
	slices.Sort(out)
	return slices.Compact(out)
}

// Validate reports the first configuration-fatal problem.
func (c *Config) Validate() error {
	if c.Input.Pattern == "" {
		return gserrors.InvalidConfig("input.pattern", c.Input.Pattern, "pattern must not be empty")
	}
	if _, err := filepath.Match(c.Input.Pattern, ""); err != nil {
		return gserrors.InvalidConfig("input.pattern", c.Input.Pattern, "invalid glob pattern")
	}
	if c.Extract.Workers < 1 {
		return gserrors.InvalidConfig("extract.workers", c.Extract.Workers, "need at least one worker")
	}
	if c.Extract.PerClassCapacity <= 0 {
		return gserrors.InvalidConfig("extract.per_class_capacity", c.Extract.PerClassCapacity, "capacity must be positive")
	}
	if c.Reduce.FinalCapacity <= 0 {
		return gserrors.InvalidConfig("reduce.final_capacity", c.Reduce.FinalCapacity, "capacity must be positive")
	}
	if _, err := writer.ParseFormat(c.Reduce.Format); err != nil {
		return gserrors.InvalidConfig("reduce.format", c.Reduce.Format, err.Error())
	}
	if len(c.Classes) == 0 {
		return gserrors.InvalidConfig("classes", nil, "class map is empty")
	}
	for _, id := range c.TargetClasses() {
		if _, ok := c.Classes[id]; !ok {
			return gserrors.InvalidClass(id)
		}
		if id > extract.MaxClassID {
			return gserrors.InvalidClass(id).
				WithContext("max", extract.MaxClassID)
		}
	}

	switch c.Checkpoint.Backend {
	case "local":
		if c.Checkpoint.Dir == "" {
			return gserrors.InvalidConfig("checkpoint.dir", c.Checkpoint.Dir, "directory required for local backend")
		}
	case "redis":
		if c.Checkpoint.Redis.Address == "" {
			return gserrors.InvalidConfig("checkpoint.redis.address", "", "address required for redis backend")
		}
	case "s3":
		if c.Checkpoint.S3.Bucket == "" {
			return gserrors.InvalidConfig("checkpoint.s3.bucket", "", "bucket required for s3 backend")
		}
	default:
		return gserrors.InvalidConfig("checkpoint.backend", c.Checkpoint.Backend, "unknown checkpoint backend")
	}
	if _, err := checkpoint.ParseCompression(c.Checkpoint.Compression); err != nil {
		return gserrors.InvalidConfig("checkpoint.compression", c.Checkpoint.Compression, err.Error())
	}
	return nil
}

// ExtractConfig returns the immutable Phase-1 configuration.
func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{
		TargetClasses:    c.TargetClasses(),
		PerClassCapacity: c.Extract.PerClassCapacity,
		Seed:             c.Seed,
	}
}

// ReduceConfig returns the immutable Phase-2 configuration.
func (c *Config) ReduceConfig() reduce.Config {
	classes := make(model.ClassMap, len(c.Classes))
	for id, name := range c.Classes {
		classes[id] = name
	}
	return reduce.Config{
		FinalCapacity: c.Reduce.FinalCapacity,
		Seed:          c.Seed,
		Classes:       classes,
	}
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu          sync.RWMutex
	config      *Config
	searchPaths []string
	paths       []string // Paths that were loaded
	getenv      func(string) string
}

// NewManager creates a manager that searches the standard locations.
func NewManager() *Manager {
	return &Manager{
		config:      Default(),
		searchPaths: defaultSearchPaths(),
		getenv:      os.Getenv,
	}
}

// SetSearchPaths replaces the implicit config file locations.
func (m *Manager) SetSearchPaths(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchPaths = paths
}

// Load loads configuration from all sources.
// Priority (lowest to highest):
//  1. Defaults
//  2. /etc/geosample/config.yaml
//  3. ~/.geosample/config.yaml
//  4. ./.geosample.yaml
//  5. explicit, if non-empty (must exist)
//  6. GEOSAMPLE_* environment variables
//
// Command-line flags are applied on top by the caller.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.searchPaths {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv()
}

func defaultSearchPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/geosample/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".geosample", "config.yaml"))
	}

	// Project config
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".geosample.yaml"))
	}

	return paths
}

// loadFile loads and merges a config file.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return gserrors.Wrap(err, gserrors.CodeInvalidConfig, "parse config file").
			WithContext("path", path)
	}

	m.merge(&partial)
	return nil
}

// merge overlays the non-zero values of src.
func (m *Manager) merge(src *Config) {
	dst := m.config

	if src.Input.Dir != "" {
		dst.Input.Dir = src.Input.Dir
	}
	if src.Input.Pattern != "" {
		dst.Input.Pattern = src.Input.Pattern
	}

	if src.Extract.Workers != 0 {
		dst.Extract.Workers = src.Extract.Workers
	}
	if src.Extract.PerClassCapacity != 0 {
		dst.Extract.PerClassCapacity = src.Extract.PerClassCapacity
	}
	if len(src.Extract.Classes) > 0 {
		dst.Extract.Classes = src.Extract.Classes
	}

	if src.Reduce.FinalCapacity != 0 {
		dst.Reduce.FinalCapacity = src.Reduce.FinalCapacity
	}
	if src.Reduce.OutputDir != "" {
		dst.Reduce.OutputDir = src.Reduce.OutputDir
	}
	if src.Reduce.Format != "" {
		dst.Reduce.Format = src.Reduce.Format
	}

	if src.Checkpoint.Backend != "" {
		dst.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Dir != "" {
		dst.Checkpoint.Dir = src.Checkpoint.Dir
	}
	if src.Checkpoint.Compression != "" {
		dst.Checkpoint.Compression = src.Checkpoint.Compression
	}
	if r := src.Checkpoint.Redis; r.Address != "" {
		dst.Checkpoint.Redis.Address = r.Address
	}
	if r := src.Checkpoint.Redis; r.Password != "" {
		dst.Checkpoint.Redis.Password = r.Password
	}
	if r := src.Checkpoint.Redis; r.Database != 0 {
		dst.Checkpoint.Redis.Database = r.Database
	}
	if r := src.Checkpoint.Redis; r.Prefix != "" {
		dst.Checkpoint.Redis.Prefix = r.Prefix
	}
	if s := src.Checkpoint.S3; s.Bucket != "" {
		dst.Checkpoint.S3.Bucket = s.Bucket
	}
	if s := src.Checkpoint.S3; s.Prefix != "" {
		dst.Checkpoint.S3.Prefix = s.Prefix
	}
	if s := src.Checkpoint.S3; s.Region != "" {
		dst.Checkpoint.S3.Region = s.Region
	}
	if s := src.Checkpoint.S3; s.Endpoint != "" {
		dst.Checkpoint.S3.Endpoint = s.Endpoint
	}
	if src.Checkpoint.S3.UsePathStyle {
		dst.Checkpoint.S3.UsePathStyle = true
	}

	// A class map replaces the defaults wholesale.
	if len(src.Classes) > 0 {
		dst.Classes = src.Classes
	}

	if src.Telemetry.Enabled {
		dst.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		dst.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if len(src.Telemetry.Headers) > 0 {
		dst.Telemetry.Headers = src.Telemetry.Headers
	}

	if src.Seed != nil {
		seed := *src.Seed
		dst.Seed = &seed
	}
}

// loadEnv applies environment variable overrides.
func (m *Manager) loadEnv() error {
	cfg := m.config
	str := func(name string, dst *string) {
		if v := m.getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := m.getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return gserrors.InvalidConfig(name, v, "not an integer")
		}
		*dst = n
		return nil
	}

	str("GEOSAMPLE_INPUT_DIR", &cfg.Input.Dir)
	str("GEOSAMPLE_PATTERN", &cfg.Input.Pattern)
	str("GEOSAMPLE_OUTPUT_DIR", &cfg.Reduce.OutputDir)
	str("GEOSAMPLE_FORMAT", &cfg.Reduce.Format)
	str("GEOSAMPLE_CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	str("GEOSAMPLE_CHECKPOINT_DIR", &cfg.Checkpoint.Dir)
	str("GEOSAMPLE_COMPRESSION", &cfg.Checkpoint.Compression)
	str("GEOSAMPLE_REDIS_ADDRESS", &cfg.Checkpoint.Redis.Address)
	str("GEOSAMPLE_REDIS_PASSWORD", &cfg.Checkpoint.Redis.Password)
	str("GEOSAMPLE_S3_BUCKET", &cfg.Checkpoint.S3.Bucket)
	str("GEOSAMPLE_S3_ENDPOINT", &cfg.Checkpoint.S3.Endpoint)
	str("GEOSAMPLE_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)

	for name, dst := range map[string]*int{
		"GEOSAMPLE_WORKERS":            &cfg.Extract.Workers,
		"GEOSAMPLE_PER_CLASS_CAPACITY": &cfg.Extract.PerClassCapacity,
		"GEOSAMPLE_FINAL_CAPACITY":     &cfg.Reduce.FinalCapacity,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	if v := m.getenv("GEOSAMPLE_CLASSES"); v != "" {
		ids, err := ParseClasses(v)
		if err != nil {
			return err
		}
		cfg.Extract.Classes = ids
	}

	if v := m.getenv("GEOSAMPLE_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return gserrors.InvalidConfig("GEOSAMPLE_SEED", v, "not an unsigned integer")
		}
		cfg.Seed = &seed
	}
	return nil
}

// ParseClasses parses a comma-separated list of class ids.
func ParseClasses(s string) ([]model.ClassID, error) {
	var ids []model.ClassID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 32)
		if err != nil || n < 0 {
			return nil, gserrors.InvalidClass(part)
		}
		ids = append(ids, model.ClassID(n))
	}
	return ids, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
