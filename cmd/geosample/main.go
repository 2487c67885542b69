// geosample draws a bounded uniform random sample of points per land-cover
// class from a directory of classified raster partitions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geosample/geosample/pkg/config"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile    string
	verbose       bool
	inputDir      string
	patternFlag   string
	checkpointDir string
	backendFlag   string
	seedFlag      uint64
)

// app is the state shared by all subcommands after configuration loads.
type app struct {
	manager  *config.Manager
	cfg      *config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

var current app

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if current.shutdown != nil {
		current.shutdown(context.Background())
	}
	if err != nil {
		os.Exit(exitCode(os.Stderr, err))
	}
}

// exitCode prints err and returns the process exit code: 2 for configuration
// errors, 1 otherwise.
func exitCode(w io.Writer, err error) int {
	fmt.Fprintln(w, err)
	var gsErr *gserrors.Error
	if verbose && errors.As(err, &gsErr) {
		fmt.Fprint(w, gsErr.FormatStack())
	}
	if gserrors.IsConfigFatal(err) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "geosample",
	Short: "geosample - Uniform point sampling of land-cover rasters",
	Long: `geosample draws a bounded, uniform random sample of geographic points per
land-cover class from a directory of classified raster partitions.

Sampling runs in two phases:
  1. extract  scans every partition once, keeping a per-class reservoir
              sample and exact pixel counts in a resumable checkpoint store
  2. reduce   merges the stored samples into one final dataset per class

Configuration is read from /etc/geosample/config.yaml, ~/.geosample/config.yaml,
./.geosample.yaml, --config, GEOSAMPLE_* environment variables and flags.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file path")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVarP(&inputDir, "input", "i", "", "Directory holding the raster partitions")
	pf.StringVar(&patternFlag, "pattern", "", "Partition file name pattern (e.g. *.tif)")
	pf.StringVar(&checkpointDir, "checkpoint-dir", "", "Checkpoint directory for the local backend")
	pf.StringVar(&backendFlag, "backend", "", "Checkpoint backend (local, redis, s3)")
	pf.Uint64Var(&seedFlag, "seed", 0, "Random seed for reproducible sampling")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reduceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads and validates configuration before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return err
	}
	cfg := m.Get()
	applyGlobalFlags(cmd, cfg)
	if err := applyCommandFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	current = app{
		manager: m,
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
	current.logger.Debug("configuration loaded", "files", m.GetPaths())

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig(cfg.Telemetry.Endpoint)
		otlp.Headers = cfg.Telemetry.Headers
		exporter := telemetry.NewOTLPExporter(otlp)
		shutdown, err := exporter.Init(cmd.Context())
		if err != nil {
			return err
		}
		current.shutdown = shutdown
	}
	return nil
}

func applyGlobalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input.Dir = inputDir
	}
	if flags.Changed("pattern") {
		cfg.Input.Pattern = patternFlag
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Checkpoint.Dir = checkpointDir
	}
	if flags.Changed("backend") {
		cfg.Checkpoint.Backend = backendFlag
	}
	if flags.Changed("seed") {
		seed := seedFlag
		cfg.Seed = &seed
	}
}

// applyCommandFlags applies the flags of whichever subcommand is running.
func applyCommandFlags(cmd *cobra.Command, cfg *config.Config) error {
	switch cmd {
	case extractCmd:
		return applyExtractFlags(cmd, cfg)
	case reduceCmd:
		return applyReduceFlags(cmd, cfg)
	}
	return nil
}
