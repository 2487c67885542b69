package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/geosample/geosample/pkg/batch"
	"github.com/geosample/geosample/pkg/checkpoint"
	"github.com/geosample/geosample/pkg/config"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/extract"
	"github.com/geosample/geosample/pkg/raster"
	"github.com/geosample/geosample/pkg/tui"
	"github.com/geosample/geosample/pkg/watch"
)

var (
	workersFlag  int
	capacityFlag int
	classesFlag  string
	forceFlag    bool
	watchFlag    bool
	debounceFlag time.Duration
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Phase 1: sample every partition into the checkpoint store",
	Long: `Scan each raster partition once and store a per-class reservoir sample plus
exact per-class pixel counts. Partitions already marked DONE are skipped, so an
interrupted run resumes where it stopped.

Examples:
  geosample extract -i ./tiles
  geosample extract -i ./tiles --workers 8 --classes 10,20,30
  geosample extract -i ./tiles --watch`,
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.IntVarP(&workersFlag, "workers", "w", 0, "Partitions processed concurrently")
	f.IntVar(&capacityFlag, "capacity", 0, "Phase-1 reservoir size per class and partition")
	f.StringVar(&classesFlag, "classes", "", "Comma-separated class ids to sample (default: all)")
	f.BoolVarP(&forceFlag, "force", "f", false, "Re-extract partitions that are already DONE")
	f.BoolVar(&watchFlag, "watch", false, "Keep running and extract new partitions as they appear")
	f.DurationVar(&debounceFlag, "debounce", 2*time.Second, "Quiet period before a new file is extracted")
}

func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Extract.Workers = workersFlag
	}
	if flags.Changed("capacity") {
		cfg.Extract.PerClassCapacity = capacityFlag
	}
	if flags.Changed("classes") {
		ids, err := config.ParseClasses(classesFlag)
		if err != nil {
			return err
		}
		cfg.Extract.Classes = ids
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger := current.cfg, current.logger
	out := cmd.OutOrStdout()

	tui.PrintHeader(out, version)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ex, err := extract.New(cfg.ExtractConfig())
	if err != nil {
		return err
	}

	opts := []batch.Option{
		batch.WithWorkers(cfg.Extract.Workers),
		batch.WithForce(forceFlag),
		batch.WithLogger(logger),
	}

	paths, ids, err := partitions(cfg)
	switch {
	case err == nil:
	case watchFlag && gserrors.IsCode(err, gserrors.CodeNoPartitions):
		logger.Info("no partitions yet", "dir", cfg.Input.Dir, "pattern", cfg.Input.Pattern)
	default:
		return err
	}

	if len(paths) > 0 {
		incomplete, err := store.ListIncomplete(ctx, ids)
		if err != nil {
			return err
		}
		if tui.PrintRunStatus(out, len(ids)-len(incomplete), len(ids)) || forceFlag {
			summary, err := runBatch(ctx, ex, store, opts, paths)
			if summary != nil {
				tui.PrintSummary(out, summary)
			}
			if err != nil {
				return err
			}
			if !watchFlag {
				return summary.Err()
			}
		}
	}

	if !watchFlag {
		return nil
	}
	return watchPartitions(ctx, cfg, batch.NewRunner(raster.NewGeoTIFFOpener(), ex, store, opts...))
}

// runBatch runs one extraction pass, with a progress bar when stderr is a
// terminal.
func runBatch(ctx context.Context, ex *extract.Extractor, store *checkpoint.Store, opts []batch.Option, paths []string) (*batch.Summary, error) {
	if tui.IsTerminal(os.Stderr) {
		bar := tui.ShowProgress(len(paths), "Extracting")
		defer bar.Finish()
		opts = append(opts[:len(opts):len(opts)], batch.WithProgress(func(batch.Outcome) {
			bar.Add(1)
		}))
	}
	return batch.NewRunner(raster.NewGeoTIFFOpener(), ex, store, opts...).Run(ctx, paths)
}

// watchPartitions extracts partitions written to the input directory until
// ctx is canceled.
func watchPartitions(ctx context.Context, cfg *config.Config, runner *batch.Runner) error {
	logger := current.logger
	w, err := watch.NewWatcher(cfg.Input.Dir, cfg.Input.Pattern, debounceFlag, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnReady = func(ctx context.Context, path string) error {
		summary, err := runner.Run(ctx, []string{path})
		if err != nil {
			return err
		}
		for _, o := range summary.Outcomes {
			logger.Info("partition processed",
				"partition", o.PartitionID,
				"status", o.Status.String(),
				"pixels", o.Pixels,
				"duration", o.Duration)
		}
		return summary.Err()
	}
	w.OnError = func(path string, err error) {
		logger.Error("watch extraction failed", "path", path, "error", err)
	}

	logger.Info("watching for partitions", "dir", cfg.Input.Dir, "pattern", cfg.Input.Pattern)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
