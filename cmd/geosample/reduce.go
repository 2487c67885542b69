package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/pkg/config"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/reduce"
	"github.com/geosample/geosample/pkg/tui"
	"github.com/geosample/geosample/pkg/writer"
)

var (
	classFlag         string
	allFlag           bool
	finalCapacityFlag int
	formatFlag        string
	outputFlag        string
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Phase 2: merge stored samples into the final dataset per class",
	Long: `Combine the Phase-1 samples of every DONE partition into one sample per class
and write it as a GeoPackage or GeoParquet dataset named FINAL_SAMPLES_CLASS_<id>.
Pixel counts are exact sums over all partitions.

The sample is uniform over the Phase-1 samples. It is exactly uniform over all
pixels only when no partition filled its Phase-1 reservoir; see ` + "`geosample report`" + `.

Classes are selected by id or name (case and '_', '-' or spaces are ignored) and
must be among the extracted classes. Without --class or --all the class is asked
for interactively.

Examples:
  geosample reduce -i ./tiles --class 10
  geosample reduce -i ./tiles --class tree_cover,grassland --format parquet
  geosample reduce -i ./tiles --all --final-capacity 5000 -o ./samples`,
	RunE: runReduce,
}

func init() {
	f := reduceCmd.Flags()
	f.StringVar(&classFlag, "class", "", "Class id or name to reduce (comma-separated for several)")
	f.BoolVar(&allFlag, "all", false, "Reduce every extracted class")
	f.IntVar(&finalCapacityFlag, "final-capacity", 0, "Number of points in each final dataset")
	f.StringVar(&formatFlag, "format", "", "Output format (gpkg, parquet)")
	f.StringVarP(&outputFlag, "output", "o", "", "Output directory")
}

func applyReduceFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("final-capacity") {
		cfg.Reduce.FinalCapacity = finalCapacityFlag
	}
	if flags.Changed("format") {
		cfg.Reduce.Format = formatFlag
	}
	if flags.Changed("output") {
		cfg.Reduce.OutputDir = outputFlag
	}
	return nil
}

// selectClasses resolves the classes to reduce from flags or a prompt,
// among the classes extraction targets.
func selectClasses(cmd *cobra.Command, cfg *config.Config) ([]model.ClassID, error) {
	classes := make(model.ClassMap)
	for _, id := range cfg.TargetClasses() {
		classes[id] = cfg.Classes.Name(id)
	}
	switch {
	case allFlag:
		return classes.IDs(), nil
	case classFlag != "":
		return tui.ParseSelection(classFlag, classes)
	case tui.IsTerminal(os.Stdin):
		return tui.PromptClass(cmd.InOrStdin(), cmd.OutOrStdout(), classes)
	default:
		return nil, gserrors.InvalidClass("").
			WithContext("hint", "pass --class or --all")
	}
}

func runReduce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger := current.cfg, current.logger
	out := cmd.OutOrStdout()

	format, err := writer.ParseFormat(cfg.Reduce.Format)
	if err != nil {
		return gserrors.InvalidConfig("reduce.format", cfg.Reduce.Format, err.Error())
	}

	tui.PrintHeader(out, version)
	classes, err := selectClasses(cmd, cfg)
	if err != nil {
		return err
	}

	_, ids, err := partitions(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	r, err := reduce.New(cfg.ReduceConfig(), reduce.WithLogger(logger))
	if err != nil {
		return err
	}
	sets, err := r.ReduceClasses(ctx, store, ids, classes)
	if err != nil {
		return err
	}

	for _, set := range sets {
		if set.Empty() {
			tui.PrintClassResult(out, set, "")
			continue
		}
		path, err := writer.WriteSet(ctx, cfg.Reduce.OutputDir, format, set)
		if err != nil {
			return err
		}
		logger.Debug("dataset written", "class", set.Class, "path", path, "samples", len(set.Samples))
		tui.PrintClassResult(out, set, path)
	}
	return nil
}
