package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geosample/geosample/pkg/report"
	"github.com/geosample/geosample/pkg/tui"
)

var xlsxFlag string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize class abundance from the checkpoint store",
	Long: `Aggregate the exact per-class pixel counts of every DONE partition and show
each class's share of the area, how many partitions contain it, and whether its
final sample will be exact.

Examples:
  geosample report -i ./tiles
  geosample report -i ./tiles --xlsx abundance.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := current.cfg

		_, ids, err := partitions(cfg)
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		rep, err := report.Build(ctx, store, ids, cfg.Classes)
		if err != nil {
			return err
		}
		tui.PrintReport(cmd.OutOrStdout(), rep)

		if xlsxFlag != "" {
			if err := report.WriteXLSX(xlsxFlag, rep); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  Written %s\n", xlsxFlag)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&xlsxFlag, "xlsx", "", "Also write the report to an Excel workbook")
}
