package main

import (
	"github.com/spf13/cobra"

	"github.com/geosample/geosample/pkg/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint state of every partition",
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

		rows := make([]tui.PartitionState, 0, len(ids))
		for _, id := range ids {
			state, err := store.State(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, tui.PartitionState{ID: id, State: state.String()})
		}
		tui.PrintStatus(cmd.OutOrStdout(), rows)
		return nil
	},
}
