package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var saveFlag string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print or save the effective configuration",
	Long: `Print the configuration after merging config files, GEOSAMPLE_* environment
variables and flags. With --save it is written to a file instead, which can be
passed back with --config.

Examples:
  geosample config
  geosample config -i ./tiles --backend redis --save ./.geosample.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if saveFlag != "" {
			if err := current.manager.Save(saveFlag); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  Written %s\n", saveFlag)
			return nil
		}
		data, err := current.cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.Flags().StringVar(&saveFlag, "save", "", "Write the effective configuration to this file")
}
