package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
)

var (
	planData  dataFlags
	planWrite string
)

var planCmd = &cobra.Command{
	Use:   "plan <file|url>",
	Short: "Show the default cleaning plan for a dataset",
	Long: `Prints the steps default mode would request: mean or mode imputation for
columns with missing values, one-hot encoding of categorical columns and
standard scaling of numeric columns. With --write, saves the plan as a YAML
configuration to edit and pass to "clean --config-file".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd.Context(), args[0], &planData)
		if err != nil {
			return err
		}
		c := cleaning.DefaultConfig(snap.Schema)
		fmt.Fprint(cmd.OutOrStdout(), cleaning.PlanMarkdown(snap.Schema, c))
		if planWrite != "" {
			if err := cleaning.SaveConfig(planWrite, c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote cleaning config to %s\n", planWrite)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planData.register(planCmd)
	planCmd.Flags().StringVarP(&planWrite, "write", "w", "", "save the default configuration as YAML to this path")
}
