package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/cleanloom/internal/report"
	"github.com/KaramelBytes/cleanloom/internal/session"
)

var (
	anaData       dataFlags
	anaFormat     string
	anaOutputPath string
	anaHeadRows   int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|url>",
	Short: "Infer the schema of a CSV/TSV/XLSX/JSON dataset and summarize it",
	Example: `  cleanloom analyze sales.csv
  cleanloom analyze report.xlsx --sheet Q3 --histogram variance
  cleanloom analyze https://example.com/data.json --format json -o summary.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(anaFormat); err != nil {
			return err
		}
		snap, err := loadSnapshot(cmd.Context(), args[0], &anaData)
		if err != nil {
			return err
		}
		out, err := renderSnapshot(snap, anaFormat, anaHeadRows)
		if err != nil {
			return err
		}
		return writeOrPrint(cmd.OutOrStdout(), anaOutputPath, out, "analysis")
	},
}

func checkFormat(format string) error {
	switch format {
	case "", "md", "markdown", "html", "json":
		return nil
	}
	return fmt.Errorf("unsupported --format: %s (use md|html|json)", format)
}

// renderSnapshot formats an analysis as md, html or json.
func renderSnapshot(snap *session.Snapshot, format string, headRows int) ([]byte, error) {
	opt := report.DefaultOptions
	opt.HeadRows = headRows
	switch format {
	case "", "md", "markdown":
		return []byte(report.SnapshotMarkdown(snap, opt)), nil
	case "html":
		return []byte(report.HTML(report.SnapshotMarkdown(snap, opt))), nil
	case "json":
		b, err := report.JSON(snap)
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported --format: %s (use md|html|json)", format)
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	anaData.register(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaFormat, "format", "f", "md", "output format: md|html|json")
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "optional path to write the analysis")
	analyzeCmd.Flags().IntVar(&anaHeadRows, "head", 5, "number of leading rows to include in markdown output")
}
