package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/report"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/utils"
)

var (
	clData       dataFlags
	clMode       string
	clConfigPath string
	clOutput     string
	clReport     string
	clProvider   string
	clModel      string
	clDryRun     bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean <file|url>",
	Short: "Clean a dataset with an AI model and save the result",
	Example: `  cleanloom clean sales.csv
  cleanloom clean sales.csv --mode manual --config-file clean.yaml -o sales_clean.xlsx --report report.md
  cleanloom clean sales.csv --provider ollama --model llama3.1:8b-instruct --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		mode, err := cleaning.ParseMode(clMode)
		if err != nil {
			return err
		}
		if clConfigPath != "" && !cmd.Flags().Changed("mode") {
			mode = cleaning.ModeManual
		}
		req := cleaning.Request{Mode: mode}
		if mode == cleaning.ModeManual {
			if clConfigPath == "" {
				return errors.New("--mode manual requires --config-file (create one with: cleanloom plan <file> --write clean.yaml)")
			}
			if req.Config, err = cleaning.LoadConfig(clConfigPath); err != nil {
				return err
			}
		}

		before, err := loadSnapshot(cmd.Context(), args[0], &clData)
		if err != nil {
			return err
		}
		ds := before.Dataset

		if clDryRun {
			c, err := cleaning.ResolveConfig(before.Schema, req)
			if err != nil {
				return err
			}
			msgs, err := cleaning.BuildPrompt(ds, mode, c)
			if err != nil {
				return err
			}
			sections := map[string]string{}
			for _, m := range msgs {
				sections[m.Role] = m.Content
			}
			tb := utils.TokenBreakdown(sections)
			fmt.Fprintf(out, "Mode: %s\nRows: %d\nColumns: %d\n", mode, ds.Len(), len(ds.Columns))
			fmt.Fprintf(out, "Estimated prompt tokens: %d (system %d, user %d)\n\n", utils.PromptTokens(sections["system"], sections["user"]), tb["system"], tb["user"])
			fmt.Fprint(out, cleaning.PlanMarkdown(before.Schema, c))
			return nil
		}

		svc, err := newCleaningService(clProvider, clModel)
		if err != nil {
			return err
		}
		req.Schema = &before.Schema
		res, err := svc.Clean(cmd.Context(), ds, req)
		if err != nil {
			return err
		}

		sopt, err := clData.sessionOptions()
		if err != nil {
			return err
		}
		after := session.Build(res.Dataset, sopt)

		target := clOutput
		if target == "" {
			target = filepath.Join(filepath.Dir(localPath(args[0])), res.Dataset.Name)
		}
		var buf bytes.Buffer
		if strings.EqualFold(filepath.Ext(target), ".xlsx") {
			err = parser.EncodeXLSX(&buf, res.Dataset)
		} else {
			err = parser.EncodeCSV(&buf, res.Dataset)
		}
		if err != nil {
			return err
		}
		if err := utils.SafeWriteFile(target, buf.Bytes()); err != nil {
			return fmt.Errorf("write cleaned dataset: %w", err)
		}
		fmt.Fprintf(out, "✓ Cleaned %d rows x %d columns -> %s\n", res.Dataset.Len(), len(res.Dataset.Columns), target)

		if clReport != "" {
			md := strings.TrimSpace(res.Report) + "\n\n" + report.Compare(before, after)
			if strings.EqualFold(filepath.Ext(clReport), ".html") {
				md = report.HTML(md)
			}
			if err := utils.SafeWriteFile(clReport, []byte(md)); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(out, "✓ Wrote report to %s\n", clReport)
		}

		fmt.Fprintf(out, "Model: %s | Tokens: prompt %d, completion %d", svc.Model(), res.Usage.PromptTokens, res.Usage.CompletionTokens)
		if res.CostUSD > 0 {
			fmt.Fprintf(out, " | Est. cost: $%.4f", res.CostUSD)
		}
		fmt.Fprintln(out)
		return nil
	},
}

// localPath returns arg for files and "." for URLs, so default outputs land
// in the working directory.
func localPath(arg string) string {
	if isURL(arg) {
		return "."
	}
	return arg
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	clData.register(cleanCmd)
	cleanCmd.Flags().StringVar(&clMode, "mode", "default", "cleaning mode: default|manual")
	cleanCmd.Flags().StringVarP(&clConfigPath, "config-file", "c", "", "YAML/JSON cleaning configuration (implies --mode manual)")
	cleanCmd.Flags().StringVarP(&clOutput, "output", "o", "", "cleaned dataset path, .csv or .xlsx (default <name>_cleaned.csv next to the input)")
	cleanCmd.Flags().StringVar(&clReport, "report", "", "write the cleaning report (.md or .html)")
	cleanCmd.Flags().StringVar(&clProvider, "provider", "", "AI provider: openrouter|ollama (default from config)")
	cleanCmd.Flags().StringVar(&clModel, "model", "", "model name (default from config)")
	cleanCmd.Flags().BoolVar(&clDryRun, "dry-run", false, "print the plan and prompt size without calling the model")
}
