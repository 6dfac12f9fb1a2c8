package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/cleanloom/internal/utils"
)

var (
	abData     dataFlags
	abFormat   string
	abOutDir   string
	abHeadRows int
	abJobs     int
	abQuiet    bool
)

var analyzeBatchCmd = &cobra.Command{
	Use:   "analyze-batch <files or globs...>",
	Short: "Analyze many datasets concurrently",
	Example: `  cleanloom analyze-batch 'data/*.csv' --out-dir summaries
  cleanloom analyze-batch a.xlsx b.json --jobs 2 --format json --out-dir out`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		if err := checkFormat(abFormat); err != nil {
			return err
		}
		jobs := abJobs
		if jobs <= 0 {
			jobs = runtime.NumCPU()
		}

		out := cmd.OutOrStdout()
		results := make([][]byte, len(files))
		var mu sync.Mutex
		done := 0

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(jobs)
		for i, path := range files {
			g.Go(func() error {
				snap, err := loadSnapshot(ctx, path, &abData)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				b, err := renderSnapshot(snap, abFormat, abHeadRows)
				if err != nil {
					return err
				}
				results[i] = b

				mu.Lock()
				defer mu.Unlock()
				done++
				if !abQuiet {
					fmt.Fprintf(out, "[%d/%d] Analyzed %s (%d rows)\n", done, len(files), filepath.Base(path), snap.Dataset.Len())
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if abOutDir == "" {
			for i, b := range results {
				if !abQuiet {
					fmt.Fprintf(out, "\n==> %s <==\n", files[i])
				}
				_, _ = out.Write(b)
			}
			return nil
		}
		ext := ".summary.md"
		switch abFormat {
		case "json":
			ext = ".summary.json"
		case "html":
			ext = ".summary.html"
		}
		for i, b := range results {
			target := uniquePath(abOutDir, baseName(files[i]), ext)
			if err := utils.SafeWriteFile(target, b); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			if !abQuiet {
				fmt.Fprintf(out, "✓ Wrote %s\n", target)
			}
		}
		return nil
	},
}

// expandInputs resolves globs, keeps literal paths that exist, and drops duplicates.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// uniquePath returns dir/base+ext, or dir/base__N+ext when that already exists.
func uniquePath(dir, base, ext string) string {
	p := filepath.Join(dir, base+ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		p = filepath.Join(dir, fmt.Sprintf("%s__%d%s", base, n, ext))
	}
}

func init() {
	rootCmd.AddCommand(analyzeBatchCmd)
	abData.register(analyzeBatchCmd)
	analyzeBatchCmd.Flags().StringVarP(&abFormat, "format", "f", "md", "output format: md|html|json")
	analyzeBatchCmd.Flags().StringVar(&abOutDir, "out-dir", "", "directory for <name>.summary.<ext> files (default stdout)")
	analyzeBatchCmd.Flags().IntVar(&abHeadRows, "head", 5, "number of leading rows to include in markdown output")
	analyzeBatchCmd.Flags().IntVarP(&abJobs, "jobs", "j", 0, "concurrent analyses (default number of CPUs)")
	analyzeBatchCmd.Flags().BoolVar(&abQuiet, "quiet", false, "suppress progress and non-essential output")
}
