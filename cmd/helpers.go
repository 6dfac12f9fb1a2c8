package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/cleanloom/internal/ai"
	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/source"
	"github.com/KaramelBytes/cleanloom/internal/utils"
)

// parseDelimiter maps the --delimiter flag to a rune. Empty means sniff.
func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", "tab":
		return '\t', nil
	case "|", "pipe":
		return '|', nil
	}
	return 0, fmt.Errorf("unsupported --delimiter: %s (use ',' | ';' | 'tab' | '|')", s)
}

// dataFlags are the dataset loading flags shared by several commands.
type dataFlags struct {
	sheet      string
	delimiter  string
	maxRows    int
	sampleSize int
	histogram  string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "XLSX: sheet name (default first sheet)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | '|' (sniffed if omitted)")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "maximum rows to load (0 = unlimited)")
	cmd.Flags().IntVar(&f.sampleSize, "sample-size", 0, "rows inspected for type inference (default from config)")
	cmd.Flags().StringVar(&f.histogram, "histogram", "", "histogram column rule: first|variance (default from config)")
}

func (f *dataFlags) parserOptions() (parser.Options, error) {
	d, err := parseDelimiter(f.delimiter)
	if err != nil {
		return parser.Options{}, err
	}
	return parser.Options{MaxRows: f.maxRows, Sheet: f.sheet, Delimiter: d}, nil
}

func (f *dataFlags) sessionOptions() (session.Options, error) {
	opt := session.Options{SampleSize: f.sampleSize}
	if opt.SampleSize <= 0 && cfg != nil {
		opt.SampleSize = cfg.SampleSize
	}
	rule := f.histogram
	if rule == "" && cfg != nil {
		rule = cfg.HistogramColumn
	}
	rep, ok := eda.ParseRepresentative(rule)
	if !ok {
		return session.Options{}, fmt.Errorf("unsupported --histogram: %s (use first|variance)", rule)
	}
	opt.Representative = rep
	return opt, nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// loadDataset reads a local file or downloads an http(s) URL.
func loadDataset(ctx context.Context, arg string, opt parser.Options) (*dataset.Dataset, error) {
	if !isURL(arg) {
		return parser.DecodeFile(arg, opt)
	}
	timeout, maxBytes := 30*time.Second, source.DefaultMaxBytes
	if cfg != nil {
		if cfg.FetchTimeoutSec > 0 {
			timeout = time.Duration(cfg.FetchTimeoutSec) * time.Second
		}
		if cfg.MaxUploadMB > 0 {
			maxBytes = int64(cfg.MaxUploadMB) << 20
		}
	}
	return source.NewFetcher(timeout, maxBytes, opt, logger).Fetch(ctx, arg)
}

// loadSnapshot loads arg and derives its schema and summary.
func loadSnapshot(ctx context.Context, arg string, f *dataFlags) (*session.Snapshot, error) {
	popt, err := f.parserOptions()
	if err != nil {
		return nil, err
	}
	sopt, err := f.sessionOptions()
	if err != nil {
		return nil, err
	}
	ds, err := loadDataset(ctx, arg, popt)
	if err != nil {
		return nil, err
	}
	logger.Debug("dataset loaded", "source", arg, "rows", ds.Len(), "columns", len(ds.Columns))
	return session.New(sopt).Load(ctx, arg, ds)
}

// runtimeConfig builds the AI runtime settings for provider from cfg.
func runtimeConfig(provider string) ai.RuntimeConfig {
	rc := ai.RuntimeConfig{}
	if cfg == nil {
		return rc
	}
	rc.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	rc.RetryMax = cfg.RetryMaxAttempts
	rc.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	rc.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	rc.APIKey = cfg.APIKey
	rc.Host = cfg.OllamaHost
	if p := strings.ToLower(provider); (p == ai.ProviderOllama || p == ai.ProviderLocal) && cfg.OllamaTimeoutSec > 0 {
		rc.HTTPTimeout = time.Duration(cfg.OllamaTimeoutSec) * time.Second
	}
	return rc
}

// newCleaningService resolves provider and model (flags, then config, then
// defaults) and returns a service backed by that runtime.
func newCleaningService(provider, model string) (*cleaning.Service, error) {
	if provider == "" && cfg != nil {
		provider = cfg.DefaultProvider
	}
	if provider == "" {
		provider = ai.ProviderOpenRouter
	}
	if model == "" && cfg != nil {
		model = cfg.DefaultModel
	}
	if model == "" {
		model = ai.DefaultModel(provider)
	}
	rc := runtimeConfig(provider)
	if strings.EqualFold(provider, ai.ProviderOpenRouter) && rc.APIKey == "" {
		return nil, ai.ErrMissingAPIKey
	}
	rt, err := ai.NewRuntime(provider, rc)
	if err != nil {
		return nil, err
	}
	opt := cleaning.Options{Model: model, Logger: logger}
	if cfg != nil {
		opt.MaxTokens = cfg.MaxTokens
		opt.Temperature = cfg.Temperature
		opt.MaxPromptTokens = cfg.MaxPromptTokens
		opt.SampleSize = cfg.SampleSize
	}
	return cleaning.NewService(rt, opt), nil
}

// writeOrPrint writes data to path, or to out when path is empty.
func writeOrPrint(out io.Writer, path string, data []byte, what string) error {
	if path == "" {
		_, err := out.Write(data)
		return err
	}
	if err := utils.SafeWriteFile(utils.ExpandHome(path), data); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	fmt.Fprintf(out, "✓ Wrote %s to %s\n", what, path)
	return nil
}
