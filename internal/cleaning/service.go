package cleaning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/KaramelBytes/cleanloom/internal/ai"
	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/report"
	"github.com/KaramelBytes/cleanloom/internal/schema"
	"github.com/KaramelBytes/cleanloom/internal/utils"
)

var (
	// ErrPromptTooLarge is returned before any request when the dataset and
	// instructions exceed the prompt budget.
	ErrPromptTooLarge = errors.New("dataset too large for the cleaning prompt")
	// ErrMalformedResponse is returned when the reply lacks the expected fields.
	ErrMalformedResponse = errors.New("cleaning service returned a malformed response")
	// ErrInvalidConfig wraps validation failures of a manual configuration.
	ErrInvalidConfig = errors.New("invalid cleaning configuration")
)

// Request asks for one cleaning run.
type Request struct {
	Mode   Mode
	Config Config // used in manual mode
	// Schema is the schema the caller already derived for the dataset. When
	// nil it is inferred with Options.SampleSize.
	Schema *schema.DatasetSchema
}

// Result is the cleaned dataset plus the service's report.
type Result struct {
	Dataset      *dataset.Dataset `json:"-"`
	Mode         Mode             `json:"mode"`
	Config       Config           `json:"config"`
	Report       string           `json:"report"`
	ReportHTML   string           `json:"reportHtml"`
	Usage        ai.Usage         `json:"usage"`
	CostUSD      float64          `json:"costUsd,omitempty"`
	PromptTokens int              `json:"promptTokens"`
	RequestID    string           `json:"requestId,omitempty"`
}

// Options configures a Service.
type Options struct {
	Model           string
	MaxTokens       int
	Temperature     float64
	MaxPromptTokens int
	SampleSize      int
	Logger          *slog.Logger
}

// Service delegates cleaning to a chat runtime.
type Service struct {
	rt  ai.Runtime
	opt Options
	log *slog.Logger
}

// NewService returns a Service using rt.
func NewService(rt ai.Runtime, opt Options) *Service {
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Service{rt: rt, opt: opt, log: lg}
}

// Model returns the model the service requests.
func (s *Service) Model() string { return s.opt.Model }

const systemPrompt = `You are an expert data scientist who cleans tabular datasets.
You receive a dataset as CSV and a cleaning configuration as JSON.
Apply exactly the configured steps: drop the listed columns, impute missing values per column,
handle outliers with the given method, encode categorical columns and scale numeric columns.
Reply with a single JSON object and nothing else, with two string fields:
"cleanedCsvData": the cleaned dataset as CSV with a header row,
"cleaningReport": a markdown report with a title, an introduction, the transformations applied
per column with their effect on the data, and a short summary.`

// BuildPrompt returns the chat messages for a run. Exposed for dry runs.
func BuildPrompt(ds *dataset.Dataset, mode Mode, cfg Config) ([]ai.Message, error) {
	var csvBuf bytes.Buffer
	if err := parser.EncodeCSV(&csvBuf, ds); err != nil {
		return nil, err
	}
	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Cleaning mode: %s\n\n", mode)
	fmt.Fprintf(&user, "Configuration:\n%s\n\n", cfgJSON)
	fmt.Fprintf(&user, "Dataset (%d rows, %d columns):\n%s", ds.Len(), len(ds.Columns), csvBuf.String())
	return []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}, nil
}

// ResolveConfig picks the configuration for req against the dataset schema.
func ResolveConfig(sc schema.DatasetSchema, req Request) (Config, error) {
	if req.Mode == ModeManual {
		cfg := req.Config
		cfg.Normalize()
		if err := cfg.Validate(sc); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return cfg, nil
	}
	return DefaultConfig(sc), nil
}

// Clean sends ds with its configuration to the runtime and decodes the reply.
func (s *Service) Clean(ctx context.Context, ds *dataset.Dataset, req Request) (*Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode
	var sc schema.DatasetSchema
	if req.Schema != nil {
		sc = *req.Schema
	} else {
		sc = schema.InferWithOptions(ds.Rows, ds.Columns, schema.Options{SampleSize: s.opt.SampleSize})
	}
	cfg, err := ResolveConfig(sc, req)
	if err != nil {
		return nil, err
	}

	msgs, err := BuildPrompt(ds, mode, cfg)
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = m.Content
	}
	promptTokens := utils.PromptTokens(contents...)
	if err := s.checkBudget(promptTokens); err != nil {
		return nil, err
	}

	s.log.Info("requesting cleaning", "model", s.opt.Model, "mode", mode, "rows", ds.Len(), "prompt_tokens", promptTokens)
	resp, err := s.rt.Generate(ctx, ai.GenerateRequest{
		Model:       s.opt.Model,
		Messages:    msgs,
		MaxTokens:   s.opt.MaxTokens,
		Temperature: s.opt.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("cleaning request: %w", err)
	}

	cleanedCSV, md, err := ParseResponse(resp.Content())
	if err != nil {
		return nil, err
	}
	cleaned, err := parser.Decode("cleaned.csv", "text/csv", strings.NewReader(cleanedCSV), parser.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: cleaned csv: %w", ErrMalformedResponse, err)
	}
	cleaned.Name = cleanedName(ds.Name)

	out := &Result{
		Dataset:      cleaned,
		Mode:         mode,
		Config:       cfg,
		Report:       md,
		ReportHTML:   report.HTML(md),
		Usage:        resp.Usage,
		PromptTokens: promptTokens,
		RequestID:    resp.RequestID,
	}
	if cost, ok := ai.EstimateCostUSD(s.opt.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); ok {
		out.CostUSD = cost
	}
	s.log.Info("cleaning finished", "rows", cleaned.Len(), "columns", len(cleaned.Columns), "request_id", resp.RequestID)
	return out, nil
}

func (s *Service) checkBudget(promptTokens int) error {
	if s.opt.MaxPromptTokens > 0 && promptTokens > s.opt.MaxPromptTokens {
		return fmt.Errorf("%w: ~%d tokens exceeds max_prompt_tokens %d", ErrPromptTooLarge, promptTokens, s.opt.MaxPromptTokens)
	}
	if mi, ok := ai.LookupModel(s.opt.Model); ok && mi.ContextTokens > 0 {
		if promptTokens+s.opt.MaxTokens > mi.ContextTokens {
			return fmt.Errorf("%w: ~%d prompt + %d completion tokens exceeds %s context of %d",
				ErrPromptTooLarge, promptTokens, s.opt.MaxTokens, mi.Name, mi.ContextTokens)
		}
	}
	return nil
}

// ParseResponse extracts the cleaned CSV and markdown report from a reply.
// Surrounding prose and markdown code fences are tolerated.
func ParseResponse(content string) (csvData, reportMD string, err error) {
	body := extractJSONObject(content)
	if body == "" || !gjson.Valid(body) {
		return "", "", fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	csvField := gjson.Get(body, "cleanedCsvData")
	if csvField.Type != gjson.String || strings.TrimSpace(csvField.String()) == "" {
		return "", "", fmt.Errorf("%w: missing cleanedCsvData", ErrMalformedResponse)
	}
	return csvField.String(), gjson.Get(body, "cleaningReport").String(), nil
}

// extractJSONObject strips code fences and returns the outermost {...} span.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func cleanedName(name string) string {
	if name == "" {
		return "cleaned.csv"
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name + "_cleaned.csv"
}
