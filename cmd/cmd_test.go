package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
)

const metricsCSV = "city,temp,rain\nOslo,4.5,12\nRome,,3\nLima,19.2,\nOslo,5.1,10\n"

// isolate points HOME at a temp dir so no user config leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CLEANLOOM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return home
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestAnalyzeMarkdown(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)

	out := mustRun(t, "analyze", p)
	for _, want := range []string{
		"[DATASET SUMMARY]\nFile: metrics.csv\nRows: 4\n",
		"- temp: numeric (non-null 3, missing 25.0%)",
		"[VALUE DISTRIBUTION]\nColumn: temp\n",
		"[HEAD]\n| city | temp | rain |",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	out = mustRun(t, "analyze", p, "--histogram", "variance", "--head", "0")
	if !strings.Contains(out, "Column: temp\n") {
		t.Fatalf("variance rule should pick temp:\n%s", out)
	}
	if strings.Contains(out, "[HEAD]") {
		t.Fatalf("--head 0 should omit the table")
	}
}

func TestAnalyzeJSONToFile(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)
	target := filepath.Join(home, "out", "summary.json")

	out := mustRun(t, "analyze", p, "--format", "json", "-o", target)
	assert.Contains(t, out, "✓ Wrote analysis to "+target)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	var got struct {
		Rows   int `json:"rows"`
		Schema struct {
			NumericColumns     []string `json:"numericColumns"`
			CategoricalColumns []string `json:"categoricalColumns"`
		} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, 4, got.Rows)
	assert.Equal(t, []string{"temp", "rain"}, got.Schema.NumericColumns)
	assert.Equal(t, []string{"city"}, got.Schema.CategoricalColumns)
}

func TestAnalyzeRejectsBadFlags(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)

	_, err := runCmd(t, "analyze", p, "--format", "pdf")
	assert.ErrorContains(t, err, "unsupported --format")
	_, err = runCmd(t, "analyze", p, "--histogram", "max")
	assert.ErrorContains(t, err, "unsupported --histogram")
	_, err = runCmd(t, "analyze", p, "--delimiter", "#")
	assert.ErrorContains(t, err, "unsupported --delimiter")
	_, err = runCmd(t, "analyze", filepath.Join(home, "missing.csv"))
	assert.Error(t, err)
}

func TestAnalyzeBatchAvoidsOverwrite(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "d1", "metrics.csv"), metricsCSV)
	writeFile(t, filepath.Join(home, "d2", "metrics.csv"), "a,b\n1,x\n")
	outDir := filepath.Join(home, "summaries")

	mustRun(t, "analyze-batch", filepath.Join(home, "d*", "metrics.csv"), "--out-dir", outDir, "--jobs", "2", "--head", "0")

	b1, err := os.ReadFile(filepath.Join(outDir, "metrics.summary.md"))
	if err != nil {
		t.Fatalf("missing first summary: %v", err)
	}
	b2, err := os.ReadFile(filepath.Join(outDir, "metrics__2.summary.md"))
	if err != nil {
		t.Fatalf("missing second summary: %v", err)
	}
	if !strings.Contains(string(b1), "Rows: 4") || !strings.Contains(string(b2), "Rows: 1") {
		t.Fatalf("summaries out of order:\n%s\n---\n%s", b1, b2)
	}
	if strings.Contains(string(b1), "[HEAD]") {
		t.Fatalf("expected no head table with --head 0")
	}

	_, err = runCmd(t, "analyze-batch", filepath.Join(home, "nothing*.csv"))
	assert.ErrorContains(t, err, "no input files matched")
}

func TestAnalyzeBatchStdout(t *testing.T) {
	home := isolate(t)
	a := writeFile(t, filepath.Join(home, "a.csv"), "x\n1\n2\n")
	b := writeFile(t, filepath.Join(home, "b.json"), `[{"y":"u"},{"y":"v"}]`)

	out := mustRun(t, "analyze-batch", b, a, "--quiet")
	ia := strings.Index(out, "File: a.csv")
	ib := strings.Index(out, "File: b.json")
	require.True(t, ia >= 0 && ib >= 0, out)
	assert.Less(t, ia, ib, "results follow sorted input order")
	assert.NotContains(t, out, "Analyzed")
}

func TestPlanWritesEditableConfig(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)
	cfgPath := filepath.Join(home, "clean.yaml")

	out := mustRun(t, "plan", p, "--write", cfgPath)
	assert.Contains(t, out, "## Cleaning plan")
	assert.Contains(t, out, "- `city`: One-hot encoding")

	c, err := cleaning.LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cleaning.ImputeMean, c.Imputation["temp"])
	assert.Equal(t, cleaning.EncodeOneHot, c.Encoding["city"])
	assert.Equal(t, cleaning.ScaleStandard, c.Scaling["rain"])
}

func TestCleanDryRun(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)

	out := mustRun(t, "clean", p, "--dry-run")
	assert.Contains(t, out, "Mode: default\nRows: 4\nColumns: 3\n")
	assert.Contains(t, out, "Estimated prompt tokens: ")
	assert.Contains(t, out, "## Cleaning plan")

	// without a key the real run refuses before any request
	_, err := runCmd(t, "clean", p)
	assert.ErrorContains(t, err, "API key is missing")

	_, err = runCmd(t, "clean", p, "--mode", "manual")
	assert.ErrorContains(t, err, "requires --config-file")
}

func TestCleanHelpNamesOwnConfigFlag(t *testing.T) {
	require.NotNil(t, cleanCmd.Flags().Lookup("config-file"))
	assert.Contains(t, cleanCmd.Example, "--config-file clean.yaml")
	assert.NotContains(t, cleanCmd.Example, "--config clean.yaml")
	assert.NotContains(t, planCmd.Long, "--config\"")
}

// fakeOllama serves /api/chat with reply and records the requested model.
func fakeOllama(t *testing.T, reply string) *string {
	t.Helper()
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        40,
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("CLEANLOOM_OLLAMA_HOST", srv.URL)
	return &gotModel
}

func TestCleanManualUsesSampledSchema(t *testing.T) {
	home := isolate(t)
	// code is numeric in its first two rows only
	p := writeFile(t, filepath.Join(home, "codes.csv"), "code,n
10,1
20,2
A7,3
")
	c := writeFile(t, filepath.Join(home, "clean.yaml"), "scaling:\n  code: standard\n")
	fakeOllama(t, `{"cleanedCsvData":"code,n\n-1,1\n1,2\n","cleaningReport":"# Report"}`)

	_, err := runCmd(t, "clean", p, "-c", c, "--provider", "ollama", "--model", "tiny")
	assert.ErrorIs(t, err, cleaning.ErrInvalidConfig)

	dry := mustRun(t, "clean", p, "-c", c, "--sample-size", "2", "--dry-run")
	assert.Contains(t, dry, "Mode: manual")

	out := mustRun(t, "clean", p, "-c", c, "--sample-size", "2", "--provider", "ollama", "--model", "tiny")
	assert.Contains(t, out, "✓ Cleaned 2 rows x 2 columns")
}

func TestCleanWithOllama(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "metrics.csv"), metricsCSV)

	reply := `{"cleanedCsvData":"temp,rain,city_Oslo\n-1,1,1\n0,0,0\n1,-1,0\n","cleaningReport":"# Cleaning report\n\nImputed temp."}`
	gotModel := fakeOllama(t, reply)

	reportPath := filepath.Join(home, "report.md")
	out := mustRun(t, "clean", p, "--provider", "ollama", "--model", "tiny", "--report", reportPath)
	assert.Equal(t, "tiny", *gotModel)
	assert.Contains(t, out, "✓ Cleaned 3 rows x 3 columns -> "+filepath.Join(home, "metrics_cleaned.csv"))
	assert.Contains(t, out, "Tokens: prompt 120, completion 40")

	cleaned, err := os.ReadFile(filepath.Join(home, "metrics_cleaned.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(cleaned), "temp,rain,city_Oslo\n"))

	rep, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(rep), "# Cleaning report")
	assert.Contains(t, string(rep), "[BEFORE AND AFTER]\nRows: 4 -> 3\n")
	assert.Contains(t, string(rep), "Removed columns: city\n")
}

func TestConfigSetAndShow(t *testing.T) {
	home := isolate(t)

	out := mustRun(t, "config", "set", "sample_size", "50")
	assert.Contains(t, out, "Saved config")
	_, err := os.Stat(filepath.Join(home, ".cleanloom", "config.yaml"))
	require.NoError(t, err)

	mustRun(t, "config", "set", "api_key", "sk-or-1234567890")
	out = mustRun(t, "config", "show")
	assert.Contains(t, out, "sample_size: 50")
	assert.Contains(t, out, "api_key: sk-o********7890")
	assert.NotContains(t, out, "sk-or-1234567890")

	_, err = runCmd(t, "config", "set", "nope", "1")
	assert.ErrorContains(t, err, "unknown config key")
	_, err = runCmd(t, "config", "set", "histogram_column", "median")
	assert.ErrorContains(t, err, "histogram_column")

	out = mustRun(t, "config", "path")
	assert.Equal(t, filepath.Join(home, ".cleanloom", "config.yaml")+"\n", out)
}

func TestModelsList(t *testing.T) {
	isolate(t)
	out := mustRun(t, "models", "list")
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "openai/gpt-4o-mini")

	out = mustRun(t, "models", "list", "--provider", "ollama")
	assert.Contains(t, out, "llama3.1:8b-instruct")
	assert.NotContains(t, out, "openai/gpt-4o-mini")
}

func TestModelsSync(t *testing.T) {
	home := isolate(t)
	p := writeFile(t, filepath.Join(home, "models.json"),
		`{"acme/tiny": {"provider": "openrouter", "context_tokens": 4096, "input_per_k": 0.1, "output_per_k": 0.2}}`)
	out := mustRun(t, "models", "sync", "--file", p)
	assert.Contains(t, out, "Merged 1 models")
	assert.Contains(t, out, "acme/tiny")
}
