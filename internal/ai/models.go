package ai

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ModelInfo holds context size and pricing used for prompt budgeting and
// cost hints. Prices are illustrative.
type ModelInfo struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	ContextTokens int     `json:"context_tokens"`
	InputPerK     float64 `json:"input_per_k"`  // USD per 1K input tokens
	OutputPerK    float64 `json:"output_per_k"` // USD per 1K output tokens
}

var (
	catalogMu sync.RWMutex
	models    = map[string]ModelInfo{}
)

func init() {
	for _, m := range []ModelInfo{
		{"openai/gpt-4o-mini", ProviderOpenRouter, 128000, 0.0006, 0.0024},
		{"openai/gpt-4o", ProviderOpenRouter, 128000, 0.005, 0.015},
		{"openai/gpt-4.1-mini", ProviderOpenRouter, 128000, 0.0005, 0.0015},
		{"anthropic/claude-3.5-sonnet", ProviderOpenRouter, 200000, 0.003, 0.015},
		{"anthropic/claude-3-haiku", ProviderOpenRouter, 200000, 0.00025, 0.00125},
		{"google/gemini-1.5-flash", ProviderOpenRouter, 1000000, 0.0002, 0.0008},
		{"google/gemini-1.5-pro", ProviderOpenRouter, 1000000, 0.00125, 0.005},
		{"deepseek/deepseek-r1:free", ProviderOpenRouter, 128000, 0, 0},
		{"meta-llama/llama-3.1-70b-instruct", ProviderOpenRouter, 131072, 0, 0},
		{"llama3.1:8b-instruct", ProviderOllama, 8192, 0, 0},
		{"llama3:latest", ProviderOllama, 8192, 0, 0},
		{"mistral-nemo:latest", ProviderOllama, 8192, 0, 0},
		{"phi3:mini-128k-instruct", ProviderOllama, 128000, 0, 0},
	} {
		models[m.Name] = m
	}
}

// DefaultModel is used when neither flags nor config name a model.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOllama, ProviderLocal:
		return "llama3.1:8b-instruct"
	default:
		return "openai/gpt-4o-mini"
	}
}

// LookupModel returns ModelInfo and ok flag.
func LookupModel(name string) (ModelInfo, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	mi, ok := models[name]
	return mi, ok
}

// EstimateCostUSD estimates total cost for the given token counts.
// Unknown models return 0 and ok=false.
func EstimateCostUSD(model string, promptTokens, completionTokens int) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	return float64(promptTokens)/1000*mi.InputPerK + float64(completionTokens)/1000*mi.OutputPerK, true
}

// ModelsFor lists catalog entries for a provider sorted by name. An empty
// provider lists everything.
func ModelsFor(provider string) []ModelInfo {
	if provider == ProviderLocal {
		provider = ProviderOllama
	}
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	var out []ModelInfo
	for _, m := range models {
		if provider == "" || strings.EqualFold(m.Provider, provider) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadCatalogFromJSON reads a JSON object of name -> ModelInfo.
func LoadCatalogFromJSON(path string) (map[string]ModelInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]ModelInfo
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for k, v := range m {
		if v.Name == "" {
			v.Name = k
			m[k] = v
		}
	}
	return m, nil
}

// MergeCatalog merges/overrides entries in the in-memory catalog.
func MergeCatalog(m map[string]ModelInfo) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	for k, v := range m {
		models[k] = v
	}
}
