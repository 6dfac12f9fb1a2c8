package cleaning

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/cleanloom/internal/schema"
	"github.com/KaramelBytes/cleanloom/internal/utils"
)

// Mode selects between the built-in plan and a user-supplied configuration.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeManual  Mode = "manual"
)

// ParseMode accepts "default" (or empty) and "manual".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("unknown cleaning mode %q (want default or manual)", s)
}

type Imputation string

const (
	ImputeRemove   Imputation = "remove"
	ImputeMean     Imputation = "mean"
	ImputeMedian   Imputation = "median"
	ImputeMode     Imputation = "mode"
	ImputeConstant Imputation = "constant"
)

type OutlierMethod string

const (
	OutliersNone OutlierMethod = "none"
	OutliersIQR  OutlierMethod = "iqr"
)

type Encoding string

const (
	EncodeNone   Encoding = "none"
	EncodeOneHot Encoding = "onehot"
	EncodeLabel  Encoding = "label"
)

type Scaling string

const (
	ScaleNone     Scaling = "none"
	ScaleStandard Scaling = "standard"
	ScaleMinMax   Scaling = "minmax"
)

// OutlierHandling wraps the dataset-wide outlier method.
type OutlierHandling struct {
	Method OutlierMethod `json:"method" yaml:"method"`
}

// Config is the manual cleaning configuration sent to the cleaning service.
type Config struct {
	ColumnsToDrop   []string              `json:"columns_to_drop" yaml:"columns_to_drop"`
	Imputation      map[string]Imputation `json:"imputation" yaml:"imputation"`
	OutlierHandling OutlierHandling       `json:"outlier_handling" yaml:"outlier_handling"`
	Encoding        map[string]Encoding   `json:"encoding" yaml:"encoding"`
	Scaling         map[string]Scaling    `json:"scaling" yaml:"scaling"`
}

// DefaultConfig is the plan applied in default mode: mean or mode imputation
// for columns with missing values, one-hot encoding for categorical columns,
// standard scaling for numeric columns and no outlier handling.
func DefaultConfig(s schema.DatasetSchema) Config {
	c := Config{
		ColumnsToDrop:   []string{},
		Imputation:      map[string]Imputation{},
		OutlierHandling: OutlierHandling{Method: OutliersNone},
		Encoding:        map[string]Encoding{},
		Scaling:         map[string]Scaling{},
	}
	for _, mc := range s.ColumnsWithMissingValues {
		if mc.Type == schema.TypeNumeric {
			c.Imputation[mc.Name] = ImputeMean
		} else {
			c.Imputation[mc.Name] = ImputeMode
		}
	}
	for _, col := range s.CategoricalColumns {
		c.Encoding[col] = EncodeOneHot
	}
	for _, col := range s.NumericColumns {
		c.Scaling[col] = ScaleStandard
	}
	return c
}

// Validate reports every problem of c against s.
func (c Config) Validate(s schema.DatasetSchema) error {
	var errs []error
	known := func(section, col string) bool {
		if !s.Has(col) {
			errs = append(errs, fmt.Errorf("%s: unknown column %q", section, col))
			return false
		}
		return true
	}

	dropped := map[string]bool{}
	for _, col := range c.ColumnsToDrop {
		if known("columns_to_drop", col) {
			dropped[col] = true
		}
	}
	if len(s.AllColumns) > 0 && len(dropped) == len(s.AllColumns) {
		errs = append(errs, errors.New("columns_to_drop: cannot drop every column"))
	}

	for _, col := range sortedKeys(c.Imputation) {
		v := c.Imputation[col]
		if !known("imputation", col) {
			continue
		}
		typ, _ := s.TypeOf(col)
		switch v {
		case ImputeRemove, ImputeMode, ImputeConstant:
		case ImputeMean, ImputeMedian:
			if typ != schema.TypeNumeric {
				errs = append(errs, fmt.Errorf("imputation: %s needs a numeric column, %q is %s", v, col, typ))
			}
		default:
			errs = append(errs, fmt.Errorf("imputation: unknown strategy %q for %q", v, col))
		}
	}

	switch c.OutlierHandling.Method {
	case "", OutliersNone, OutliersIQR:
	default:
		errs = append(errs, fmt.Errorf("outlier_handling: unknown method %q", c.OutlierHandling.Method))
	}

	for _, col := range sortedKeys(c.Encoding) {
		v := c.Encoding[col]
		if !known("encoding", col) {
			continue
		}
		switch v {
		case EncodeNone, EncodeOneHot, EncodeLabel:
		default:
			errs = append(errs, fmt.Errorf("encoding: unknown method %q for %q", v, col))
			continue
		}
		if typ, _ := s.TypeOf(col); typ != schema.TypeCategorical && v != EncodeNone {
			errs = append(errs, fmt.Errorf("encoding: %q is not categorical", col))
		}
	}

	for _, col := range sortedKeys(c.Scaling) {
		v := c.Scaling[col]
		if !known("scaling", col) {
			continue
		}
		switch v {
		case ScaleNone, ScaleStandard, ScaleMinMax:
		default:
			errs = append(errs, fmt.Errorf("scaling: unknown method %q for %q", v, col))
			continue
		}
		if typ, _ := s.TypeOf(col); typ != schema.TypeNumeric && v != ScaleNone {
			errs = append(errs, fmt.Errorf("scaling: %q is not numeric", col))
		}
	}
	return errors.Join(errs...)
}

// Normalize fills nil maps and an empty outlier method so the configuration
// serializes with every section present.
func (c *Config) Normalize() {
	if c.ColumnsToDrop == nil {
		c.ColumnsToDrop = []string{}
	}
	if c.Imputation == nil {
		c.Imputation = map[string]Imputation{}
	}
	if c.Encoding == nil {
		c.Encoding = map[string]Encoding{}
	}
	if c.Scaling == nil {
		c.Scaling = map[string]Scaling{}
	}
	if c.OutlierHandling.Method == "" {
		c.OutlierHandling.Method = OutliersNone
	}
}

// LoadConfig reads a YAML (or JSON, which YAML accepts) configuration file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read cleaning config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse cleaning config %s: %w", path, err)
	}
	c.Normalize()
	return c, nil
}

// SaveConfig writes c as YAML.
func SaveConfig(path string, c Config) error {
	c.Normalize()
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cleaning config: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
