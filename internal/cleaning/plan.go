package cleaning

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/cleanloom/internal/schema"
)

var imputationText = map[Imputation]string{
	ImputeRemove:   "Remove rows with missing values",
	ImputeMean:     "Fill with the column mean",
	ImputeMedian:   "Fill with the column median",
	ImputeMode:     "Fill with the most frequent value (mode)",
	ImputeConstant: "Fill with a constant value",
}

var encodingText = map[Encoding]string{
	EncodeOneHot: "One-hot encoding",
	EncodeLabel:  "Label encoding",
}

var scalingText = map[Scaling]string{
	ScaleStandard: "Standardize to mean 0 and standard deviation 1",
	ScaleMinMax:   "Rescale to the range [0, 1]",
}

// PlanMarkdown renders the cleaning steps cfg would apply to a dataset with
// schema s, one section per step, listing affected columns in schema order.
func PlanMarkdown(s schema.DatasetSchema, cfg Config) string {
	var b strings.Builder
	b.WriteString("## Cleaning plan\n\n")

	dropped := map[string]bool{}
	for _, c := range cfg.ColumnsToDrop {
		dropped[c] = true
	}
	if len(dropped) > 0 {
		b.WriteString("### Drop columns\n\n")
		for _, c := range s.AllColumns {
			if dropped[c] {
				fmt.Fprintf(&b, "- `%s`\n", c)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("### Handle missing values\n\n")
	var lines []string
	for _, mc := range s.ColumnsWithMissingValues {
		if dropped[mc.Name] {
			continue
		}
		if v, ok := cfg.Imputation[mc.Name]; ok {
			lines = append(lines, fmt.Sprintf("- `%s` (%s): %s", mc.Name, mc.Type, imputationText[v]))
		} else {
			lines = append(lines, fmt.Sprintf("- `%s` (%s): left as is", mc.Name, mc.Type))
		}
	}
	writeLines(&b, lines, "No missing values were detected.")

	b.WriteString("### Outliers\n\n")
	if cfg.OutlierHandling.Method == OutliersIQR {
		b.WriteString("- Remove rows outside 1.5 x IQR of any numeric column\n\n")
	} else {
		b.WriteString("- No outlier handling\n\n")
	}

	b.WriteString("### Encode categorical data\n\n")
	lines = lines[:0]
	for _, c := range s.CategoricalColumns {
		if v, ok := cfg.Encoding[c]; ok && !dropped[c] && v != EncodeNone {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", c, encodingText[v]))
		}
	}
	writeLines(&b, lines, "No categorical columns to encode.")

	b.WriteString("### Scale numerical data\n\n")
	lines = lines[:0]
	for _, c := range s.NumericColumns {
		if v, ok := cfg.Scaling[c]; ok && !dropped[c] && v != ScaleNone {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", c, scalingText[v]))
		}
	}
	writeLines(&b, lines, "No numeric columns to scale.")
	return b.String()
}

func writeLines(b *strings.Builder, lines []string, empty string) {
	if len(lines) == 0 {
		b.WriteString("- " + empty + "\n\n")
		return
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
}
