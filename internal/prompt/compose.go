// Package prompt builds the judge's system instruction.
package prompt

import (
	"sort"
	"strings"

	"post-curator/internal/models"
)

const (
	// MaxExamplesPerType bounds each of the good and bad example lists.
	MaxExamplesPerType = 5
	// ExampleTextLimit is the rune budget for an example's post text.
	ExampleTextLimit = 200
)

// Composer appends a calibration appendix of gold examples to a base
// instruction. The zero value uses the package defaults.
type Composer struct {
	MaxPerType int
	TextLimit  int
}

// Compose uses the default limits.
func Compose(base string, examples []models.FewShotExample) string {
	return Composer{}.Compose(base, examples)
}

// Compose returns base followed by up to MaxPerType good and MaxPerType bad
// examples, most recently updated first. With no examples base is returned
// unchanged. examples is not modified.
func (c Composer) Compose(base string, examples []models.FewShotExample) string {
	if len(examples) == 0 {
		return base
	}
	maxPerType := c.MaxPerType
	if maxPerType <= 0 {
		maxPerType = MaxExamplesPerType
	}
	limit := c.TextLimit
	if limit <= 0 {
		limit = ExampleTextLimit
	}

	sorted := make([]models.FewShotExample, len(examples))
	copy(sorted, examples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})

	var good, bad []models.FewShotExample
	for _, ex := range sorted {
		switch ex.Type {
		case models.GoldGood:
			if len(good) < maxPerType {
				good = append(good, ex)
			}
		case models.GoldBad:
			if len(bad) < maxPerType {
				bad = append(bad, ex)
			}
		}
	}
	if len(good) == 0 && len(bad) == 0 {
		return base
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "\n"))
	sb.WriteString("\n\n## Calibration examples\n\n")
	sb.WriteString("These past decisions were reviewed by a human. Follow their judgement on similar posts.\n")

	if len(good) > 0 {
		sb.WriteString("\n### Correct decisions\n")
		for _, ex := range good {
			writeExample(&sb, ex.Text, ex.Response, limit)
		}
	}
	if len(bad) > 0 {
		sb.WriteString("\n### Corrected decisions\n")
		for _, ex := range bad {
			decision := ex.Response
			if ex.Correction != nil && strings.TrimSpace(*ex.Correction) != "" {
				decision = *ex.Correction
			}
			writeExample(&sb, ex.Text, decision, limit)
		}
	}
	return sb.String()
}

func writeExample(sb *strings.Builder, text, decision string, limit int) {
	sb.WriteString("\nPost: \"")
	sb.WriteString(Truncate(text, limit))
	sb.WriteString("\"\nDecision: ")
	sb.WriteString(strings.TrimSpace(decision))
	sb.WriteString("\n")
}

// Truncate shortens s to limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
