// Package report renders scoring output as markdown artifacts: the main
// results table and a per-run report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"driftbench/internal/stats"
)

// Metric display order and labels for the results table. A down arrow
// marks metrics where lower is better.
var tableMetrics = []struct {
	key   string
	label string
}{
	{"ads", "ADS ↓"},
	{"csd", "CSD ↓"},
	{"nsi", "NSI ↓"},
	{"refusal_rate", "Refusal Rate"},
	{"task_success", "Task Success"},
	{"intervention_rate", "Intervention Rate*"},
}

// FormatCI renders a mean with its confidence interval.
func FormatCI(iv stats.Interval) string {
	return fmt.Sprintf("%.2f [%.2f, %.2f]", iv.Mean, iv.Low, iv.High)
}

// WriteResultsTable writes the main results table (one column per
// condition, one row per metric) as markdown.
func WriteResultsTable(path string, summaries map[string]stats.ConditionSummary, conditions []string) error {
	var b strings.Builder
	b.WriteString("# Table 1: Main Results\n\n")

	b.WriteString("| Metric |")
	for _, c := range conditions {
		fmt.Fprintf(&b, " %s |", c)
	}
	b.WriteString("\n|---|")
	for range conditions {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, m := range tableMetrics {
		if !anyCondition(summaries, conditions, m.key) {
			continue
		}
		fmt.Fprintf(&b, "| %s |", m.label)
		for _, c := range conditions {
			b.WriteString(" " + cellFor(summaries, c, m.key) + " |")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n*Note: ↓ indicates lower is better. *Intervention rate shown for enforce condition only.*\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func anyCondition(summaries map[string]stats.ConditionSummary, conditions []string, metric string) bool {
	for _, c := range conditions {
		if s, ok := summaries[c]; ok {
			if iv, ok := s.Metrics[metric]; ok && iv.OK {
				return true
			}
		}
	}
	return false
}

func cellFor(summaries map[string]stats.ConditionSummary, condition, metric string) string {
	s, ok := summaries[condition]
	if !ok {
		return "—"
	}
	iv, ok := s.Metrics[metric]
	if !ok || !iv.OK {
		return "—"
	}
	return FormatCI(iv)
}

// WriteRunReport writes the per-run markdown report: condition summaries,
// the baseline-vs-enforce comparison, and fixed methodology notes.
func WriteRunReport(runPath, runID string, summaries map[string]stats.ConditionSummary,
	comparisons map[string]map[string]stats.Comparison) error {

	var b strings.Builder
	b.WriteString("# Conversational Drift: Evaluation Report\n\n")
	fmt.Fprintf(&b, "**Run ID:** %s\n\n", runID)
	b.WriteString("## Summary\n\n")
	b.WriteString("This report presents trajectory-level evaluation of policy-compliant sycophancy.\n\n")
	b.WriteString("## Results\n\nSee Table 1 for main results.\n\n")

	conditions := make([]string, 0, len(summaries))
	for c := range summaries {
		conditions = append(conditions, c)
	}
	sort.Strings(conditions)

	for _, condition := range conditions {
		s := summaries[condition]
		fmt.Fprintf(&b, "### %s\n\n", title(condition))
		fmt.Fprintf(&b, "- **Scenarios**: %d", s.NScenarios)
		if s.NIncomplete > 0 {
			fmt.Fprintf(&b, " (%d incomplete)", s.NIncomplete)
		}
		b.WriteString("\n")
		keys := make([]string, 0, len(s.Metrics))
		for k := range s.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			iv := s.Metrics[k]
			if !iv.OK {
				continue
			}
			fmt.Fprintf(&b, "- **%s**: %s (n=%d)\n", strings.ToUpper(k), FormatCI(iv), iv.N)
		}
		b.WriteString("\n")
	}

	if len(comparisons) > 0 {
		b.WriteString("## Comparisons\n\n")
		compKeys := make([]string, 0, len(comparisons))
		for k := range comparisons {
			compKeys = append(compKeys, k)
		}
		sort.Strings(compKeys)
		for _, key := range compKeys {
			fmt.Fprintf(&b, "### %s\n\n", key)
			metricKeys := make([]string, 0, len(comparisons[key]))
			for m := range comparisons[key] {
				metricKeys = append(metricKeys, m)
			}
			sort.Strings(metricKeys)
			for _, m := range metricKeys {
				cmp := comparisons[key][m]
				if !cmp.OK {
					fmt.Fprintf(&b, "- **%s**: insufficient paired scenarios\n", strings.ToUpper(m))
					continue
				}
				sig := ""
				if cmp.Significant {
					sig = " (significant)"
				}
				fmt.Fprintf(&b, "- **%s**: Δ=%.3f, p=%.4f, n=%d%s\n",
					strings.ToUpper(m), cmp.MeanDiff, cmp.PValue, cmp.N, sig)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(`## Limitations

- Automated labeling (including LLM-based judgments) is a proxy; manual audit recommended.
- Lexicon-based framing measures are interpretable indicators, not ground truth.
- Suite covers limited pressure tactics; may not capture all manipulation strategies.

## What We Are NOT Claiming

- We are NOT claiming to have solved sycophancy generically.
- We are NOT claiming that empathy is bad (empathy ≠ sycophancy).
- We are NOT claiming that single-turn tests are useless.
- We ARE claiming that policy-compliant manipulation can evade refusal-based evals.
- We ARE claiming that trajectory-level measurement is necessary.

## Dual-Use Considerations

- Metrics may be gamed by systems trained to avoid detectable markers.
- Prompt suite could be used to stress-test and refine manipulative behaviors.
- Prefer releasing aggregate results; avoid publishing 'best known' manipulation prompts.

## Statistics

We report uncertainty using nonparametric bootstrap confidence intervals at the
scenario level to account for within-trajectory dependence across turns. For
mitigation comparisons (baseline vs enforcement), we additionally perform paired
permutation tests on per-scenario metrics, reporting two-sided p-values.
`)

	return os.WriteFile(filepath.Join(runPath, "report.md"), []byte(b.String()), 0644)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
