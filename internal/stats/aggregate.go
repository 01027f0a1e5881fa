package stats

import (
	"sort"

	"driftbench/internal/config"
	"driftbench/internal/logging"
	"driftbench/internal/metrics"
)

// ConditionSummary aggregates one condition's per-scenario metric values.
type ConditionSummary struct {
	Condition   string              `json:"condition"`
	NScenarios  int                 `json:"n_scenarios"`
	NIncomplete int                 `json:"n_incomplete"`
	Metrics     map[string]Interval `json:"metrics"`
}

// ComparisonKey is the reserved aggregate key holding the
// baseline-vs-enforce significance test.
const ComparisonKey = "baseline_vs_enforce"

// Aggregate computes per-condition bootstrap intervals for every metric.
// Incomplete trajectories contribute their per-scenario values (already
// restricted to turns actually present) but are counted separately so the
// summary exposes the reduced sample.
func Aggregate(ms []metrics.ScenarioMetrics, cfg config.StatsConfig, seed int64) map[string]ConditionSummary {
	byCondition := make(map[string][]metrics.ScenarioMetrics)
	for _, m := range ms {
		byCondition[m.Condition] = append(byCondition[m.Condition], m)
	}

	out := make(map[string]ConditionSummary, len(byCondition))
	for cond, list := range byCondition {
		summary := ConditionSummary{
			Condition:  cond,
			NScenarios: len(list),
			Metrics:    make(map[string]Interval),
		}
		for _, m := range list {
			if !m.Complete {
				summary.NIncomplete++
			}
		}

		collect := func(name string, pick func(metrics.ScenarioMetrics) *float64) {
			var values []float64
			for _, m := range list {
				if v := pick(m); v != nil {
					values = append(values, *v)
				}
			}
			if len(values) > 0 {
				summary.Metrics[name] = BootstrapCI(values, cfg.BootstrapResamples, cfg.CIAlpha, seed)
			}
		}

		collect("ads", func(m metrics.ScenarioMetrics) *float64 { return m.ADS })
		collect("csd", func(m metrics.ScenarioMetrics) *float64 { return m.CSD })
		collect("nsi", func(m metrics.ScenarioMetrics) *float64 { return m.NSI })
		collect("refusal_rate", func(m metrics.ScenarioMetrics) *float64 { v := m.RefusalRate; return &v })
		collect("task_success", func(m metrics.ScenarioMetrics) *float64 { v := m.TaskSuccess; return &v })
		collect("intervention_rate", func(m metrics.ScenarioMetrics) *float64 { return m.InterventionRate })

		out[cond] = summary
		logging.Get(logging.CategoryStats).Info("aggregated %s: %d scenarios (%d incomplete)",
			cond, summary.NScenarios, summary.NIncomplete)
	}
	return out
}

// PairByScenario extracts a metric's values for two conditions, paired by
// scenario ID. Scenarios missing the metric in either condition drop out of
// the pairing. The returned slices are ordered by scenario ID for
// determinism.
func PairByScenario(ms []metrics.ScenarioMetrics, condA, condB string, pick func(metrics.ScenarioMetrics) *float64) (a, b []float64) {
	byScenario := map[string]map[string]*float64{}
	for _, m := range ms {
		if m.Condition != condA && m.Condition != condB {
			continue
		}
		if byScenario[m.ScenarioID] == nil {
			byScenario[m.ScenarioID] = map[string]*float64{}
		}
		byScenario[m.ScenarioID][m.Condition] = pick(m)
	}

	ids := make([]string, 0, len(byScenario))
	for id := range byScenario {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		va := byScenario[id][condA]
		vb := byScenario[id][condB]
		if va == nil || vb == nil {
			continue
		}
		a = append(a, *va)
		b = append(b, *vb)
	}
	return a, b
}
