package metrics

import "fmt"

// AlertThresholds configure the alert summary checks.
type AlertThresholds struct {
	MinSuccessRate map[string]float64 // per category, 0..1
	MaxP95MS       map[string]float64 // per category
}

// DefaultThresholds covers the common categories with sane limits.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		MinSuccessRate: map[string]float64{
			EventLLMCall:  0.90,
			EventToolCall: 0.80,
			EventCronRun:  0.90,
		},
		MaxP95MS: map[string]float64{
			EventLLMCall:  60000,
			EventToolCall: 30000,
		},
	}
}

// AlertCheck is one evaluated threshold.
type AlertCheck struct {
	Name   string  `json:"name"`
	Status string  `json:"status"` // ok, warn, na
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
	Detail string  `json:"detail,omitempty"`
}

// AlertSummary is the rolled-up result of all checks.
type AlertSummary struct {
	Overall string       `json:"overall"` // ok, warn, na
	Checks  []AlertCheck `json:"checks"`
}

// Alerts evaluates the thresholds against the snapshot. A category with
// no events yields an "na" check; any failing check makes overall warn;
// all-na yields overall na.
func (sn *Snapshot) Alerts(th AlertThresholds) AlertSummary {
	var checks []AlertCheck

	for _, cat := range []string{EventLLMCall, EventToolCall, EventMemoryRecall, EventCronRun} {
		min, hasMin := th.MinSuccessRate[cat]
		maxP95, hasP95 := th.MaxP95MS[cat]
		st, seen := sn.Categories[cat]

		if hasMin {
			check := AlertCheck{Name: cat + "_success_rate", Limit: min}
			if !seen || st.Count == 0 {
				check.Status = "na"
				check.Detail = "no events in window"
			} else {
				rate := float64(st.Success) / float64(st.Count)
				check.Value = round2(rate)
				if rate >= min {
					check.Status = "ok"
				} else {
					check.Status = "warn"
					check.Detail = fmt.Sprintf("success rate %.2f below %.2f", rate, min)
				}
			}
			checks = append(checks, check)
		}

		if hasP95 {
			check := AlertCheck{Name: cat + "_p95_ms", Limit: maxP95}
			if !seen || st.Count == 0 {
				check.Status = "na"
				check.Detail = "no events in window"
			} else {
				check.Value = st.P95MS
				if st.P95MS <= maxP95 {
					check.Status = "ok"
				} else {
					check.Status = "warn"
					check.Detail = fmt.Sprintf("p95 %.0fms above %.0fms", st.P95MS, maxP95)
				}
			}
			checks = append(checks, check)
		}
	}

	overall := "na"
	for _, c := range checks {
		switch c.Status {
		case "warn":
			overall = "warn"
		case "ok":
			if overall == "na" {
				overall = "ok"
			}
		}
	}
	return AlertSummary{Overall: overall, Checks: checks}
}
