package metrics

import (
	"fmt"
	"strings"
)

// metric name areas per category; stats hang off these as
// g_agent_<area>_<stat>.
var promAreas = map[string]string{
	EventLLMCall:      "llm",
	EventToolCall:     "tool",
	EventMemoryRecall: "recall",
	EventCronRun:      "cron",
}

// Prometheus renders the snapshot in text exposition format.
func (sn *Snapshot) Prometheus() string {
	var b strings.Builder

	writeMetric := func(name string, labels map[string]string, value float64) {
		b.WriteString(name)
		if len(labels) > 0 {
			b.WriteByte('{')
			first := true
			// Stable label order for deterministic output.
			for _, k := range sortedKeys(labels) {
				if !first {
					b.WriteByte(',')
				}
				first = false
				fmt.Fprintf(&b, `%s="%s"`, k, escapeLabelValue(labels[k]))
			}
			b.WriteByte('}')
		}
		fmt.Fprintf(&b, " %g\n", value)
	}

	for _, cat := range []string{EventLLMCall, EventToolCall, EventMemoryRecall, EventCronRun} {
		st, ok := sn.Categories[cat]
		if !ok {
			continue
		}
		area := promAreas[cat]
		writeMetric("g_agent_"+area+"_count", nil, float64(st.Count))
		writeMetric("g_agent_"+area+"_success", nil, float64(st.Success))
		writeMetric("g_agent_"+area+"_failure", nil, float64(st.Failure))
		writeMetric("g_agent_"+area+"_p95_ms", nil, st.P95MS)
	}

	for _, tc := range sn.TopTools {
		writeMetric("g_agent_tool_calls", map[string]string{"tool": tc.Tool}, float64(tc.Count))
	}

	writeMetric("g_agent_recall_hit_rate", nil, sn.RecallHitRate)
	writeMetric("g_agent_llm_tokens_in", nil, float64(sn.TokensIn))
	writeMetric("g_agent_llm_tokens_out", nil, float64(sn.TokensOut))
	writeMetric("g_agent_cron_proactive", nil, float64(sn.CronProactive))

	return b.String()
}

// escapeLabelValue escapes backslash, newline, and double quote per the
// Prometheus text exposition format.
func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
