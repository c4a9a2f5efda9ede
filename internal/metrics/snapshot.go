package metrics

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// CategoryStats summarizes one event category within a window.
type CategoryStats struct {
	Count     int     `json:"count"`
	Success   int     `json:"success"`
	Failure   int     `json:"failure"`
	P95MS     float64 `json:"p95_ms"`
	AvgMS     float64 `json:"avg_ms"`
	TotalMS   float64 `json:"total_ms"`
	ErrorRate float64 `json:"error_rate"`
}

// ToolCount is one entry of the top-K tool ranking.
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// Snapshot aggregates a time window of events.
type Snapshot struct {
	GeneratedAt   string                   `json:"generated_at"`
	WindowHours   int                      `json:"window_hours"`
	Categories    map[string]CategoryStats `json:"categories"`
	TopTools      []ToolCount              `json:"top_tools"`
	RecallHitRate float64                  `json:"recall_hit_rate"`
	TokensIn      int                      `json:"tokens_in"`
	TokensOut     int                      `json:"tokens_out"`
	CronRuns      int                      `json:"cron_runs"`
	CronProactive int                      `json:"cron_proactive"`
}

const defaultTopK = 10

// Snapshot aggregates the last `hours` of events.
func (s *Store) Snapshot(hours int) (*Snapshot, error) {
	if hours <= 0 {
		hours = 24
	}
	now := s.now()
	events, err := s.readSince(now.Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		WindowHours: hours,
		Categories:  map[string]CategoryStats{},
	}

	latencies := map[string][]float64{}
	toolCounts := map[string]int{}
	recallTotal, recallHit := 0, 0

	for _, ev := range events {
		st := snap.Categories[ev.Type]
		st.Count++
		if ev.OK {
			st.Success++
		} else {
			st.Failure++
		}
		st.TotalMS += ev.LatencyMS
		snap.Categories[ev.Type] = st
		latencies[ev.Type] = append(latencies[ev.Type], ev.LatencyMS)

		switch ev.Type {
		case EventToolCall:
			if ev.Tool != "" {
				toolCounts[ev.Tool]++
			}
		case EventMemoryRecall:
			recallTotal++
			if ev.Hits > 0 {
				recallHit++
			}
		case EventLLMCall:
			snap.TokensIn += ev.InputTokens
			snap.TokensOut += ev.OutputTokens
		case EventCronRun:
			snap.CronRuns++
			if ev.Proactive {
				snap.CronProactive++
			}
		}
	}

	for cat, st := range snap.Categories {
		st.P95MS = percentile(latencies[cat], 0.95)
		st.AvgMS = round2(st.TotalMS / float64(st.Count))
		st.ErrorRate = round2(float64(st.Failure) / float64(st.Count))
		snap.Categories[cat] = st
	}

	for tool, n := range toolCounts {
		snap.TopTools = append(snap.TopTools, ToolCount{Tool: tool, Count: n})
	}
	sort.Slice(snap.TopTools, func(i, j int) bool {
		if snap.TopTools[i].Count != snap.TopTools[j].Count {
			return snap.TopTools[i].Count > snap.TopTools[j].Count
		}
		return snap.TopTools[i].Tool < snap.TopTools[j].Tool
	})
	if len(snap.TopTools) > defaultTopK {
		snap.TopTools = snap.TopTools[:defaultTopK]
	}

	if recallTotal > 0 {
		snap.RecallHitRate = round2(float64(recallHit) / float64(recallTotal))
	}
	return snap, nil
}

// JSON renders the snapshot as indented JSON.
func (sn *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(sn, "", "  ")
}

// DashboardJSON flattens the snapshot to single-level keys for simple
// dashboard ingestion.
func (sn *Snapshot) DashboardJSON() ([]byte, error) {
	flat := map[string]interface{}{
		"generated_at":    sn.GeneratedAt,
		"window_hours":    sn.WindowHours,
		"recall_hit_rate": sn.RecallHitRate,
		"tokens_in":       sn.TokensIn,
		"tokens_out":      sn.TokensOut,
		"cron_runs":       sn.CronRuns,
		"cron_proactive":  sn.CronProactive,
	}
	for cat, st := range sn.Categories {
		flat[cat+"_count"] = st.Count
		flat[cat+"_success"] = st.Success
		flat[cat+"_failure"] = st.Failure
		flat[cat+"_p95_ms"] = st.P95MS
		flat[cat+"_avg_ms"] = st.AvgMS
	}
	for i, tc := range sn.TopTools {
		if i >= 5 {
			break
		}
		flat["top_tool_"+tc.Tool] = tc.Count
	}
	return json.MarshalIndent(flat, "", "  ")
}

// percentile computes the nearest-rank percentile of unsorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
