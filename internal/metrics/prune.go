package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// PruneResult reports what a prune pass did (or would do in dry-run).
type PruneResult struct {
	Total   int  `json:"total"`
	Kept    int  `json:"kept"`
	Removed int  `json:"removed"`
	DryRun  bool `json:"dry_run"`
}

// Prune drops events older than retentionHours and, when cap > 0, trims
// the file to the newest cap events. With dryRun the file is untouched
// and only counts are reported.
func (s *Store) Prune(retentionHours, cap int, dryRun bool) (*PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PruneResult{DryRun: dryRun}, nil
		}
		return nil, err
	}

	cutoff := time.Time{}
	if retentionHours > 0 {
		cutoff = s.now().Add(-time.Duration(retentionHours) * time.Hour)
	}

	var kept []string
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		total++
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue // drop unparseable lines
		}
		if !cutoff.IsZero() {
			ts, err := time.Parse(time.RFC3339, ev.TS)
			if err != nil || ts.Before(cutoff) {
				continue
			}
		}
		kept = append(kept, line)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, scanErr
	}

	if cap > 0 && len(kept) > cap {
		kept = kept[len(kept)-cap:]
	}

	res := &PruneResult{Total: total, Kept: len(kept), Removed: total - len(kept), DryRun: dryRun}
	if dryRun || res.Removed == 0 {
		return res, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "events-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return res, nil
}
