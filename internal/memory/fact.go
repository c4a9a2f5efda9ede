package memory

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fact is one record in the append-only fact index. The index file is the
// source of truth; supersedes/superseded_by are id strings, not pointers.
type Fact struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Normalized   string   `json:"normalized"`
	Type         string   `json:"type"`
	Confidence   float64  `json:"confidence"`
	Source       string   `json:"source"`
	CreatedAt    string   `json:"created_at"`
	LastSeen     string   `json:"last_seen"`
	FactKey      string   `json:"fact_key"`
	Supersedes   []string `json:"supersedes,omitempty"`
	Status       string   `json:"status"`
	SupersededBy string   `json:"superseded_by,omitempty"`
}

// Fact statuses.
const (
	StatusActive     = "active"
	StatusSuperseded = "superseded"
)

// RememberResult reports the outcome of RememberFact.
type RememberResult struct {
	OK            bool     `json:"ok"`
	Status        string   `json:"status"` // added, superseded, duplicate, write_error
	FactID        string   `json:"fact_id,omitempty"`
	SupersededIDs []string `json:"superseded_ids,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Default confidence per fact type, clamped to [0,1] on input.
var typeConfidence = map[string]float64{
	"identity":     0.95,
	"preference":   0.90,
	"relationship": 0.88,
	"project":      0.82,
	"lesson":       0.78,
}

const defaultConfidence = 0.75

// DefaultConfidence returns the default confidence for a fact type.
func DefaultConfidence(factType string) float64 {
	if c, ok := typeConfidence[factType]; ok {
		return c
	}
	return defaultConfidence
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// NormalizeFactText lowercases and collapses whitespace for dedup.
func NormalizeFactText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Keyed shapes: "timezone: X", "timezone is X", "my timezone is X".
var factKeyRe = regexp.MustCompile(`^(?:my\s+)?([a-z][a-z0-9_ -]{1,24}?)(?:\s+is\s+|\s*[:=]\s*)\S`)

// ExtractFactKey derives the short key used for supersession, or "" when
// the text matches no keyed shape. Keys of more than three words are not
// treated as keys.
func ExtractFactKey(text string) string {
	norm := NormalizeFactText(text)
	m := factKeyRe.FindStringSubmatch(norm)
	if m == nil {
		return ""
	}
	key := strings.TrimSpace(m[1])
	words := strings.Fields(key)
	if len(words) == 0 || len(words) > 3 {
		return ""
	}
	return strings.Join(words, "_")
}

// factID derives the stable id from type, normalized text, and creation time.
func factID(factType, normalized, createdAt string) string {
	sum := sha1.Sum([]byte(factType + "|" + normalized + "|" + createdAt))
	return "fact_" + hex.EncodeToString(sum[:])[:16]
}

// RememberFact persists one fact with dedup and supersession semantics:
// identical normalized text refreshes the existing active record; a new
// record sharing a non-empty fact_key demotes all prior active records
// with that key.
func (e *Engine) RememberFact(text, category, source string, confidence float64) RememberResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return RememberResult{Status: "write_error", Error: "empty fact"}
	}

	if category == "" {
		category = "general"
	}
	if source == "" {
		source = "remember_tool"
	}
	if confidence <= 0 {
		confidence = DefaultConfidence(category)
	}
	confidence = clampConfidence(confidence)

	facts, err := e.loadFactsLocked()
	if err != nil {
		return RememberResult{Status: "write_error", Error: err.Error()}
	}

	now := e.now().Format(time.RFC3339)
	normalized := NormalizeFactText(text)

	// Identical normalized text refreshes, never duplicates.
	for i := range facts {
		if facts[i].Normalized == normalized && facts[i].Status == StatusActive {
			facts[i].LastSeen = now
			if confidence > facts[i].Confidence {
				facts[i].Confidence = confidence
			}
			if err := e.writeFactsLocked(facts); err != nil {
				return RememberResult{Status: "write_error", Error: err.Error()}
			}
			return RememberResult{OK: true, Status: "duplicate", FactID: facts[i].ID}
		}
	}

	rec := Fact{
		Text:       text,
		Normalized: normalized,
		Type:       category,
		Confidence: confidence,
		Source:     source,
		CreatedAt:  now,
		LastSeen:   now,
		FactKey:    ExtractFactKey(text),
		Status:     StatusActive,
	}
	rec.ID = factID(rec.Type, rec.Normalized, rec.CreatedAt)

	// Demote prior active records sharing the key.
	var superseded []string
	if rec.FactKey != "" {
		for i := range facts {
			if facts[i].Status == StatusActive && facts[i].FactKey == rec.FactKey {
				facts[i].Status = StatusSuperseded
				facts[i].SupersededBy = rec.ID
				superseded = append(superseded, facts[i].ID)
			}
		}
	}
	rec.Supersedes = superseded

	facts = append(facts, rec)
	if err := e.writeFactsLocked(facts); err != nil {
		return RememberResult{Status: "write_error", Error: err.Error()}
	}

	if err := e.appendMemoryBulletLocked(rec); err != nil {
		// The index already holds the record; the bullet is a convenience
		// mirror, so surface the write error without rolling back.
		return RememberResult{OK: true, Status: "write_error", FactID: rec.ID, SupersededIDs: superseded, Error: err.Error()}
	}

	status := "added"
	if len(superseded) > 0 {
		status = "superseded"
	}
	return RememberResult{OK: true, Status: status, FactID: rec.ID, SupersededIDs: superseded}
}

// ActiveFacts returns the active records in index order.
func (e *Engine) ActiveFacts() ([]Fact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	facts, err := e.loadFactsLocked()
	if err != nil {
		return nil, err
	}
	var out []Fact
	for _, f := range facts {
		if f.Status == StatusActive {
			out = append(out, f)
		}
	}
	return out, nil
}

// AllFacts returns every record, including superseded ones.
func (e *Engine) AllFacts() ([]Fact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadFactsLocked()
}

// loadFactsLocked parses FACTS.md; on an empty index it bootstraps from
// legacy MEMORY.md bullets. Caller holds the lock.
func (e *Engine) loadFactsLocked() ([]Fact, error) {
	content := e.readFile(FactsFile)

	var facts []Fact
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var f Fact
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			continue
		}
		if f.Status == "" {
			f.Status = StatusActive
		}
		facts = append(facts, f)
	}

	if len(facts) == 0 {
		if imported := e.importLegacyLocked(); len(imported) > 0 {
			facts = imported
			if err := e.writeFactsLocked(facts); err != nil {
				return nil, err
			}
		}
	}

	return facts, nil
}

// writeFactsLocked rewrites the whole index. Caller holds the lock.
func (e *Engine) writeFactsLocked(facts []Fact) error {
	var sb strings.Builder
	sb.WriteString("# Fact Index\n")
	sb.WriteString("# One JSON record per line. Managed by gema; edit with care.\n")
	for _, f := range facts {
		line, err := json.Marshal(f)
		if err != nil {
			return err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return e.writeFileAtomic(FactsFile, []byte(sb.String()))
}

// appendMemoryBulletLocked mirrors a fact into the human-readable log.
func (e *Engine) appendMemoryBulletLocked(f Fact) error {
	ts, err := time.Parse(time.RFC3339, f.CreatedAt)
	if err != nil {
		ts = e.now()
	}
	meta := fmt.Sprintf("type=%s; confidence=%s; source=%s",
		f.Type, formatConfidence(f.Confidence), f.Source)
	if len(f.Supersedes) > 0 {
		meta += "; supersedes=" + strings.Join(f.Supersedes, ",")
	}
	bullet := fmt.Sprintf("- [%s] (%s) %s\n", ts.Format("2006-01-02 15:04"), meta, f.Text)
	return e.appendFile(MemoryFile, bullet)
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}

// Legacy MEMORY.md bullet: - [YYYY-MM-DD HH:MM] (k=v; ...) text
var legacyBulletRe = regexp.MustCompile(`^- \[(\d{4}-\d{2}-\d{2} \d{2}:\d{2})\] \(([^)]*)\) (.+)$`)

// importLegacyLocked parses MEMORY.md bullets into fact records. Used once
// to bootstrap an empty index.
func (e *Engine) importLegacyLocked() []Fact {
	content := e.readFile(MemoryFile)
	if content == "" {
		return nil
	}

	var out []Fact
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		m := legacyBulletRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		meta := map[string]string{}
		for _, kv := range strings.Split(m[2], ";") {
			parts := strings.SplitN(strings.TrimSpace(kv), "=", 2)
			if len(parts) == 2 {
				meta[parts[0]] = parts[1]
			}
		}

		factType := meta["type"]
		if factType == "" {
			factType = "general"
		}
		conf := DefaultConfidence(factType)
		if v, err := strconv.ParseFloat(meta["confidence"], 64); err == nil {
			conf = clampConfidence(v)
		}

		created := e.now().Format(time.RFC3339)
		if ts, err := time.ParseInLocation("2006-01-02 15:04", m[1], time.UTC); err == nil {
			created = ts.Format(time.RFC3339)
		}

		text := strings.TrimSpace(m[3])
		f := Fact{
			Text:       text,
			Normalized: NormalizeFactText(text),
			Type:       factType,
			Confidence: conf,
			Source:     "legacy_import",
			CreatedAt:  created,
			LastSeen:   created,
			FactKey:    ExtractFactKey(text),
			Status:     StatusActive,
		}
		f.ID = factID(f.Type, f.Normalized, f.CreatedAt)
		out = append(out, f)
	}

	// Enforce the at-most-one-active invariant on import: the newest
	// record per key wins.
	seenKey := map[string]int{}
	for i := len(out) - 1; i >= 0; i-- {
		key := out[i].FactKey
		if key == "" {
			continue
		}
		if winner, ok := seenKey[key]; ok {
			out[i].Status = StatusSuperseded
			out[i].SupersededBy = out[winner].ID
			out[winner].Supersedes = append(out[winner].Supersedes, out[i].ID)
		} else {
			seenKey[key] = i
		}
	}

	return out
}
