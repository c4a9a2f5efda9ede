package memory

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RecallOptions tune a recall query.
type RecallOptions struct {
	MaxItems     int
	LookbackDays int
	Scopes       []string // empty = all scopes
	Explain      bool
}

// RecallItem is one scored recall hit.
type RecallItem struct {
	Text         string          `json:"text"`
	Source       string          `json:"source"`
	Score        float64         `json:"score"`
	OverlapCount int             `json:"overlap_count"`
	Breakdown    *ScoreBreakdown `json:"breakdown,omitempty"`
}

// ScoreBreakdown explains how a recall score was computed.
type ScoreBreakdown struct {
	Overlap      float64 `json:"overlap"`
	OverlapRatio float64 `json:"overlap_ratio"`
	Jaccard      float64 `json:"jaccard"`
	Confidence   float64 `json:"confidence"`
	Recency      float64 `json:"recency"`
	SourceBonus  float64 `json:"source_bonus"`
}

// Recall sources in ranking-bonus order.
const (
	SourceProfile       = "profile"
	SourceRelationships = "relationships"
	SourceProjects      = "projects"
	SourceLongTerm      = "long_term"
	SourceLessons       = "lessons"
	SourceCustom        = "custom"
	SourceSummary       = "summary"
	SourceDaily         = "daily"
)

var sourceBonus = map[string]float64{
	SourceProfile:       240,
	SourceRelationships: 210,
	SourceProjects:      190,
	SourceLongTerm:      170,
	SourceLessons:       150,
	SourceCustom:        145,
	SourceSummary:       130,
	SourceDaily:         110,
}

var sourceConfidence = map[string]float64{
	SourceProfile:       0.95,
	SourceRelationships: 0.88,
	SourceProjects:      0.82,
	SourceLessons:       0.78,
	SourceCustom:        0.70,
	SourceSummary:       0.60,
	SourceDaily:         0.50,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "do": true, "for": true, "from": true,
	"has": true, "have": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"with": true, "you": true, "your": true,
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases, splits, and drops stopwords and single characters.
func Tokenize(s string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) < 2 || stopwords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

type candidate struct {
	text       string
	source     string
	confidence float64
	createdAt  time.Time
}

// Recall scores candidates from every memory surface against the query
// and returns the top items, deduplicated by normalized text.
func (e *Engine) Recall(query string, opts RecallOptions) ([]RecallItem, error) {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 6
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 14
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	querySet := toSet(queryTerms)

	candidates, err := e.collectCandidates(opts)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var scored []RecallItem
	seen := map[string]bool{}

	for _, c := range candidates {
		terms := Tokenize(c.text)
		if len(terms) == 0 {
			continue
		}
		candSet := toSet(terms)

		overlap := 0
		for t := range querySet {
			if candSet[t] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		norm := NormalizeFactText(c.text)
		if seen[norm] {
			continue
		}
		seen[norm] = true

		ratio := float64(overlap) / float64(len(querySet))
		union := len(querySet) + len(candSet) - overlap
		jaccard := float64(overlap) / float64(union)

		ageDays := now.Sub(c.createdAt).Hours() / 24
		recency := 40 - ageDays*1.5
		if recency < 0 || c.createdAt.IsZero() {
			recency = 0
		}

		bonus := sourceBonus[c.source]

		breakdown := ScoreBreakdown{
			Overlap:      float64(overlap) * 90,
			OverlapRatio: ratio * 70,
			Jaccard:      jaccard * 80,
			Confidence:   c.confidence * 70,
			Recency:      recency,
			SourceBonus:  bonus * 0.2,
		}
		score := breakdown.Overlap + breakdown.OverlapRatio + breakdown.Jaccard +
			breakdown.Confidence + breakdown.Recency + breakdown.SourceBonus

		item := RecallItem{
			Text:         c.text,
			Source:       c.source,
			Score:        score,
			OverlapCount: overlap,
		}
		if opts.Explain {
			b := breakdown
			item.Breakdown = &b
		}
		scored = append(scored, item)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > opts.MaxItems {
		scored = scored[:opts.MaxItems]
	}
	return scored, nil
}

func toSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return set
}

func scopeWanted(scopes []string, scope string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// collectCandidates gathers lines from every in-scope surface.
func (e *Engine) collectCandidates(opts RecallOptions) ([]candidate, error) {
	var out []candidate

	if scopeWanted(opts.Scopes, SourceProfile) {
		for _, line := range bulletLines(e.readFile(ProfileFile)) {
			out = append(out, candidate{text: line, source: SourceProfile, confidence: sourceConfidence[SourceProfile]})
		}
	}
	if scopeWanted(opts.Scopes, SourceRelationships) {
		for _, line := range bulletLines(e.readFile(RelationshipsFile)) {
			out = append(out, candidate{text: line, source: SourceRelationships, confidence: sourceConfidence[SourceRelationships]})
		}
	}
	if scopeWanted(opts.Scopes, SourceProjects) {
		for _, line := range bulletLines(e.readFile(ProjectsFile)) {
			out = append(out, candidate{text: line, source: SourceProjects, confidence: sourceConfidence[SourceProjects]})
		}
	}

	if scopeWanted(opts.Scopes, SourceLongTerm) {
		e.mu.Lock()
		facts, err := e.loadFactsLocked()
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			if f.Status != StatusActive {
				continue
			}
			created, _ := time.Parse(time.RFC3339, f.CreatedAt)
			out = append(out, candidate{text: f.Text, source: SourceLongTerm, confidence: f.Confidence, createdAt: created})
		}
	}

	if scopeWanted(opts.Scopes, SourceLessons) {
		for _, line := range bulletLines(e.readFile(LessonsFile)) {
			out = append(out, candidate{text: line, source: SourceLessons, confidence: sourceConfidence[SourceLessons]})
		}
	}
	if scopeWanted(opts.Scopes, SourceSummary) {
		for _, block := range summaryBlocks(e.readFile(SummariesFile)) {
			out = append(out, candidate{text: block, source: SourceSummary, confidence: sourceConfidence[SourceSummary]})
		}
	}

	if scopeWanted(opts.Scopes, SourceCustom) {
		out = append(out, e.customFileCandidates()...)
	}
	if scopeWanted(opts.Scopes, SourceDaily) {
		out = append(out, e.dailyCandidates(opts.LookbackDays)...)
	}

	return out, nil
}

// bulletLines extracts "- ..." content lines from a Markdown document.
func bulletLines(content string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "- ") {
			out = append(out, strings.TrimPrefix(line, "- "))
		}
	}
	return out
}

// summaryBlocks splits SUMMARIES.md into per-heading text blocks.
func summaryBlocks(content string) []string {
	var out []string
	var cur []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, " "))
		if text != "" {
			out = append(out, text)
		}
		cur = nil
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "## ") {
			flush()
			continue
		}
		if line != "" {
			cur = append(cur, line)
		}
	}
	flush()
	return out
}

var dailyNoteRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

var wellKnown = map[string]bool{
	FactsFile: true, MemoryFile: true, ProfileFile: true, ProfileAliasFile: true,
	LessonsFile: true, SummariesFile: true, RelationshipsFile: true, ProjectsFile: true,
}

// customFileCandidates scans user-added Markdown files in the memory dir.
func (e *Engine) customFileCandidates() []candidate {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil
	}
	var out []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".md" ||
			wellKnown[name] || dailyNoteRe.MatchString(name) {
			continue
		}
		for _, line := range bulletLines(e.readFile(name)) {
			out = append(out, candidate{text: line, source: SourceCustom, confidence: sourceConfidence[SourceCustom]})
		}
	}
	return out
}

// dailyCandidates gathers entries from daily notes within the lookback.
func (e *Engine) dailyCandidates(lookbackDays int) []candidate {
	var out []candidate
	now := e.now()
	for i := 0; i < lookbackDays; i++ {
		day := now.AddDate(0, 0, -i)
		name := day.Format("2006-01-02") + ".md"
		content := e.readFile(name)
		if content == "" {
			continue
		}
		for _, line := range bulletLines(content) {
			out = append(out, candidate{
				text:       line,
				source:     SourceDaily,
				confidence: sourceConfidence[SourceDaily],
				createdAt:  day,
			})
		}
	}
	return out
}
