package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	"complyd/internal/fusion/metrics"
	"complyd/internal/fusion/models"
	"complyd/internal/fusion/ports"
	policy "complyd/internal/policy/models"
	"complyd/pkg/platform/circuit"
)

const (
	DefaultTopK         = 15
	DefaultMinScore     = 0.75
	DefaultPassageLimit = 800
	// queryEvidenceLimit caps the evidence excerpt embedded with the criteria.
	queryEvidenceLimit = 4000
)

// Fuser builds rule contexts from criteria, similar historical evidence and
// parent verdicts. It has no side effects beyond metrics.
type Fuser struct {
	search       ports.SimilaritySearch
	embedder     ports.Embedder
	breaker      *circuit.Breaker
	topK         int
	minScore     float64
	passageLimit int
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Fuser)

func WithTopK(k int) Option {
	return func(f *Fuser) {
		if k > 0 {
			f.topK = k
		}
	}
}

func WithMinScore(s float64) Option {
	return func(f *Fuser) { f.minScore = s }
}

func WithPassageLimit(n int) Option {
	return func(f *Fuser) {
		if n > 0 {
			f.passageLimit = n
		}
	}
}

// WithBreaker guards the similarity source; an open breaker skips it.
func WithBreaker(b *circuit.Breaker) Option {
	return func(f *Fuser) { f.breaker = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fuser) { f.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fuser) { f.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(f *Fuser) { f.now = now }
}

// NewFuser creates a Fuser. search and embedder may both be nil, which
// disables similarity retrieval.
func NewFuser(search ports.SimilaritySearch, embedder ports.Embedder, opts ...Option) *Fuser {
	f := &Fuser{
		search:       search,
		embedder:     embedder,
		topK:         DefaultTopK,
		minScore:     DefaultMinScore,
		passageLimit: DefaultPassageLimit,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build assembles the context for one rule. Similarity failures degrade the
// context instead of failing. The only error returned is the context's own.
func (f *Fuser) Build(ctx context.Context, rule policy.Rule, items []*evidence.Item, parents []decision.RuleVerdict) (models.RuleContext, error) {
	rc := models.RuleContext{
		Rule:               rule,
		CriteriaText:       CriteriaText(rule),
		EvidenceText:       evidenceText(items),
		SimilarEvidence:    []models.Passage{},
		DependencyVerdicts: dependencyVerdicts(parents),
	}

	if f.search == nil || f.embedder == nil {
		f.metrics.IncSimilarity("disabled")
		return rc, nil
	}
	if f.breaker != nil && !f.breaker.Allow() {
		f.metrics.IncSimilarity("breaker_open")
		rc.Degraded = true
		return rc, nil
	}

	start := f.now()
	passages, err := f.similar(ctx, rule, rc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rc, ctxErr
		}
		f.recordFailure(ctx, rule, err)
		rc.Degraded = true
		return rc, nil
	}
	if f.breaker != nil {
		f.breaker.RecordSuccess()
	}
	f.metrics.IncSimilarity("ok")
	f.metrics.ObserveSimilarity(f.now().Sub(start), len(passages))
	rc.SimilarEvidence = passages
	return rc, nil
}

func (f *Fuser) similar(ctx context.Context, rule policy.Rule, rc models.RuleContext) ([]models.Passage, error) {
	embedding, err := f.embedder.Embed(ctx, rc.CriteriaText+"\n\n"+truncateRunes(rc.EvidenceText, queryEvidenceLimit))
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, errors.New("empty embedding")
	}
	matches, err := f.search.Search(ctx, models.Query{
		Embedding: embedding,
		TopK:      f.topK * 2,
		Filter:    models.Filter{PolicyID: rule.PolicyID},
	})
	if err != nil {
		return nil, err
	}
	return Rank(matches, f.topK, f.minScore, f.passageLimit), nil
}

func (f *Fuser) recordFailure(ctx context.Context, rule policy.Rule, err error) {
	f.metrics.IncSimilarity("error")
	if f.breaker != nil {
		if _, change := f.breaker.RecordFailure(); change.Opened {
			f.logger.WarnContext(ctx, "similarity breaker opened", "breaker", f.breaker.Name())
		}
	}
	f.logger.WarnContext(ctx, "similarity lookup failed, context degraded",
		"rule_id", rule.RuleID,
		"error", err,
	)
}

// Rank filters matches below minScore, keeps the best match per source, orders
// by score, recency, then source ID, cuts to topK and truncates passages.
func Rank(matches []models.Match, topK int, minScore float64, passageLimit int) []models.Passage {
	best := make(map[string]models.Match, len(matches))
	for _, m := range matches {
		if m.Score < minScore || m.SourceID == "" {
			continue
		}
		prev, ok := best[m.SourceID]
		if !ok || better(m, prev) {
			best[m.SourceID] = m
		}
	}

	kept := make([]models.Match, 0, len(best))
	for _, m := range best {
		kept = append(kept, m)
	}
	sort.Slice(kept, func(i, j int) bool { return better(kept[i], kept[j]) })
	if len(kept) > topK {
		kept = kept[:topK]
	}

	out := make([]models.Passage, len(kept))
	for i, m := range kept {
		out[i] = models.Passage{
			SourceID:    m.SourceID,
			Text:        truncateRunes(m.Content, passageLimit),
			Score:       m.Score,
			ExtractedAt: m.ExtractedAt,
		}
	}
	return out
}

func better(a, b models.Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ExtractedAt.After(b.ExtractedAt)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.Content < b.Content
}

// CriteriaText is the always-present part of a rule context.
func CriteriaText(rule policy.Rule) string {
	var b strings.Builder
	b.WriteString(string(rule.RuleID))
	b.WriteString(" (")
	b.WriteString(string(rule.Severity))
	b.WriteString("): ")
	b.WriteString(strings.TrimSpace(rule.Description))
	if c := strings.TrimSpace(rule.ValidationCriteria); c != "" {
		b.WriteString("\nCriteria: ")
		b.WriteString(c)
	}
	return b.String()
}

func evidenceText(items []*evidence.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it == nil || it.ExtractedText == "" {
			continue
		}
		parts = append(parts, "["+it.ID+"] "+it.ExtractedText)
	}
	return strings.Join(parts, "\n\n")
}

func dependencyVerdicts(parents []decision.RuleVerdict) []decision.RuleVerdict {
	out := append([]decision.RuleVerdict{}, parents...)
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
