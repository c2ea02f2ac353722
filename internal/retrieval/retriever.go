// Package retrieval turns a user question into ranked, formatted context
// for the next model turn: relevant schema items, similar past queries,
// and related observations, merged by similarity.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"analyst/internal/memory"
)

// Config bounds retrieval per collection and in total.
type Config struct {
	SchemaK      int
	QueryK       int
	ObservationK int

	// Character budgets. Hits past the budget are dropped, never clipped
	// mid-snippet.
	MaxChars         int
	SchemaChars      int
	QueryChars       int
	ObservationChars int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		SchemaK:          5,
		QueryK:           5,
		ObservationK:     3,
		MaxChars:         12000,
		SchemaChars:      8000,
		QueryChars:       6000,
		ObservationChars: 2000,
	}
}

// RankedContext holds the merged, score-ordered hits for one question.
// It is ephemeral: computed per question, never persisted.
type RankedContext struct {
	Hits []memory.SearchHit
	cfg  Config
}

// Retriever issues similarity searches across all collections.
type Retriever struct {
	store *memory.Store
	cfg   Config
	log   *zap.Logger
}

// New creates a retriever over the store.
func New(store *memory.Store, cfg Config, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SchemaK <= 0 {
		cfg = DefaultConfig()
	}
	return &Retriever{store: store, cfg: cfg, log: log.Named("retrieval")}
}

// Retrieve searches all three collections with the question text and merges
// the hits by descending similarity (the per-collection search already
// breaks score ties most-recent-first).
//
// Retrieval is never fatal: an unreachable embedding service degrades to
// empty context with a logged warning. A session whose query and
// observation collections are still empty simply gets schema-only context.
func (r *Retriever) Retrieve(ctx context.Context, question string) *RankedContext {
	rc := &RankedContext{cfg: r.cfg}

	searches := []struct {
		col memory.Collection
		k   int
	}{
		{memory.CollectionSchema, r.cfg.SchemaK},
		{memory.CollectionQuery, r.cfg.QueryK},
		{memory.CollectionObservation, r.cfg.ObservationK},
	}

	for _, s := range searches {
		hits, err := r.store.Search(ctx, s.col, question, s.k)
		if err != nil {
			r.log.Warn("retrieval degraded to empty context",
				zap.String("collection", string(s.col)),
				zap.Error(err))
			continue
		}
		rc.Hits = append(rc.Hits, hits...)
	}

	sort.SliceStable(rc.Hits, func(i, j int) bool {
		return rc.Hits[i].Similarity > rc.Hits[j].Similarity
	})

	r.log.Debug("retrieved context", zap.String("summary", rc.Summary()))
	return rc
}

// Empty reports whether nothing was retrieved.
func (rc *RankedContext) Empty() bool { return len(rc.Hits) == 0 }

// Summary is a one-line description for logging.
func (rc *RankedContext) Summary() string {
	if rc.Empty() {
		return "no matches"
	}
	counts := map[memory.Collection]int{}
	best := map[memory.Collection]float64{}
	for _, h := range rc.Hits {
		counts[h.Record.Collection]++
		if h.Similarity > best[h.Record.Collection] {
			best[h.Record.Collection] = h.Similarity
		}
	}
	var parts []string
	for _, c := range memory.Collections() {
		if counts[c] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s (best %.2f)", counts[c], c, best[c]))
		}
	}
	return strings.Join(parts, ", ")
}

// Format renders the hits as labeled snippets for prompt injection. The
// model consumes this as literal text.
func (rc *RankedContext) Format() string {
	if rc.Empty() {
		return ""
	}

	schema := rc.section(memory.CollectionSchema, rc.cfg.SchemaChars, formatSchemaHit)
	queries := rc.section(memory.CollectionQuery, rc.cfg.QueryChars, formatQueryHit)
	observations := rc.section(memory.CollectionObservation, rc.cfg.ObservationChars, formatObservationHit)

	var sections []string
	if schema != "" {
		sections = append(sections, "### Relevant schema\n"+schema)
	}
	if queries != "" {
		sections = append(sections, "### Similar past queries\n"+queries)
	}
	if observations != "" {
		sections = append(sections, "### Related observations\n"+observations)
	}
	if len(sections) == 0 {
		return ""
	}

	out := "## Retrieved context (from memory)\n\n" + strings.Join(sections, "\n\n")
	if len(out) > rc.cfg.MaxChars {
		out = out[:rc.cfg.MaxChars]
	}
	return out
}

// section renders one collection's hits in rank order within its budget.
func (rc *RankedContext) section(col memory.Collection, budget int, format func(memory.SearchHit) string) string {
	var lines []string
	used := 0
	for _, h := range rc.Hits {
		if h.Record.Collection != col {
			continue
		}
		line := format(h)
		if line == "" {
			continue
		}
		if used+len(line) > budget {
			break
		}
		used += len(line)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatSchemaHit(h memory.SearchHit) string {
	meta := h.Record.Metadata
	switch meta["type"] {
	case "table":
		cols := strings.ReplaceAll(meta["columns"], ",", ", ")
		return fmt.Sprintf("- **%s**: %s", meta["table"], cols)
	case "column":
		return fmt.Sprintf("- %s.%s (%s)", meta["table"], meta["column"], meta["column_type"])
	default:
		return "- " + firstLine(h.Record.Text)
	}
}

func formatQueryHit(h memory.SearchHit) string {
	meta := h.Record.Metadata
	if meta["question"] == "" || meta["sql"] == "" {
		return ""
	}
	out := fmt.Sprintf("**Q:** %s\n```sql\n%s\n```", meta["question"], meta["sql"])
	if meta["result_summary"] != "" {
		out += fmt.Sprintf("\n*Result: %s*", clip(meta["result_summary"], 100))
	}
	return out
}

func formatObservationHit(h memory.SearchHit) string {
	text := h.Record.Text
	if text == "" {
		return ""
	}
	return "- " + clip(text, 200)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
