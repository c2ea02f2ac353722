package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"analyst/internal/memory"
)

// vectorEngine embeds by keyword so similarity ordering is deterministic.
type vectorEngine struct {
	fail bool
}

func (e *vectorEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding service unreachable")
	}
	low := strings.ToLower(text)
	switch {
	case strings.Contains(low, "profit") || strings.Contains(low, "margin"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(low, "color"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (e *vectorEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *vectorEngine) Dimensions() int { return 3 }
func (e *vectorEngine) Name() string    { return "test" }

func newRetriever(t *testing.T, engine *vectorEngine) (*Retriever, *memory.Store) {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"), engine, nil)
	if err != nil {
		t.Fatalf("memory.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, DefaultConfig(), nil), store
}

func seedSchema(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		id, text string
		meta     map[string]string
	}{
		{"column:fct_orders.profit_margin", "Column: fct_orders.profit_margin (type: REAL)",
			map[string]string{"type": "column", "table": "fct_orders", "column": "profit_margin", "column_type": "REAL"}},
		{"column:dim_products.color", "Column: dim_products.color (type: TEXT)",
			map[string]string{"type": "column", "table": "dim_products", "column": "color", "column_type": "TEXT"}},
	}
	for _, d := range docs {
		if _, err := store.Upsert(ctx, memory.CollectionSchema, d.id, d.text, d.meta); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	r, store := newRetriever(t, &vectorEngine{})
	seedSchema(t, store)

	rc := r.Retrieve(context.Background(), "what is the average profit margin?")
	if rc.Empty() {
		t.Fatal("expected hits")
	}
	if rc.Hits[0].Record.ID != "column:fct_orders.profit_margin" {
		t.Errorf("expected profit_margin ranked first, got %s", rc.Hits[0].Record.ID)
	}
	if rc.Hits[0].Similarity <= rc.Hits[len(rc.Hits)-1].Similarity {
		t.Error("hits must be ordered by descending similarity")
	}
}

func TestRetrieveMergesCollections(t *testing.T) {
	r, store := newRetriever(t, &vectorEngine{})
	seedSchema(t, store)
	ctx := context.Background()

	if err := store.IndexQuery(ctx, "profit margin by product",
		"SELECT product, AVG(profit_margin) FROM fct_orders GROUP BY product", "table of 12 rows"); err != nil {
		t.Fatalf("IndexQuery failed: %v", err)
	}
	if err := store.IndexObservation(ctx, "profit margins dip every January", "seasonality"); err != nil {
		t.Fatalf("IndexObservation failed: %v", err)
	}

	rc := r.Retrieve(ctx, "profit margin trends")
	byCol := map[memory.Collection]int{}
	for _, h := range rc.Hits {
		byCol[h.Record.Collection]++
	}
	if byCol[memory.CollectionSchema] == 0 || byCol[memory.CollectionQuery] == 0 || byCol[memory.CollectionObservation] == 0 {
		t.Errorf("expected hits from every collection, got %v", byCol)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	r, _ := newRetriever(t, &vectorEngine{})

	rc := r.Retrieve(context.Background(), "anything")
	if !rc.Empty() {
		t.Fatal("expected empty context from an empty store")
	}
	if rc.Format() != "" {
		t.Error("empty context must format to nothing")
	}
}

func TestRetrieveAbsorbsEngineFailure(t *testing.T) {
	engine := &vectorEngine{}
	r, store := newRetriever(t, engine)
	seedSchema(t, store)

	engine.fail = true
	rc := r.Retrieve(context.Background(), "profit margin")
	if !rc.Empty() {
		t.Fatal("expected empty context when embedding fails")
	}
}

func TestFormatSections(t *testing.T) {
	r, store := newRetriever(t, &vectorEngine{})
	seedSchema(t, store)
	ctx := context.Background()

	if err := store.IndexQuery(ctx, "profit margin by product",
		"SELECT AVG(profit_margin) FROM fct_orders", "0.23"); err != nil {
		t.Fatalf("IndexQuery failed: %v", err)
	}

	out := r.Retrieve(ctx, "profit margin").Format()
	if !strings.Contains(out, "### Relevant schema") {
		t.Error("expected a schema section")
	}
	if !strings.Contains(out, "### Similar past queries") {
		t.Error("expected a past queries section")
	}
	if !strings.Contains(out, "```sql") {
		t.Error("expected SQL fenced in the queries section")
	}
	if !strings.Contains(out, "fct_orders.profit_margin") {
		t.Error("expected the column reference in the schema section")
	}
}
