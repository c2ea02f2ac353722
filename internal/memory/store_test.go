package memory

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T, engine *MockEngine) *Store {
	t.Helper()
	if engine == nil {
		engine = &MockEngine{}
	}
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), engine, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndSearch(t *testing.T) {
	engine := &MockEngine{Vectors: map[string][]float32{
		"total revenue by month": {1, 0, 0, 0},
		"active customer count":  {0, 1, 0, 0},
		"monthly revenue":        {0.95, 0.05, 0, 0},
	}}
	s := newStore(t, engine)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CollectionQuery, "q1", "total revenue by month", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := s.Upsert(ctx, CollectionQuery, "q2", "active customer count", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := s.Search(ctx, CollectionQuery, "total revenue by month", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "q1" {
		t.Errorf("expected q1 at rank 0, got %s", hits[0].Record.ID)
	}
	if math.Abs(hits[0].Similarity-1.0) > 1e-6 {
		t.Errorf("expected similarity ~1.0 for the exact text, got %f", hits[0].Similarity)
	}
	if hits[1].Similarity >= hits[0].Similarity {
		t.Error("hits must be ordered by descending similarity")
	}
}

func TestUpsertReplacesByID(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CollectionSchema, "table:fct_orders", "v1", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := s.Upsert(ctx, CollectionSchema, "table:fct_orders", "v2", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if n := s.Count(CollectionSchema); n != 1 {
		t.Fatalf("expected 1 record after re-upsert, got %d", n)
	}
}

func TestUpsertGeneratesID(t *testing.T) {
	s := newStore(t, nil)

	id, err := s.Upsert(context.Background(), CollectionObservation, "", "orders spike in December", nil)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	s := newStore(t, nil)

	hits, err := s.Search(context.Background(), CollectionObservation, "anything", 3)
	if err != nil {
		t.Fatalf("Search on empty collection should not error: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestSearchTieBreaksMostRecentFirst(t *testing.T) {
	// All records embed identically, so ordering is purely the
	// tie-break: newest first.
	engine := &MockEngine{EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0, 0}, nil
	}}
	s := newStore(t, engine)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		if _, err := s.Upsert(ctx, CollectionObservation, id, "same text", nil); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	hits, err := s.Search(ctx, CollectionObservation, "same text", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "third" {
		t.Errorf("expected the newest record first, got %s", hits[0].Record.ID)
	}
}

func TestStats(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CollectionSchema, "a", "x", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.IndexObservation(ctx, "obs", "topic"); err != nil {
		t.Fatalf("IndexObservation failed: %v", err)
	}

	stats := s.Stats()
	if stats[CollectionSchema] != 1 || stats[CollectionObservation] != 1 || stats[CollectionQuery] != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
