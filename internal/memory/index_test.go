package memory

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"analyst/internal/warehouse"
)

func newWarehouse(t *testing.T) *warehouse.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE fct_orders (order_id INTEGER PRIMARY KEY, total REAL)`,
		`INSERT INTO fct_orders VALUES (1, 100.0), (2, 250.5)`,
		`CREATE TABLE dim_products (product_id INTEGER PRIMARY KEY, color TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement failed: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close fixture db: %v", err)
	}

	wh, err := warehouse.Open(path, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("warehouse.Open failed: %v", err)
	}
	t.Cleanup(func() { wh.Close() })
	return wh
}

func TestReindexSchema(t *testing.T) {
	s := newStore(t, nil)
	wh := newWarehouse(t)
	ctx := context.Background()

	n, err := s.ReindexSchema(ctx, wh)
	if err != nil {
		t.Fatalf("ReindexSchema failed: %v", err)
	}
	// 2 table documents plus 4 column documents.
	if n != 6 {
		t.Fatalf("expected 6 schema documents, got %d", n)
	}
	if got := s.Count(CollectionSchema); got != 6 {
		t.Fatalf("expected 6 records, got %d", got)
	}
}

func TestReindexSchemaIsIdempotent(t *testing.T) {
	s := newStore(t, nil)
	wh := newWarehouse(t)
	ctx := context.Background()

	if _, err := s.ReindexSchema(ctx, wh); err != nil {
		t.Fatalf("first reindex failed: %v", err)
	}
	before := s.Count(CollectionSchema)

	if _, err := s.ReindexSchema(ctx, wh); err != nil {
		t.Fatalf("second reindex failed: %v", err)
	}
	if after := s.Count(CollectionSchema); after != before {
		t.Fatalf("reindex must not duplicate records: before=%d after=%d", before, after)
	}
}

func TestIndexQueryAppends(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := s.IndexQuery(ctx, "total revenue", "SELECT SUM(total) FROM fct_orders", "350.5")
		if err != nil {
			t.Fatalf("IndexQuery failed: %v", err)
		}
	}

	// Query history is append-only: identical content still gets a new
	// record.
	if n := s.Count(CollectionQuery); n != 2 {
		t.Fatalf("expected 2 query records, got %d", n)
	}

	hits, err := s.Search(ctx, CollectionQuery, "total revenue", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if !strings.Contains(hits[0].Record.Text, "SELECT SUM(total)") {
		t.Errorf("query record should carry the SQL, got %q", hits[0].Record.Text)
	}
	if hits[0].Record.Metadata["sql"] == "" {
		t.Error("query record should carry sql metadata")
	}
}
