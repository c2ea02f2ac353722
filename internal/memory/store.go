// Package memory implements the persistent, embedding-indexed store behind
// retrieval: three logical collections (schema items, query history,
// observations) in one SQLite table, sharing a single similarity metric.
//
// Writes and reads on the same collection follow a single-writer,
// multiple-reader discipline so a search never observes a partially
// written record.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"analyst/internal/embedding"
)

// Collection tags one of the three logical record sets.
type Collection string

const (
	CollectionSchema      Collection = "schema"
	CollectionQuery       Collection = "query"
	CollectionObservation Collection = "observation"
)

// Collections lists all known collections.
func Collections() []Collection {
	return []Collection{CollectionSchema, CollectionQuery, CollectionObservation}
}

// Record is one embedded, searchable unit.
type Record struct {
	ID         string
	Collection Collection
	Text       string
	Embedding  []float32
	Metadata   map[string]string
	CreatedAt  time.Time
}

// SearchHit pairs a record with its similarity to a query.
type SearchHit struct {
	Record     Record
	Similarity float64
}

// Store is the embedding-indexed collection store.
type Store struct {
	db     *sql.DB
	engine embedding.Engine
	log    *zap.Logger

	// One lock per collection: upserts take the write side, searches the
	// read side. Collections never contend with each other.
	locks map[Collection]*sync.RWMutex
}

// Open initializes the store at path. Use ":memory:" for tests.
func Open(path string, engine embedding.Engine, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	s := &Store{
		db:     db,
		engine: engine,
		log:    log.Named("memory"),
		locks:  make(map[Collection]*sync.RWMutex),
	}
	for _, c := range Collections() {
		s.locks[c] = &sync.RWMutex{}
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize memory schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// SetEngine swaps the embedding engine. Intended for wiring at startup.
func (s *Store) SetEngine(engine embedding.Engine) { s.engine = engine }

// Upsert embeds text and stores it under (collection, id). An empty id
// gets a fresh UUID, giving append-only semantics; deterministic ids make
// the write idempotent.
func (s *Store) Upsert(ctx context.Context, col Collection, id, text string, metadata map[string]string) (string, error) {
	if s.engine == nil {
		return "", fmt.Errorf("memory store has no embedding engine")
	}
	if text == "" {
		return "", fmt.Errorf("refusing to index empty text")
	}

	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}
	return s.upsertEmbedded(col, id, text, vec, metadata)
}

// upsertEmbedded stores a pre-computed embedding under the write lock.
func (s *Store) upsertEmbedded(col Collection, id, text string, vec []float32, metadata map[string]string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	embJSON, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("failed to serialize embedding: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}

	lock := s.locks[col]
	lock.Lock()
	defer lock.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO records (collection, id, content, embedding, metadata) VALUES (?, ?, ?, ?, ?)",
		string(col), id, text, string(embJSON), string(metaJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}
	return id, nil
}

// Search embeds queryText and returns the top-k records of a collection by
// descending cosine similarity. Ties break most-recent-first. A collection
// that has never been indexed yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, col Collection, queryText string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	if s.engine == nil {
		return nil, fmt.Errorf("memory store has no embedding engine")
	}

	lock := s.locks[col]
	lock.RLock()
	defer lock.RUnlock()

	if s.countLocked(col) == 0 {
		return nil, nil
	}

	queryVec, err := s.engine.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT rowid, id, content, embedding, metadata, created_at FROM records WHERE collection = ?",
		string(col),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		hit   SearchHit
		rowid int64
	}
	var candidates []candidate

	for rows.Next() {
		var (
			rowid             int64
			id, content       string
			embJSON, metaJSON sql.NullString
			createdAt         time.Time
		)
		if err := rows.Scan(&rowid, &id, &content, &embJSON, &metaJSON, &createdAt); err != nil {
			s.log.Warn("skipping unreadable record", zap.Error(err))
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embJSON.String), &vec); err != nil {
			s.log.Warn("skipping record with bad embedding", zap.String("id", id))
			continue
		}

		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}

		var meta map[string]string
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &meta)
		}

		candidates = append(candidates, candidate{
			hit: SearchHit{
				Record: Record{
					ID:         id,
					Collection: col,
					Text:       content,
					Embedding:  vec,
					Metadata:   meta,
					CreatedAt:  createdAt,
				},
				Similarity: sim,
			},
			rowid: rowid,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Similarity != candidates[j].hit.Similarity {
			return candidates[i].hit.Similarity > candidates[j].hit.Similarity
		}
		if !candidates[i].hit.Record.CreatedAt.Equal(candidates[j].hit.Record.CreatedAt) {
			return candidates[i].hit.Record.CreatedAt.After(candidates[j].hit.Record.CreatedAt)
		}
		return candidates[i].rowid > candidates[j].rowid
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	hits := make([]SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
	}
	return hits, nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(col Collection) int {
	lock := s.locks[col]
	lock.RLock()
	defer lock.RUnlock()
	return s.countLocked(col)
}

func (s *Store) countLocked(col Collection) int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records WHERE collection = ?", string(col)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Stats returns record counts per collection.
func (s *Store) Stats() map[Collection]int {
	out := make(map[Collection]int, 3)
	for _, c := range Collections() {
		out[c] = s.Count(c)
	}
	return out
}
