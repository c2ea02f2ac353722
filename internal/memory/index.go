package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"analyst/internal/warehouse"
)

// reindexParallelism bounds concurrent embedding calls during a schema
// rebuild. The store itself stays single-writer: vectors are computed in
// parallel, persisted sequentially.
const reindexParallelism = 4

type schemaDoc struct {
	id   string
	text string
	meta map[string]string
}

// ReindexSchema rebuilds the schema collection from the warehouse catalog.
// Record ids derive from table and column names, so running it repeatedly
// leaves the record count unchanged.
func (s *Store) ReindexSchema(ctx context.Context, wh *warehouse.DB) (int, error) {
	tables, err := wh.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog: %w", err)
	}

	var docs []schemaDoc
	for _, t := range tables {
		cols, err := wh.Columns(ctx, t.Name)
		if err != nil {
			return 0, fmt.Errorf("failed to read columns of %s: %w", t.Name, err)
		}

		var colDescs []string
		var colNames []string
		for _, c := range cols {
			colDescs = append(colDescs, fmt.Sprintf("%s (%s)", c.Name, c.Type))
			colNames = append(colNames, c.Name)
		}

		text := fmt.Sprintf("Table: %s\nColumns: %s", t.Name, strings.Join(colDescs, ", "))
		if sample, err := wh.SampleRows(ctx, t.Name, 3); err == nil && sample.RowCount() > 0 {
			text += "\nSample rows:\n" + formatSample(sample)
		}

		docs = append(docs, schemaDoc{
			id:   "table:" + t.Name,
			text: text,
			meta: map[string]string{
				"type":       "table",
				"table":      t.Name,
				"columns":    strings.Join(colNames, ","),
				"indexed_at": time.Now().UTC().Format(time.RFC3339),
			},
		})

		for _, c := range cols {
			docs = append(docs, schemaDoc{
				id:   fmt.Sprintf("column:%s.%s", t.Name, c.Name),
				text: fmt.Sprintf("Column: %s.%s (type: %s)", t.Name, c.Name, c.Type),
				meta: map[string]string{
					"type":        "column",
					"table":       t.Name,
					"column":      c.Name,
					"column_type": c.Type,
					"indexed_at":  time.Now().UTC().Format(time.RFC3339),
				},
			})
		}
	}

	// Embed in parallel, then persist under the single writer.
	vectors := make([][]float32, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reindexParallelism)
	for i := range docs {
		g.Go(func() error {
			vec, err := s.engine.Embed(gctx, docs[i].text)
			if err != nil {
				return fmt.Errorf("failed to embed %s: %w", docs[i].id, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, doc := range docs {
		if _, err := s.upsertEmbedded(CollectionSchema, doc.id, doc.text, vectors[i], doc.meta); err != nil {
			return 0, err
		}
	}

	s.log.Info("schema reindexed",
		zap.Int("tables", len(tables)),
		zap.Int("records", len(docs)))
	return len(docs), nil
}

// IndexQuery appends a successful question/query/result triplet to the
// query history.
func (s *Store) IndexQuery(ctx context.Context, question, sql, resultSummary string) error {
	text := fmt.Sprintf("Question: %s\nSQL: %s\nResult: %s", question, sql, resultSummary)
	_, err := s.Upsert(ctx, CollectionQuery, "", text, map[string]string{
		"question":       question,
		"sql":            sql,
		"result_summary": clip(resultSummary, 500),
		"indexed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

// IndexObservation appends a narrative observation.
func (s *Store) IndexObservation(ctx context.Context, observation, topic string) error {
	_, err := s.Upsert(ctx, CollectionObservation, "", observation, map[string]string{
		"topic":      topic,
		"indexed_at": time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

// formatSample renders a few rows of a table as compact text for an
// embedding document.
func formatSample(t *warehouse.Table) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, " | "))
	for _, row := range t.Rows {
		b.WriteString("\n")
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(parts, " | "))
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
