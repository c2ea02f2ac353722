// Package warehouse provides read-only access to the analytical SQLite
// database: catalog enumeration, sample rows, and arbitrary read queries
// with a bounded timeout.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// QueryError reports a query the database rejected. It is recoverable by
// retry with corrected SQL; the dispatch loop routes it back to the model.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Table is a fully materialized query result.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// RowMaps returns the rows as column-name keyed maps, the shape bound into
// transform evaluation scopes.
func (t *Table) RowMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		m := make(map[string]interface{}, len(t.Columns))
		for j, col := range t.Columns {
			m[col] = row[j]
		}
		out[i] = m
	}
	return out
}

// TableInfo describes one catalog table.
type TableInfo struct {
	Name string
	Type string // "table" or "view"
}

// ColumnInfo describes one column of a catalog table.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// DB wraps the warehouse connection. All access is read-only.
type DB struct {
	db      *sql.DB
	timeout time.Duration
	log     *zap.Logger
}

// Open opens the warehouse at path in read-only mode.
func Open(path string, timeout time.Duration, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set busy_timeout", zap.Error(err))
	}

	return &DB{db: db, timeout: timeout, log: log.Named("warehouse")}, nil
}

// Close releases the connection.
func (d *DB) Close() error { return d.db.Close() }

// Ping verifies the warehouse is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Query executes an arbitrary read query and materializes the result.
// Failures, including deadline expiry, come back as *QueryError.
func (d *DB) Query(ctx context.Context, query string) (*Table, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		d.log.Debug("query rejected", zap.String("sql", truncate(query, 200)), zap.Error(err))
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scan := make([]interface{}, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		for i, v := range values {
			// The driver hands back []byte for TEXT in some paths;
			// normalize so transforms see plain strings.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	d.log.Debug("query ok",
		zap.Int("rows", table.RowCount()),
		zap.Duration("elapsed", time.Since(start)))
	return table, nil
}

// Tables enumerates user tables and views from the catalog.
func (d *DB) Tables(ctx context.Context) ([]TableInfo, error) {
	t, err := d.Query(ctx, `SELECT name, type FROM sqlite_master
		WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	infos := make([]TableInfo, 0, t.RowCount())
	for _, row := range t.Rows {
		infos = append(infos, TableInfo{
			Name: fmt.Sprintf("%v", row[0]),
			Type: fmt.Sprintf("%v", row[1]),
		})
	}
	return infos, nil
}

// Columns enumerates the columns of one table.
func (d *DB) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	t, err := d.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	// PRAGMA table_info columns: cid, name, type, notnull, dflt_value, pk
	var cols []ColumnInfo
	for _, row := range t.Rows {
		notnull := fmt.Sprintf("%v", row[3])
		cols = append(cols, ColumnInfo{
			Name:     fmt.Sprintf("%v", row[1]),
			Type:     fmt.Sprintf("%v", row[2]),
			Nullable: notnull == "0",
		})
	}
	if len(cols) == 0 {
		return nil, &QueryError{Query: table, Err: fmt.Errorf("no such table: %s", table)}
	}
	return cols, nil
}

// SampleRows fetches up to n rows from a table.
func (d *DB) SampleRows(ctx context.Context, table string, n int) (*Table, error) {
	if n <= 0 {
		n = 3
	}
	return d.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), n))
}

// quoteIdent quotes an identifier for catalog helpers. User-authored SQL is
// passed through verbatim; this is only for table names we interpolate.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
