package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
)

const (
	stateTable    = "__sync_state"
	stagingPrefix = "_stg__"

	// dateColumn and personColumn are the window columns of date-windowed
	// collections; PurgeWindow filters on them.
	dateColumn   = "date"
	personColumn = "personId"

	// conservative per-statement bind limit, safe for both dialects
	maxBindParams = 999
)

// Dialect abstracts the SQL surface that differs between backends. The shared
// DB builds all statements itself and asks the dialect only for placeholders,
// native column types and the few store-specific idioms.
type Dialect interface {
	Name() string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// ColumnType maps a schema field onto a native column type.
	ColumnType(f tracksync.SchemaField) string

	// CastExpr renders expr cast to the field's native representation.
	CastExpr(expr string, f tracksync.SchemaField) string

	// ArrayFirst extracts the first element of a JSON array expression.
	ArrayFirst(expr string) string

	// TableColumns introspects an existing table, nil schema when it does
	// not exist.
	TableColumns(ctx context.Context, db *sql.DB, table string) (tracksync.Schema, error)

	// RowID is the physical row locator used by DedupeByColumn.
	RowID() string

	TruncateStmt(table string) string
}

// DB implements the engine's target-store contract on top of database/sql.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, d Dialect) *DB {
	return &DB{db: db, dialect: d}
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func StagingTable(collection string) string {
	return stagingPrefix + collection
}

// SQL exposes the underlying handle for ad-hoc queries.
func (s *DB) SQL() *sql.DB { return s.db }

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Init(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT PRIMARY KEY,
	checkpoint TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`, QuoteIdent(stateTable))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *DB) Checkpoint(ctx context.Context, collection string) (time.Time, bool, error) {
	q := fmt.Sprintf("SELECT checkpoint FROM %s WHERE collection = %s",
		QuoteIdent(stateTable), s.dialect.Placeholder(1))
	var raw string
	err := s.db.QueryRowContext(ctx, q, collection).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad checkpoint for %s: %w", collection, err)
	}
	return ts.UTC(), true, nil
}

func (s *DB) SetCheckpoint(ctx context.Context, collection string, ts time.Time) error {
	q := fmt.Sprintf(`INSERT INTO %s (collection, checkpoint, updated_at) VALUES (%s, %s, %s)
ON CONFLICT (collection) DO UPDATE SET checkpoint = excluded.checkpoint, updated_at = excluded.updated_at`,
		QuoteIdent(stateTable), s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3))
	_, err := s.db.ExecContext(ctx, q, collection,
		ts.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *DB) LoadStaging(ctx context.Context, collection string, rows []tracksync.Row) (tracksync.Schema, error) {
	schema := InferSchema(rows)
	if len(schema) == 0 {
		return nil, fmt.Errorf("staging %s: batch has no columns", collection)
	}
	stg := StagingTable(collection)
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(stg)); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, createStmt(s.dialect, stg, schema)); err != nil {
		return nil, err
	}
	if err := s.insertRows(ctx, stg, schema, rows); err != nil {
		return nil, err
	}
	log.Printf("[%s] staged %d rows, %d columns", collection, len(rows), len(schema))
	return schema, nil
}

func createStmt(d Dialect, table string, schema tracksync.Schema) string {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = QuoteIdent(f.Name) + " " + d.ColumnType(f)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(table), strings.Join(cols, ", "))
}

func (s *DB) insertRows(ctx context.Context, table string, schema tracksync.Schema, rows []tracksync.Row) error {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = QuoteIdent(f.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", QuoteIdent(table), strings.Join(cols, ", "))

	chunk := maxBindParams / len(schema)
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]interface{}, 0, len(batch)*len(schema))
		n := 1
		for i, row := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j, f := range schema {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(s.dialect.Placeholder(n))
				n++
				args = append(args, bindValue(f, row[f.Name]))
			}
			sb.WriteByte(')')
		}
		if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) EnsureTarget(ctx context.Context, collection string, staging, declared tracksync.Schema) (tracksync.Schema, error) {
	current, err := s.dialect.TableColumns(ctx, s.db, collection)
	if err != nil {
		return nil, err
	}
	if current == nil {
		base := declared
		if base == nil {
			base = staging
		}
		if base == nil {
			return nil, fmt.Errorf("target %s: no schema to create from", collection)
		}
		if _, err := s.db.ExecContext(ctx, createStmt(s.dialect, collection, base)); err != nil {
			return nil, err
		}
		log.Printf("[%s] created target, %d columns", collection, len(base))
		return base, nil
	}
	for _, f := range staging {
		if _, ok := current.Field(f.Name); ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			QuoteIdent(collection), QuoteIdent(f.Name), s.dialect.ColumnType(f))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, err
		}
		log.Printf("[%s] added column %s %s", collection, f.Name, f.Type)
		current = append(current, f)
	}
	return current, nil
}

func (s *DB) PurgeWindow(ctx context.Context, collection, from, to, personID string) error {
	existing, err := s.dialect.TableColumns(ctx, s.db, collection)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil // first run, nothing to purge
	}
	if _, ok := existing.Field(dateColumn); !ok {
		return fmt.Errorf("purge %s: no %s column", collection, dateColumn)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s >= %s AND %s <= %s",
		QuoteIdent(collection), QuoteIdent(dateColumn), s.dialect.Placeholder(1),
		QuoteIdent(dateColumn), s.dialect.Placeholder(2))
	args := []interface{}{from, to}
	if personID != "" {
		q += fmt.Sprintf(" AND %s = %s", QuoteIdent(personColumn), s.dialect.Placeholder(3))
		if id, err := strconv.ParseInt(personID, 10, 64); err == nil {
			args = append(args, id)
		} else {
			args = append(args, personID)
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		log.Printf("[%s] purged %d rows in %s..%s", collection, n, from, to)
	}
	return nil
}

func (s *DB) Truncate(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.TruncateStmt(table))
	return err
}

func (s *DB) Drop(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table))
	return err
}

// DedupeByColumn removes rows sharing a column value, keeping the one with
// the highest orderBy. NULL values are left alone.
func (s *DB) DedupeByColumn(ctx context.Context, table, col, orderBy string) (int64, error) {
	rid := s.dialect.RowID()
	q := fmt.Sprintf(`DELETE FROM %[1]s WHERE %[2]s IN (
	SELECT rid FROM (
		SELECT %[2]s AS rid, ROW_NUMBER() OVER (PARTITION BY %[3]s ORDER BY %[4]s DESC NULLS LAST) AS rn
		FROM %[1]s WHERE %[3]s IS NOT NULL
	) AS d WHERE d.rn > 1
)`, QuoteIdent(table), rid, QuoteIdent(col), QuoteIdent(orderBy))
	res, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
