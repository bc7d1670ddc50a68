// Package sqlite backs the sync store with an embedded SQLite database,
// useful for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/ajzo90/go-tracksync/store"
	_ "modernc.org/sqlite"
)

// Open opens (or creates) the database at path. Pass ":memory:" for an
// ephemeral store.
func Open(path string) (*store.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer, the engine is sequential anyway
	db.SetMaxOpenConns(1)
	return store.New(db, Dialect{}), nil
}

type Dialect struct{}

func (Dialect) Name() string           { return "sqlite" }
func (Dialect) Placeholder(int) string { return "?" }
func (Dialect) RowID() string          { return "rowid" }
func (Dialect) TruncateStmt(table string) string {
	return "DELETE FROM " + store.QuoteIdent(table)
}

func (Dialect) ColumnType(f tracksync.SchemaField) string {
	if f.Repeated || f.Type == tracksync.TypeJSON {
		return "JSON"
	}
	switch f.Type {
	case tracksync.TypeInt64:
		return "INTEGER"
	case tracksync.TypeFloat64:
		return "REAL"
	case tracksync.TypeBool:
		return "BOOLEAN"
	case tracksync.TypeTimestamp:
		return "TIMESTAMP"
	case tracksync.TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// CastExpr never casts to TIMESTAMP or DATE: those names carry NUMERIC
// affinity in sqlite and would mangle ISO-8601 strings. Temporal and JSON
// values are text here anyway.
func (Dialect) CastExpr(expr string, f tracksync.SchemaField) string {
	if f.Repeated {
		return "CAST(" + expr + " AS TEXT)"
	}
	switch f.Type {
	case tracksync.TypeInt64, tracksync.TypeBool:
		return "CAST(" + expr + " AS INTEGER)"
	case tracksync.TypeFloat64:
		return "CAST(" + expr + " AS REAL)"
	default:
		return "CAST(" + expr + " AS TEXT)"
	}
}

func (Dialect) ArrayFirst(expr string) string {
	return "json_extract(" + expr + ", '$[0]')"
}

func (Dialect) TableColumns(ctx context.Context, db *sql.DB, table string) (tracksync.Schema, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out tracksync.Schema
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		out = append(out, tracksync.SchemaField{Name: name, Type: fieldType(typ)})
	}
	// nil schema when the table does not exist
	return out, rows.Err()
}

func fieldType(typ string) tracksync.FieldType {
	switch strings.ToUpper(typ) {
	case "INTEGER":
		return tracksync.TypeInt64
	case "REAL":
		return tracksync.TypeFloat64
	case "BOOLEAN":
		return tracksync.TypeBool
	case "TIMESTAMP":
		return tracksync.TypeTimestamp
	case "DATE":
		return tracksync.TypeDate
	case "JSON":
		return tracksync.TypeJSON
	default:
		return tracksync.TypeString
	}
}
