// Package postgres backs the sync store with PostgreSQL via the pgx stdlib
// driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/ajzo90/go-tracksync/store"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*store.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return store.New(db, Dialect{}), nil
}

type Dialect struct{}

func (Dialect) Name() string             { return "postgres" }
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Dialect) RowID() string            { return "ctid" }
func (Dialect) TruncateStmt(table string) string {
	return "TRUNCATE TABLE " + store.QuoteIdent(table)
}

func (Dialect) ColumnType(f tracksync.SchemaField) string {
	if f.Repeated || f.Type == tracksync.TypeJSON {
		return "JSONB"
	}
	switch f.Type {
	case tracksync.TypeInt64:
		return "BIGINT"
	case tracksync.TypeFloat64:
		return "DOUBLE PRECISION"
	case tracksync.TypeBool:
		return "BOOLEAN"
	case tracksync.TypeTimestamp:
		return "TIMESTAMPTZ"
	case tracksync.TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

func (d Dialect) CastExpr(expr string, f tracksync.SchemaField) string {
	return "CAST(" + expr + " AS " + d.ColumnType(f) + ")"
}

func (Dialect) ArrayFirst(expr string) string {
	return "(" + expr + " ->> 0)"
}

func (Dialect) TableColumns(ctx context.Context, db *sql.DB, table string) (tracksync.Schema, error) {
	rows, err := db.QueryContext(ctx, `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`, table)
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
	return out, rows.Err()
}

func fieldType(typ string) tracksync.FieldType {
	switch typ {
	case "bigint", "integer", "smallint":
		return tracksync.TypeInt64
	case "double precision", "real", "numeric":
		return tracksync.TypeFloat64
	case "boolean":
		return tracksync.TypeBool
	case "timestamp with time zone", "timestamp without time zone":
		return tracksync.TypeTimestamp
	case "date":
		return tracksync.TypeDate
	case "jsonb", "json":
		return tracksync.TypeJSON
	default:
		return tracksync.TypeString
	}
}
