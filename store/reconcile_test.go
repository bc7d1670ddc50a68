package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/matryer/is"
)

func TestInferSchema(t *testing.T) {
	is := is.New(t)
	rows := []tracksync.Row{
		{
			"id": int64(1), "name": "a", "rate": 1.5, "active": true,
			"date": "2025-01-02", "updatedAt": "2025-01-02T03:04:05Z",
			"tags": []interface{}{"x"},
		},
		{"id": int64(2), "name": nil, "note": "hi"},
	}
	s := InferSchema(rows)
	is.Equal(s.Names(), []string{"active", "date", "id", "name", "note", "rate", "tags", "updatedAt"})

	field := func(n string) tracksync.SchemaField {
		f, ok := s.Field(n)
		is.True(ok)
		return f
	}
	is.Equal(field("id").Type, tracksync.TypeInt64)
	is.Equal(field("name").Type, tracksync.TypeString)
	is.Equal(field("rate").Type, tracksync.TypeFloat64)
	is.Equal(field("active").Type, tracksync.TypeBool)
	is.Equal(field("date").Type, tracksync.TypeDate)
	is.Equal(field("updatedAt").Type, tracksync.TypeTimestamp)
	is.True(field("tags").Repeated)
}

func TestInferSchemaWidening(t *testing.T) {
	is := is.New(t)
	rows := []tracksync.Row{
		{"n": int64(1), "d": "2025-01-02", "m": int64(1)},
		{"n": 1.5, "d": "2025-01-02T03:04:05Z", "m": "x"},
	}
	s := InferSchema(rows)
	field := func(n string) tracksync.FieldType {
		f, _ := s.Field(n)
		return f.Type
	}
	is.Equal(field("n"), tracksync.TypeFloat64)   // int widens to float
	is.Equal(field("d"), tracksync.TypeTimestamp) // date widens to timestamp
	is.Equal(field("m"), tracksync.TypeString)    // anything else falls back to string
}

func TestInferSchemaAllNull(t *testing.T) {
	is := is.New(t)
	s := InferSchema([]tracksync.Row{{"x": nil}, {"x": nil}})
	f, ok := s.Field("x")
	is.True(ok)
	is.Equal(f.Type, tracksync.TypeString)
}

func TestBindValue(t *testing.T) {
	is := is.New(t)

	ts := tracksync.SchemaField{Type: tracksync.TypeTimestamp}
	is.Equal(bindValue(ts, "2025-01-02T03:04:05Z"), time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	is.Equal(bindValue(ts, nil), nil)

	date := tracksync.SchemaField{Type: tracksync.TypeDate}
	is.Equal(bindValue(date, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)), "2025-01-02")
	is.Equal(bindValue(date, "2025-01-02"), "2025-01-02")

	n := tracksync.SchemaField{Type: tracksync.TypeInt64}
	is.Equal(bindValue(n, float64(3)), int64(3))
	is.Equal(bindValue(n, "7"), int64(7))

	j := tracksync.SchemaField{Type: tracksync.TypeString, Repeated: true}
	is.Equal(bindValue(j, []interface{}{"a", "b"}), `["a","b"]`)
}

// fakeDialect keeps statement-generation tests free of a driver.
type fakeDialect struct{}

func (fakeDialect) Name() string           { return "fake" }
func (fakeDialect) Placeholder(int) string { return "?" }
func (fakeDialect) RowID() string          { return "rowid" }
func (fakeDialect) TruncateStmt(table string) string {
	return "DELETE FROM " + QuoteIdent(table)
}
func (fakeDialect) ColumnType(f tracksync.SchemaField) string { return string(f.Type) }
func (fakeDialect) CastExpr(expr string, f tracksync.SchemaField) string {
	return "CAST(" + expr + " AS " + string(f.Type) + ")"
}
func (fakeDialect) ArrayFirst(expr string) string { return "first(" + expr + ")" }
func (fakeDialect) TableColumns(context.Context, *sql.DB, string) (tracksync.Schema, error) {
	return nil, nil
}

func TestUpsertSQLFallsBackToKeyOrder(t *testing.T) {
	is := is.New(t)
	schema := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeString},
		{Name: "name", Type: tracksync.TypeString},
	}
	q := upsertSQL(fakeDialect{}, "users", StagingTable("users"), schema, schema, "id", "updatedAt")
	// updatedAt is not staged, ties break on the key itself
	is.True(!strings.Contains(q, `"updatedAt"`))
	is.True(strings.Contains(q, `ON CONFLICT ("id") DO UPDATE SET "name" = excluded."name"`))
}

func TestUpsertSQLProjectsTargetColumns(t *testing.T) {
	is := is.New(t)
	staging := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeInt64},
		{Name: "tag", Type: tracksync.TypeString, Repeated: true},
		{Name: "score", Type: tracksync.TypeString},
	}
	target := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeString},
		{Name: "tag", Type: tracksync.TypeString},
		{Name: "score", Type: tracksync.TypeInt64},
		{Name: "note", Type: tracksync.TypeString},
	}
	q := upsertSQL(fakeDialect{}, "things", StagingTable("things"), staging, target, "id", "updatedAt")
	is.True(strings.Contains(q, `CAST("id" AS STRING)`))          // diverging key, canonical type
	is.True(strings.Contains(q, `CAST(first("tag") AS STRING)`))  // repeated against scalar
	is.True(strings.Contains(q, `CAST("score" AS INT64)`))        // scalar cast
	is.True(strings.Contains(q, `CAST(NULL AS STRING)`))          // never staged
	is.True(strings.Contains(q, `"note" = excluded."note"`))
}
