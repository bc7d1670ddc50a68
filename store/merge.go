package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	tracksync "github.com/ajzo90/go-tracksync"
)

// Merge upserts the staged batch into the target. Duplicate keys inside the
// batch are collapsed first, most recent orderBy wins; rows with a NULL key
// never conflict with anything and always insert. The staged columns are
// projected onto the target schema: diverging types are cast, a repeated
// staging value against a scalar column contributes its first element, and
// target columns the batch never carried come in as typed NULLs. Backed by a
// unique index on the key, created on first merge.
func (s *DB) Merge(ctx context.Context, collection string, staging, target tracksync.Schema, key, orderBy string) (int64, error) {
	if _, ok := staging.Field(key); !ok {
		return 0, fmt.Errorf("merge %s: key column %q not staged", collection, key)
	}
	idx := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent("uq_"+collection+"_"+key), QuoteIdent(collection), QuoteIdent(key))
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return 0, fmt.Errorf("merge %s: key index: %w", collection, err)
	}
	stmt := upsertSQL(s.dialect, collection, StagingTable(collection), staging, target, key, orderBy)
	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		log.Printf("merge %s failed, statement was:\n%s", collection, stmt)
		return 0, fmt.Errorf("merge %s: %w", collection, err)
	}
	return res.RowsAffected()
}

// projectExpr renders one target column out of the deduplicated staging rows.
// The key column always goes through a cast when its staged type diverges, so
// conflict matching happens on one canonical representation regardless of how
// the batch rendered the key.
func projectExpr(d Dialect, f tracksync.SchemaField, staging tracksync.Schema) string {
	col := QuoteIdent(f.Name)
	src, ok := staging.Field(f.Name)
	switch {
	case !ok:
		return d.CastExpr("NULL", f)
	case src.Repeated && !f.Repeated && f.Type != tracksync.TypeJSON:
		return d.CastExpr(d.ArrayFirst(col), f)
	case src.Type == f.Type && src.Repeated == f.Repeated:
		return col
	default:
		return d.CastExpr(col, f)
	}
}

func upsertSQL(d Dialect, target, staging string, stagingSchema, targetSchema tracksync.Schema, key, orderBy string) string {
	stgCols := make([]string, len(stagingSchema))
	for i, f := range stagingSchema {
		stgCols[i] = QuoteIdent(f.Name)
	}
	stgList := strings.Join(stgCols, ", ")

	ins := make([]string, len(targetSchema))
	proj := make([]string, len(targetSchema))
	for i, f := range targetSchema {
		ins[i] = QuoteIdent(f.Name)
		proj[i] = projectExpr(d, f, stagingSchema)
	}

	k := QuoteIdent(key)
	stg := QuoteIdent(staging)

	order := QuoteIdent(orderBy)
	if _, ok := stagingSchema.Field(orderBy); !ok {
		order = k
	}

	var sets []string
	for _, f := range targetSchema {
		if f.Name == key {
			continue
		}
		c := QuoteIdent(f.Name)
		sets = append(sets, c+" = excluded."+c)
	}
	conflict := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", k)
	if len(sets) > 0 {
		conflict = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", k, strings.Join(sets, ", "))
	}

	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s FROM (
	SELECT %s, 1 AS __rn FROM %s WHERE %s IS NULL
	UNION ALL
	SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC NULLS LAST) AS __rn
	FROM %s WHERE %s IS NOT NULL
) AS d
WHERE d.__rn = 1
%s`, QuoteIdent(target), strings.Join(ins, ", "), strings.Join(proj, ", "),
		stgList, stg, k, stgList, k, order, stg, k, conflict)
}
