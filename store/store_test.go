package store_test

import (
	"context"
	"testing"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/ajzo90/go-tracksync/store"
	"github.com/ajzo90/go-tracksync/store/sqlite"
	"github.com/matryer/is"
)

func open(t *testing.T) *store.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return db
}

func count(t *testing.T, db *store.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := db.SQL().QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func sync(t *testing.T, db *store.DB, coll string, rows []tracksync.Row, key, orderBy string) int64 {
	t.Helper()
	ctx := context.Background()
	staging, err := db.LoadStaging(ctx, coll, rows)
	if err != nil {
		t.Fatal(err)
	}
	target, err := db.EnsureTarget(ctx, coll, staging, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := db.Merge(ctx, coll, staging, target, key, orderBy)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestMergeInsertThenUpdate(t *testing.T) {
	is := is.New(t)
	db := open(t)

	rows := []tracksync.Row{
		{"id": int64(1), "name": "a", "updatedAt": "2025-11-01T00:00:00Z"},
		{"id": int64(2), "name": "b", "updatedAt": "2025-11-01T00:00:00Z"},
	}
	sync(t, db, "people", rows, "id", "updatedAt")
	is.Equal(count(t, db, `SELECT count(*) FROM "people"`), 2)

	// matched row updates in place, no duplicate appears
	rows[0]["name"] = "a2"
	rows[0]["updatedAt"] = "2025-11-02T00:00:00Z"
	sync(t, db, "people", rows, "id", "updatedAt")
	is.Equal(count(t, db, `SELECT count(*) FROM "people"`), 2)

	var name string
	err := db.SQL().QueryRow(`SELECT "name" FROM "people" WHERE "id" = 1`).Scan(&name)
	is.NoErr(err)
	is.Equal(name, "a2")

	// re-merging the same batch is a no-op on content
	sync(t, db, "people", rows, "id", "updatedAt")
	is.Equal(count(t, db, `SELECT count(*) FROM "people"`), 2)
	is.Equal(count(t, db, `SELECT count(*) FROM "people" WHERE "name" = 'a2'`), 1)
}

func TestMergeStagingTiesLatestWins(t *testing.T) {
	is := is.New(t)
	db := open(t)

	rows := []tracksync.Row{
		{"id": int64(1), "name": "old", "updatedAt": "2025-11-01T00:00:00Z"},
		{"id": int64(1), "name": "new", "updatedAt": "2025-11-03T00:00:00Z"},
	}
	sync(t, db, "people", rows, "id", "updatedAt")
	is.Equal(count(t, db, `SELECT count(*) FROM "people"`), 1)

	var name string
	is.NoErr(db.SQL().QueryRow(`SELECT "name" FROM "people"`).Scan(&name))
	is.Equal(name, "new")
}

func TestMergeNullKeysAlwaysInsert(t *testing.T) {
	is := is.New(t)
	db := open(t)

	rows := []tracksync.Row{
		{"id": nil, "name": "ghost"},
		{"id": int64(1), "name": "a"},
	}
	sync(t, db, "people", rows, "id", "updatedAt")
	sync(t, db, "people", rows, "id", "updatedAt")

	// NULL never matches NULL: the keyed row merged, the ghost doubled
	is.Equal(count(t, db, `SELECT count(*) FROM "people" WHERE "id" IS NULL`), 2)
	is.Equal(count(t, db, `SELECT count(*) FROM "people" WHERE "id" = 1`), 1)
}

func TestMergeMissingKeyColumn(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	staging, err := db.LoadStaging(ctx, "people", []tracksync.Row{{"name": "a"}})
	is.NoErr(err)
	_, err = db.EnsureTarget(ctx, "people", staging, nil)
	is.NoErr(err)
	_, err = db.Merge(ctx, "people", staging, staging, "id", "updatedAt")
	is.True(err != nil)
}

func TestEnsureTargetAdditiveColumns(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	declared := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeInt64},
		{Name: "name", Type: tracksync.TypeString},
	}
	got, err := db.EnsureTarget(ctx, "people", nil, declared)
	is.NoErr(err)
	is.Equal(len(got), 2)

	// a new upstream field widens the target, nothing is dropped
	staging := tracksync.Schema{
		{Name: "email", Type: tracksync.TypeString},
		{Name: "id", Type: tracksync.TypeInt64},
	}
	got, err = db.EnsureTarget(ctx, "people", staging, declared)
	is.NoErr(err)
	_, ok := got.Field("email")
	is.True(ok)
	_, ok = got.Field("name")
	is.True(ok)
}

func TestCheckpointRoundtrip(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	_, ok, err := db.Checkpoint(ctx, "actuals")
	is.NoErr(err)
	is.True(!ok)

	ts := time.Date(2025, 11, 12, 9, 30, 0, 0, time.UTC)
	is.NoErr(db.SetCheckpoint(ctx, "actuals", ts))
	got, ok, err := db.Checkpoint(ctx, "actuals")
	is.NoErr(err)
	is.True(ok)
	is.True(got.Equal(ts))

	later := ts.Add(24 * time.Hour)
	is.NoErr(db.SetCheckpoint(ctx, "actuals", later))
	got, _, _ = db.Checkpoint(ctx, "actuals")
	is.True(got.Equal(later))
}

func TestPurgeWindow(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	// before the target exists, purge is a no-op
	is.NoErr(db.PurgeWindow(ctx, "actuals", "2025-11-01", "2025-11-07", ""))

	rows := []tracksync.Row{
		{"id": int64(1), "date": "2025-10-25", "personId": int64(1)},
		{"id": int64(2), "date": "2025-11-03", "personId": int64(1)},
		{"id": int64(3), "date": "2025-11-05", "personId": int64(2)},
	}
	sync(t, db, "actuals", rows, "id", "updatedAt")

	is.NoErr(db.PurgeWindow(ctx, "actuals", "2025-11-01", "2025-11-07", "2"))
	is.Equal(count(t, db, `SELECT count(*) FROM "actuals"`), 2) // only id 3 purged

	is.NoErr(db.PurgeWindow(ctx, "actuals", "2025-11-01", "2025-11-07", ""))
	is.Equal(count(t, db, `SELECT count(*) FROM "actuals"`), 1) // id 1 outside the window
}

func TestMaintenance(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	rows := []tracksync.Row{
		{"id": int64(1), "sourceId": "a", "updatedAt": "2025-11-01T00:00:00Z"},
		{"id": int64(2), "sourceId": "a", "updatedAt": "2025-11-03T00:00:00Z"},
		{"id": int64(3), "sourceId": "b", "updatedAt": "2025-11-01T00:00:00Z"},
	}
	sync(t, db, "actuals", rows, "id", "updatedAt")

	removed, err := db.DedupeByColumn(ctx, "actuals", "sourceId", "updatedAt")
	is.NoErr(err)
	is.Equal(removed, int64(1)) // older "a" row dropped
	is.Equal(count(t, db, `SELECT count(*) FROM "actuals" WHERE "id" = 2`), 1)

	is.NoErr(db.Truncate(ctx, "actuals"))
	is.Equal(count(t, db, `SELECT count(*) FROM "actuals"`), 0)

	is.NoErr(db.Drop(ctx, "actuals"))
	again, err := db.EnsureTarget(ctx, "actuals", nil, tracksync.Schema{{Name: "id", Type: tracksync.TypeInt64}})
	is.NoErr(err)
	is.Equal(len(again), 1) // recreated fresh
}

func TestMergeProjectsStagingOntoTarget(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	declared := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeString},
		{Name: "tag", Type: tracksync.TypeString},
		{Name: "score", Type: tracksync.TypeInt64},
		{Name: "note", Type: tracksync.TypeString},
	}
	rows := []tracksync.Row{
		{"id": int64(7), "tag": []interface{}{"a", "b"}, "score": "41"},
	}
	staging, err := db.LoadStaging(ctx, "things", rows)
	is.NoErr(err)
	target, err := db.EnsureTarget(ctx, "things", staging, declared)
	is.NoErr(err)
	_, err = db.Merge(ctx, "things", staging, target, "id", "updatedAt")
	is.NoErr(err)

	var id, tag string
	var score int64
	var note interface{}
	is.NoErr(db.SQL().QueryRow(`SELECT "id", "tag", "score", "note" FROM "things"`).Scan(&id, &tag, &score, &note))
	is.Equal(id, "7")          // key cast to the declared type
	is.Equal(tag, "a")         // repeated value, scalar column: first element
	is.Equal(score, int64(41)) // string staged against an integer column
	is.Equal(note, nil)        // never staged, typed NULL
}

func TestMergeKeyMatchesAcrossStagedTypes(t *testing.T) {
	is := is.New(t)
	db := open(t)
	ctx := context.Background()

	declared := tracksync.Schema{
		{Name: "id", Type: tracksync.TypeString},
		{Name: "name", Type: tracksync.TypeString},
	}
	merge := func(rows []tracksync.Row) {
		staging, err := db.LoadStaging(ctx, "people", rows)
		is.NoErr(err)
		target, err := db.EnsureTarget(ctx, "people", staging, declared)
		is.NoErr(err)
		_, err = db.Merge(ctx, "people", staging, target, "id", "updatedAt")
		is.NoErr(err)
	}

	// one batch renders the key as a number, the next as a string; both
	// land on the declared key type and match
	merge([]tracksync.Row{{"id": int64(5), "name": "first"}})
	merge([]tracksync.Row{{"id": "5", "name": "second"}})

	is.Equal(count(t, db, `SELECT count(*) FROM "people"`), 1)
	var name string
	is.NoErr(db.SQL().QueryRow(`SELECT "name" FROM "people"`).Scan(&name))
	is.Equal(name, "second")
}
