package tracksync

import (
	"context"
	"time"
)

// Store is the target-store contract: bulk-load a staging batch, upsert it
// into the target keyed on one column, and keep a small per-collection
// checkpoint record. Any columnar store offering these three primitives can
// back the engine.
type Store interface {
	// Init bootstraps the sync-state table.
	Init(ctx context.Context) error

	// Checkpoint reads the last-success watermark for a collection; ok is
	// false when none was ever written.
	Checkpoint(ctx context.Context, collection string) (ts time.Time, ok bool, err error)
	SetCheckpoint(ctx context.Context, collection string, ts time.Time) error

	// LoadStaging truncates and loads the transient staging area for a
	// collection and returns the staging schema inferred from the batch.
	LoadStaging(ctx context.Context, collection string, rows []Row) (Schema, error)

	// EnsureTarget creates the target on first sight (from the declared
	// schema when given, else from staging) and adds any additive staging
	// columns to an existing target. Returns the effective target schema.
	// A nil staging schema only guarantees existence of a declared target.
	EnsureTarget(ctx context.Context, collection string, staging, declared Schema) (Schema, error)

	// Merge upserts the staged batch into the target keyed on key: matched
	// rows have every non-key column updated, unmatched rows are inserted,
	// and a NULL key never matches anything, another NULL included. Ties
	// inside staging are broken by orderBy, most recent wins. Returns
	// affected rows.
	Merge(ctx context.Context, collection string, staging, target Schema, key, orderBy string) (int64, error)

	// PurgeWindow deletes target rows inside a date range (inclusive),
	// optionally narrowed to one person, ahead of a backfill merge.
	PurgeWindow(ctx context.Context, collection, from, to, personID string) error

	// Maintenance helpers surfaced by the CLI.
	Truncate(ctx context.Context, table string) error
	Drop(ctx context.Context, table string) error
	DedupeByColumn(ctx context.Context, table, col, orderBy string) (removed int64, err error)

	Close() error
}
