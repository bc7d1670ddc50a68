package tracksync

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	DefaultLookbackDays = 90
	DefaultOverlapDays  = 7
)

// Window is the fetch window for one collection in one run.
type Window struct {
	Since         time.Time
	HasCheckpoint bool
}

// CheckpointManager computes fetch windows from stored watermarks and
// advances them after a successful sync. The stored checkpoint only ever
// moves forward.
type CheckpointManager struct {
	Store    Store
	Lookback time.Duration
	Overlap  time.Duration
}

// Window returns [checkpoint - overlap, now] when a checkpoint exists, else
// [now - lookback, now].
func (m *CheckpointManager) Window(ctx context.Context, collection string, now time.Time) (Window, error) {
	prev, ok, err := m.Store.Checkpoint(ctx, collection)
	if err != nil {
		return Window{}, fmt.Errorf("read checkpoint for %s: %w", collection, err)
	}
	if ok {
		return Window{Since: prev.Add(-m.Overlap), HasCheckpoint: true}, nil
	}
	return Window{Since: now.Add(-m.Lookback)}, nil
}

// Advance moves the checkpoint to the maximum last-modified timestamp seen
// among the fetched records, clamped to never regress. A batch of zero
// records leaves the checkpoint untouched: an empty window is no evidence the
// data behind it was really synchronized.
func (m *CheckpointManager) Advance(ctx context.Context, collection string, recs []RawRecord, now time.Time) error {
	if len(recs) == 0 {
		return nil
	}
	next := MaxUpdated(recs)
	if next.IsZero() {
		next = now
	}
	prev, ok, err := m.Store.Checkpoint(ctx, collection)
	if err != nil {
		return fmt.Errorf("read checkpoint for %s: %w", collection, err)
	}
	if ok && next.Before(prev) {
		next = prev
	}
	if err := m.Store.SetCheckpoint(ctx, collection, next); err != nil {
		return fmt.Errorf("advance checkpoint for %s: %w", collection, err)
	}
	log.Printf("[%s] checkpoint advanced to %s", collection, next.Format(time.RFC3339))
	return nil
}

// MaxUpdated scans a batch for the largest updatedAt (or updated_at)
// timestamp. Zero when no record carries one.
func MaxUpdated(recs []RawRecord) time.Time {
	var max time.Time
	for _, rec := range recs {
		t, ok := rec.Time("updatedAt")
		if !ok {
			t, ok = rec.Time("updated_at")
		}
		if ok && t.After(max) {
			max = t
		}
	}
	return max
}
