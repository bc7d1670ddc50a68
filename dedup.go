package tracksync

import "log"

// DedupStats reports the outcome of the pre-transform dedup pass.
type DedupStats struct {
	Total      int
	Duplicates int
	Unique     int
}

// Ratio is total seen per unique record; 1.0 means no duplication.
func (s DedupStats) Ratio() float64 {
	if s.Unique == 0 {
		return 1
	}
	return float64(s.Total) / float64(s.Unique)
}

// DedupBySourceID removes records repeating an upstream string ID, keeping
// the first occurrence. Paginated fetches can hand back the same item under
// several pagination contexts (one per assignee, for instance); this pass
// collapses those before any transformation. Records with no ID pass through.
func DedupBySourceID(recs []RawRecord) ([]RawRecord, DedupStats) {
	seen := make(map[string]struct{}, len(recs))
	out := recs[:0:0]
	stats := DedupStats{Total: len(recs)}
	for _, rec := range recs {
		id := rec.SourceID()
		if id != "" {
			if _, dup := seen[id]; dup {
				stats.Duplicates++
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, rec)
	}
	stats.Unique = len(out)
	return out, stats
}

// Collision records two distinct source IDs reduced to the same merge key.
type Collision struct {
	Key     string
	Kept    string
	Dropped string
}

// DedupByKey scans a transformed batch for merge-key collisions: two source
// records producing the same generated key, which the source-ID pass cannot
// see. First-seen wins; every collision is logged with both source IDs so a
// genuine hash collision is visible instead of silently double-counted.
// Rows with a NULL key pass through untouched.
func DedupByKey(rows []Row, keyCol, sourceCol string) ([]Row, []Collision) {
	firstSource := make(map[string]string, len(rows))
	out := rows[:0:0]
	var collisions []Collision
	for _, row := range rows {
		key, ok := row.Key(keyCol)
		if !ok {
			out = append(out, row)
			continue
		}
		src, _ := row.Key(sourceCol)
		if kept, dup := firstSource[key]; dup {
			collisions = append(collisions, Collision{Key: key, Kept: kept, Dropped: src})
			log.Printf("merge-key collision on %s: kept source %q, dropped source %q", key, kept, src)
			continue
		}
		firstSource[key] = src
		out = append(out, row)
	}
	return out, collisions
}
