package tracksync

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Modes accepted by Options.Mode.
const (
	ModeDelta = "delta"
	ModeFull  = "full"
)

// AuditSourceColumn carries the original upstream string ID on transformed
// rows, for audit and as a collision-free alternative merge key.
const AuditSourceColumn = "sourceId"

// Options is the trigger surface of one run.
type Options struct {
	Mode        string   `json:"mode"`
	Only        []string `json:"only"`
	DeltaDays   int      `json:"delta_days"`
	OverlapDays int      `json:"overlap_days"`
	RangeFrom   string   `json:"range_from"`
	RangeTo     string   `json:"range_to"`
	PersonID    string   `json:"person_id"`
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeDelta
	}
	if o.DeltaDays <= 0 {
		o.DeltaDays = DefaultLookbackDays
	}
	if o.OverlapDays <= 0 {
		o.OverlapDays = DefaultOverlapDays
	}
	return o
}

func (o Options) explicitRange() bool {
	return o.RangeFrom != "" && o.RangeTo != ""
}

func (o Options) Validate() error {
	switch o.Mode {
	case "", ModeDelta, ModeFull:
	default:
		return fmt.Errorf("invalid mode %q", o.Mode)
	}
	for _, d := range []string{o.RangeFrom, o.RangeTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid date %q: want YYYY-MM-DD", d)
		}
	}
	if (o.RangeFrom == "") != (o.RangeTo == "") {
		return fmt.Errorf("range_from and range_to must be set together")
	}
	return nil
}

// Result is the per-collection outcome of one run.
type Result struct {
	Rows       int64          `json:"rows"`
	Fetch      DedupStats     `json:"fetch"`
	Match      MatchStats     `json:"match,omitempty"`
	Analysis   *BatchAnalysis `json:"analysis,omitempty"`
	Collisions int            `json:"collisions,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// BatchAnalysis summarizes a transformed date-window batch before merge.
type BatchAnalysis struct {
	BillableMinutes    int64 `json:"billable_minutes"`
	NonbillableMinutes int64 `json:"nonbillable_minutes"`
	People             int   `json:"people"`
	Projects           int   `json:"projects"`
}

func analyzeBatch(rows []Row) *BatchAnalysis {
	a := &BatchAnalysis{}
	people := map[string]struct{}{}
	projects := map[string]struct{}{}
	for _, row := range rows {
		if n, ok := row["billableMinutes"].(int64); ok {
			a.BillableMinutes += n
		}
		if n, ok := row["nonbillableMinutes"].(int64); ok {
			a.NonbillableMinutes += n
		}
		if k, ok := row.Key("personId"); ok {
			people[k] = struct{}{}
		}
		if k, ok := row.Key("projectId"); ok {
			projects[k] = struct{}{}
		}
	}
	a.People, a.Projects = len(people), len(projects)
	return a
}

// Summary aggregates a run. OK is false as soon as one collection failed;
// sibling collections still run to completion.
type Summary struct {
	OK          bool              `json:"ok"`
	Total       int64             `json:"total_rows"`
	Collections map[string]Result `json:"collections"`
}

// RosterFunc loads the authoritative rosters used for identity bridging.
// Called at most once per run, and only when a collection needs mapping.
type RosterFunc func(ctx context.Context) (*Mapper, error)

// Syncer sequences fetch, dedup, transform, reconcile and merge per
// collection, strictly sequentially. All collaborators are explicit; two
// Syncers against different workspaces can share a process.
type Syncer struct {
	Source *Source
	Client *Client
	Store  Store
	Roster RosterFunc

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run executes one synchronization pass and reports per-collection results.
// It is safe to re-trigger: the merge is idempotent and checkpoints only move
// forward.
func (s *Syncer) Run(ctx context.Context, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}
	if err := s.Store.Init(ctx); err != nil {
		return Summary{}, fmt.Errorf("init store: %w", err)
	}

	now := s.now()
	cm := &CheckpointManager{
		Store:    s.Store,
		Lookback: time.Duration(opts.DeltaDays) * 24 * time.Hour,
		Overlap:  time.Duration(opts.OverlapDays) * 24 * time.Hour,
	}

	only := map[string]bool{}
	for _, name := range opts.Only {
		only[name] = true
	}

	summary := Summary{OK: true, Collections: map[string]Result{}}
	var mapper *Mapper

	for _, coll := range s.Source.Collections() {
		if len(only) > 0 && !only[coll.Name] {
			continue
		}
		if coll.Disabled {
			log.Printf("[%s] disabled, skipping", coll.Name)
			summary.Collections[coll.Name] = Result{}
			continue
		}
		if coll.Transform != nil && mapper == nil {
			var err error
			mapper, err = s.roster(ctx)
			if err != nil {
				// roster failure poisons every mapped collection, not the run
				res := Result{Error: fmt.Sprintf("load roster: %v", err)}
				summary.Collections[coll.Name] = res
				summary.OK = false
				continue
			}
		}
		res, err := s.syncCollection(ctx, cm, coll, opts, now, mapper)
		if err != nil {
			log.Printf("[%s] sync failed: %v", coll.Name, err)
			res.Error = err.Error()
			summary.OK = false
		}
		summary.Collections[coll.Name] = res
		summary.Total += res.Rows
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}
	return summary, nil
}

func (s *Syncer) roster(ctx context.Context) (*Mapper, error) {
	if s.Roster == nil {
		return NewMapper(), nil
	}
	return s.Roster(ctx)
}

func (s *Syncer) syncCollection(ctx context.Context, cm *CheckpointManager, coll Collection, opts Options, now time.Time, mapper *Mapper) (Result, error) {
	params := Query{}
	var purgeFrom, purgeTo string

	if coll.DateWindow {
		if opts.explicitRange() {
			params["dateFrom"] = opts.RangeFrom
			params["dateTo"] = opts.RangeTo
			purgeFrom, purgeTo = opts.RangeFrom, opts.RangeTo
		} else if opts.Mode == ModeDelta {
			days := opts.DeltaDays
			if opts.OverlapDays > days {
				days = opts.OverlapDays
			}
			params["dateFrom"] = now.AddDate(0, 0, -days).Format("2006-01-02")
			params["dateTo"] = now.Format("2006-01-02")
			purgeFrom, purgeTo = params["dateFrom"], params["dateTo"]
		}
		if opts.PersonID != "" {
			params["personId"] = opts.PersonID
		}
	}

	// Delta windows for non-date-window endpoints come from the checkpoint;
	// full resyncs and explicit ranges bypass it entirely.
	checkpointDriven := opts.Mode == ModeDelta && !opts.explicitRange()
	if checkpointDriven && coll.IncrementalFilter && !coll.DateWindow {
		w, err := cm.Window(ctx, coll.Name, now)
		if err != nil {
			return Result{}, err
		}
		params["modifiedAfter"] = w.Since.Format("2006-01-02T15:04:05Z")
		log.Printf("[%s] delta window since %s (checkpoint=%v)", coll.Name, params["modifiedAfter"], w.HasCheckpoint)
	}

	if coll.DateWindow && purgeFrom != "" {
		if err := s.Store.PurgeWindow(ctx, coll.Name, purgeFrom, purgeTo, opts.PersonID); err != nil {
			return Result{}, fmt.Errorf("purge window: %w", err)
		}
	}

	recs, err := s.Client.Fetch(ctx, coll, params).All()
	if err != nil {
		return Result{}, err
	}

	recs, fetchStats := DedupBySourceID(recs)
	if fetchStats.Duplicates > 0 {
		log.Printf("[%s] dropped %d duplicate source IDs of %d fetched (%.2fx duplication)",
			coll.Name, fetchStats.Duplicates, fetchStats.Total, fetchStats.Ratio())
	}

	res := Result{Fetch: fetchStats}

	var rows []Row
	sourceCol := coll.Key()
	if coll.Transform != nil {
		mapper.ResetStats()
		rows = make([]Row, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, coll.Transform(rec, mapper))
		}
		res.Match = mapper.Stats()
		mapper.LogStats(coll.Name)
		sourceCol = AuditSourceColumn
	} else {
		rows = make([]Row, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, rec.Fields())
		}
	}

	rows, collisions := DedupByKey(rows, coll.Key(), sourceCol)
	res.Collisions = len(collisions)

	if coll.Transform != nil && coll.DateWindow {
		res.Analysis = analyzeBatch(rows)
		log.Printf("[%s] batch: %dm billable, %dm non-billable across %d people, %d projects",
			coll.Name, res.Analysis.BillableMinutes, res.Analysis.NonbillableMinutes,
			res.Analysis.People, res.Analysis.Projects)
	}

	if len(rows) == 0 {
		log.Printf("[%s] no records in window", coll.Name)
		if coll.Schema != nil {
			if _, err := s.Store.EnsureTarget(ctx, coll.Name, nil, coll.Schema); err != nil {
				return res, fmt.Errorf("ensure target: %w", err)
			}
		}
		return res, nil
	}

	staging, err := s.Store.LoadStaging(ctx, coll.Name, rows)
	if err != nil {
		return res, fmt.Errorf("load staging: %w", err)
	}
	target, err := s.Store.EnsureTarget(ctx, coll.Name, staging, coll.Schema)
	if err != nil {
		return res, fmt.Errorf("ensure target: %w", err)
	}
	n, err := s.Store.Merge(ctx, coll.Name, staging, target, coll.Key(), coll.OrderColumn())
	if err != nil {
		return res, fmt.Errorf("merge: %w", err)
	}
	res.Rows = n
	log.Printf("[%s] upsert: %d rows", coll.Name, n)

	// only the path that consumed the checkpoint window moves the checkpoint
	if checkpointDriven && coll.IncrementalFilter && !coll.DateWindow {
		if err := cm.Advance(ctx, coll.Name, recs, now); err != nil {
			return res, err
		}
	}
	return res, nil
}
