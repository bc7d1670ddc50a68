package runn

import (
	"context"
	"fmt"

	tracksync "github.com/ajzo90/go-tracksync"
)

// Roster builds the identity-bridging loader other sources use to map their
// records onto Runn people and projects. Fetches the full people and projects
// collections once per run.
func Roster(client *tracksync.Client, src *tracksync.Source) tracksync.RosterFunc {
	return func(ctx context.Context) (*tracksync.Mapper, error) {
		m := tracksync.NewMapper()
		loads := []struct {
			name string
			fn   func([]tracksync.RawRecord)
		}{
			{"people", m.LoadPeople},
			{"projects", m.LoadProjects},
		}
		for _, l := range loads {
			coll, ok := src.Lookup(l.name)
			if !ok {
				return nil, fmt.Errorf("roster: collection %q not registered", l.name)
			}
			recs, err := client.Fetch(ctx, coll, nil).All()
			if err != nil {
				return nil, err
			}
			recs, _ = tracksync.DedupBySourceID(recs)
			l.fn(recs)
		}
		return m, nil
	}
}
