package tracksync

import (
	"encoding/binary"
	"log"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// surrogateMod bounds surrogate keys to 10 decimal digits. The keyspace is
// finite, so distinct source IDs colliding is a real possibility; the
// post-transform dedup pass detects it.
const surrogateMod = 10_000_000_000

// Surrogate derives a stable numeric key from an upstream string identifier:
// BLAKE2b-256 over the UTF-8 bytes, first 8 digest bytes as a big-endian
// integer, reduced modulo 10^10. Same input, same output, on every process
// and every run; never a runtime hash or anything seed-dependent.
func Surrogate(id string) int64 {
	sum := blake2b.Sum256([]byte(id))
	return int64(binary.BigEndian.Uint64(sum[:8]) % surrogateMod)
}

// MatchStats summarizes identity bridging for one run.
type MatchStats struct {
	Matched   int
	Unmatched int
}

func (s MatchStats) Total() int {
	return s.Matched + s.Unmatched
}

// Mapper cross-references identity between the two source systems. People are
// bridged by email against the authoritative roster, projects by name; when
// no roster entry exists the lookup falls back to the surrogate of the
// caller's own identifier.
type Mapper struct {
	people   map[string]int64
	projects map[string]int64
	stats    MatchStats
}

func NewMapper() *Mapper {
	return &Mapper{
		people:   map[string]int64{},
		projects: map[string]int64{},
	}
}

// LoadPeople indexes the authoritative roster by lowercased email.
func (m *Mapper) LoadPeople(people []RawRecord) {
	for _, p := range people {
		email := strings.ToLower(strings.TrimSpace(p.Str("email")))
		id := p.Int("id")
		if email != "" && id != 0 {
			m.people[email] = id
		}
	}
}

// LoadProjects indexes the authoritative projects by trimmed name.
func (m *Mapper) LoadProjects(projects []RawRecord) {
	for _, p := range projects {
		name := strings.TrimSpace(p.Str("name"))
		id := p.Int("id")
		if name != "" && id != 0 {
			m.projects[name] = id
		}
	}
}

// PersonID resolves a person: roster email first, surrogate of the source ID
// otherwise. Misses are counted, not dropped.
func (m *Mapper) PersonID(email, sourceID string) (int64, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		if id, ok := m.people[email]; ok {
			m.stats.Matched++
			return id, true
		}
	}
	m.stats.Unmatched++
	if sourceID == "" {
		return 0, false
	}
	return Surrogate(sourceID), false
}

// ProjectID resolves a project by name, falling back to the surrogate of the
// source ID. A record with neither yields nil so the column stays NULL.
func (m *Mapper) ProjectID(name, sourceID string) interface{} {
	name = strings.TrimSpace(name)
	if name != "" {
		if id, ok := m.projects[name]; ok {
			return id
		}
	}
	if sourceID == "" {
		return nil
	}
	return Surrogate(sourceID)
}

func (m *Mapper) Stats() MatchStats {
	return m.stats
}

// ResetStats clears match counters between collections so each one reports
// its own rate.
func (m *Mapper) ResetStats() {
	m.stats = MatchStats{}
}

// LogStats writes the match-rate summary for one collection.
func (m *Mapper) LogStats(collection string) {
	s := m.stats
	if s.Total() == 0 {
		return
	}
	log.Printf("[%s] identity bridge: %d/%d matched by roster, %d fell back to surrogate keys",
		collection, s.Matched, s.Total(), s.Unmatched)
}
