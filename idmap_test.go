package tracksync

import (
	"testing"

	"github.com/matryer/is"
	"github.com/valyala/fastjson"
)

func record(t *testing.T, s string) RawRecord {
	t.Helper()
	v, err := fastjson.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return NewRawRecord(v)
}

func TestSurrogate(t *testing.T) {
	is := is.New(t)
	a := Surrogate("64230fba0a27ff5e30fe8542")
	is.Equal(a, Surrogate("64230fba0a27ff5e30fe8542")) // stable across calls
	is.True(a >= 0 && a < 10_000_000_000)
	is.True(a != Surrogate("64230fba0a27ff5e30fe8543"))
}

func TestMapperPersonID(t *testing.T) {
	is := is.New(t)
	m := NewMapper()
	m.LoadPeople([]RawRecord{
		record(t, `{"id": 42, "email": " Ada@Example.com "}`),
		record(t, `{"id": 43, "email": "grace@example.com"}`),
		record(t, `{"id": 44}`), // no email, not indexed
	})

	id, ok := m.PersonID("ada@example.com", "u1")
	is.True(ok)
	is.Equal(id, int64(42))

	id, ok = m.PersonID("GRACE@EXAMPLE.COM", "u2") // case-insensitive
	is.True(ok)
	is.Equal(id, int64(43))

	id, ok = m.PersonID("ghost@example.com", "u9")
	is.True(!ok) // no roster entry, surrogate fallback
	is.Equal(id, Surrogate("u9"))

	id, ok = m.PersonID("", "")
	is.True(!ok)
	is.Equal(id, int64(0))

	is.Equal(m.Stats(), MatchStats{Matched: 2, Unmatched: 2})
	m.ResetStats()
	is.Equal(m.Stats().Total(), 0)
}

func TestMapperProjectID(t *testing.T) {
	is := is.New(t)
	m := NewMapper()
	m.LoadProjects([]RawRecord{
		record(t, `{"id": 7, "name": "Website Relaunch"}`),
	})

	is.Equal(m.ProjectID("Website Relaunch", "p1"), int64(7))
	is.Equal(m.ProjectID(" Website Relaunch ", "p1"), int64(7))
	is.Equal(m.ProjectID("Unknown", "p1"), Surrogate("p1"))
	is.Equal(m.ProjectID("", ""), nil) // stays NULL
}
