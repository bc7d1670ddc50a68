package clockify

import (
	"testing"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/matryer/is"
	"github.com/valyala/fastjson"
)

func record(t *testing.T, s string) tracksync.RawRecord {
	t.Helper()
	v, err := fastjson.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return tracksync.NewRawRecord(v)
}

func roster(t *testing.T) *tracksync.Mapper {
	t.Helper()
	m := tracksync.NewMapper()
	m.LoadPeople([]tracksync.RawRecord{
		record(t, `{"id": 42, "email": "ada@example.com"}`),
	})
	m.LoadProjects([]tracksync.RawRecord{
		record(t, `{"id": 7, "name": "Website Relaunch"}`),
	})
	return m
}

func TestTransformTimeEntry(t *testing.T) {
	is := is.New(t)
	rec := record(t, `{
		"_id": "64230fba0a27ff5e30fe8542",
		"userEmail": "Ada@Example.com",
		"userId": "u1",
		"projectName": "Website Relaunch",
		"projectId": "p1",
		"isBillable": true,
		"description": "sprint work",
		"timeInterval": {
			"start": "2025-11-10T08:00:00Z",
			"end": "2025-11-10T10:30:00Z",
			"duration": 9000
		}
	}`)

	row := transformTimeEntry(rec, roster(t))
	is.Equal(row["id"], tracksync.Surrogate("64230fba0a27ff5e30fe8542"))
	is.Equal(row["date"], "2025-11-10")
	is.Equal(row["billableMinutes"], int64(150)) // 9000s, all billable
	is.Equal(row["nonbillableMinutes"], int64(0))
	is.Equal(row["durationSeconds"], int64(9000))
	is.Equal(row["personId"], int64(42))
	is.Equal(row["matchedByEmail"], true)
	is.Equal(row["projectId"], int64(7))
	is.Equal(row[tracksync.AuditSourceColumn], "64230fba0a27ff5e30fe8542")
	is.Equal(row["sourceUserId"], "u1")
	is.Equal(row["sourceUserEmail"], "ada@example.com")
}

func TestTransformTimeEntryNonbillable(t *testing.T) {
	is := is.New(t)
	rec := record(t, `{
		"_id": "x1", "userEmail": "ada@example.com", "isBillable": false,
		"timeInterval": {"start": "2025-11-10T08:00:00Z", "duration": 3600}
	}`)
	row := transformTimeEntry(rec, roster(t))
	is.Equal(row["billableMinutes"], int64(0))
	is.Equal(row["nonbillableMinutes"], int64(60))
}

func TestTransformTimeEntryBillableFallback(t *testing.T) {
	is := is.New(t)
	// entries from the workspace endpoint flag billability as "billable"
	rec := record(t, `{
		"_id": "x3", "userEmail": "ada@example.com", "billable": true,
		"timeInterval": {"start": "2025-11-10T08:00:00Z", "duration": 1800}
	}`)
	row := transformTimeEntry(rec, roster(t))
	is.Equal(row["billableMinutes"], int64(30))
	is.Equal(row["nonbillableMinutes"], int64(0))

	// the report flag wins when both are present
	rec = record(t, `{
		"_id": "x4", "isBillable": false, "billable": true,
		"timeInterval": {"duration": 1800}
	}`)
	row = transformTimeEntry(rec, roster(t))
	is.Equal(row["billableMinutes"], int64(0))
	is.Equal(row["nonbillableMinutes"], int64(30))
}

func TestTransformTimeEntryUnknownPerson(t *testing.T) {
	is := is.New(t)
	rec := record(t, `{
		"_id": "x2", "userEmail": "ghost@example.com", "userId": "u9",
		"projectName": "Side Gig", "projectId": "p9",
		"timeInterval": {"start": "2025-11-10T08:00:00Z", "duration": 60}
	}`)
	row := transformTimeEntry(rec, roster(t))
	is.Equal(row["personId"], tracksync.Surrogate("u9"))
	is.Equal(row["matchedByEmail"], false)
	is.Equal(row["projectId"], tracksync.Surrogate("p9"))
}

func TestDurationFallbacks(t *testing.T) {
	is := is.New(t)

	// interval bounds when no numeric duration
	rec := record(t, `{"timeInterval": {"start": "2025-11-10T08:00:00Z", "end": "2025-11-10T09:15:00Z"}}`)
	is.Equal(durationSeconds(rec), int64(4500))

	// ISO-8601 string duration
	rec = record(t, `{"timeInterval": {"duration": "PT1H30M"}}`)
	is.Equal(durationSeconds(rec), int64(5400))

	// nothing usable
	is.Equal(durationSeconds(record(t, `{}`)), int64(0))
}

func TestISODurationSeconds(t *testing.T) {
	is := is.New(t)
	for in, want := range map[string]int64{
		"PT1H30M":  5400,
		"PT45S":    45,
		"P1DT2H":   93600,
		"PT2H5M6S": 7506,
		"PT":       0,
		"":         0,
	} {
		is.Equal(isoDurationSeconds(in), want)
	}
}

func TestTransformUser(t *testing.T) {
	is := is.New(t)
	row := transformUser(record(t, `{"id": "u1", "name": "Ada", "email": " Ada@Example.com ", "status": "ACTIVE"}`), nil)
	is.Equal(row["id"], "u1")
	is.Equal(row["email"], "ada@example.com")
	is.Equal(row["status"], "ACTIVE")
}

func TestSourceCollections(t *testing.T) {
	is := is.New(t)
	src := Source(Config{APIKey: "k", WorkspaceID: "w1"})
	is.NoErr(src.Validate())

	actuals, ok := src.Lookup("actuals")
	is.True(ok)
	is.Equal(actuals.Pagination, tracksync.PaginateReport)
	is.Equal(actuals.ItemsKey, "timeentries")
	is.True(actuals.DateWindow)
	_, ok = actuals.Schema.Field(actuals.Key())
	is.True(ok) // declared schema carries the merge key
}
