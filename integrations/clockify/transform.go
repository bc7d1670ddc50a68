package clockify

import (
	"strings"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
)

func transformUser(rec tracksync.RawRecord, _ *tracksync.Mapper) tracksync.Row {
	return tracksync.Row{
		"id":     rec.SourceID(),
		"name":   rec.Str("name"),
		"email":  normEmail(rec.Str("email")),
		"status": rec.Str("status"),
	}
}

func transformProject(rec tracksync.RawRecord, _ *tracksync.Mapper) tracksync.Row {
	return tracksync.Row{
		"id":         rec.SourceID(),
		"name":       rec.Str("name"),
		"clientId":   rec.Str("clientId"),
		"clientName": rec.Str("clientName"),
		"archived":   rec.Bool("archived"),
		"billable":   rec.Bool("billable"),
	}
}

// transformTimeEntry maps one detailed-report entry onto the shared actuals
// shape. The person is bridged by email against the Runn roster, with a
// surrogate fallback; the project by name. Billable and non-billable minutes
// split on the entry's billable flag.
func transformTimeEntry(rec tracksync.RawRecord, m *tracksync.Mapper) tracksync.Row {
	sourceID := rec.SourceID()
	email := normEmail(rec.Str("userEmail"))
	personID, matched := m.PersonID(email, rec.Str("userId"))
	projectID := m.ProjectID(rec.Str("projectName"), rec.Str("projectId"))

	secs := durationSeconds(rec)
	minutes := secs / 60
	desc := rec.Str("description")
	var billable, nonbillable int64
	var billableNote, nonbillableNote string
	if entryBillable(rec) {
		billable, billableNote = minutes, desc
	} else {
		nonbillable, nonbillableNote = minutes, desc
	}

	row := tracksync.Row{
		"id":                 tracksync.Surrogate(sourceID),
		"date":               entryDate(rec),
		"billableMinutes":    billable,
		"nonbillableMinutes": nonbillable,
		"billableNote":       billableNote,
		"nonbillableNote":    nonbillableNote,
		"personId":           personID,
		"projectId":          projectID,
		"description":        desc,
		"durationSeconds":    secs,

		tracksync.AuditSourceColumn: sourceID,
		"sourceUserId":              rec.Str("userId"),
		"sourceUserEmail":           email,
		"matchedByEmail":            matched,
	}
	if t, ok := entryUpdated(rec); ok {
		row["updatedAt"] = t
	}
	return row
}

func normEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// entryBillable reads the billability flag. The detailed report API names it
// "isBillable"; the workspace time-entries endpoint uses "billable".
func entryBillable(rec tracksync.RawRecord) bool {
	if rec.Exists("isBillable") {
		return rec.Bool("isBillable")
	}
	return rec.Bool("billable")
}

// durationSeconds resolves the entry duration: explicit seconds from the
// report API, then the interval bounds, then an ISO-8601 duration string.
func durationSeconds(rec tracksync.RawRecord) int64 {
	if n := rec.Int("timeInterval", "duration"); n > 0 {
		return n
	}
	start, okS := rec.Time("timeInterval", "start")
	end, okE := rec.Time("timeInterval", "end")
	if okS && okE && end.After(start) {
		return int64(end.Sub(start) / time.Second)
	}
	if s := rec.Str("timeInterval", "duration"); s != "" {
		return isoDurationSeconds(s)
	}
	return 0
}

// isoDurationSeconds parses durations like "PT1H30M" or "P1DT2H". Unknown
// input yields 0.
func isoDurationSeconds(s string) int64 {
	var total, n int64
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int64(r-'0')
		case r == 'D':
			total, n = total+n*86400, 0
		case r == 'H':
			total, n = total+n*3600, 0
		case r == 'M':
			total, n = total+n*60, 0
		case r == 'S':
			total, n = total+n, 0
		default: // P, T
			n = 0
		}
	}
	return total
}

func entryDate(rec tracksync.RawRecord) interface{} {
	if t, ok := rec.Time("timeInterval", "start"); ok {
		return t.Format("2006-01-02")
	}
	return nil
}

func entryUpdated(rec tracksync.RawRecord) (time.Time, bool) {
	if t, ok := rec.Time("timeInterval", "end"); ok {
		return t, true
	}
	return rec.Time("timeInterval", "start")
}
