// Package runn syncs the Runn API. Every endpoint is cursor-paginated with
// items under "values"; actuals and assignments additionally take a date
// window, and a few endpoints accept modifiedAfter for delta runs.
package runn

import (
	tracksync "github.com/ajzo90/go-tracksync"
)

const (
	DefaultBaseURL = "https://api.runn.io"
	apiVersion     = "1.0.0"
)

type Config struct {
	Token    tracksync.MaskedString `json:"token" required:"true"`
	BaseURL  string                 `json:"base_url"`
	PageSize int                    `json:"page_size"`
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func NewClient(c Config) *tracksync.Client {
	return &tracksync.Client{
		BaseURL: c.baseURL(),
		Headers: map[string]string{
			"Authorization":  "Bearer " + c.Token.String(),
			"Accept-Version": apiVersion,
		},
		PageSize: c.PageSize,
		Retry:    tracksync.DefaultRetryPolicy(),
	}
}

// ActualsSchema is the declared shape of the shared actuals table. Declared
// rather than inferred so the table exists with full typing even when the
// first window is empty.
var ActualsSchema = tracksync.Schema{
	{Name: "id", Type: tracksync.TypeInt64},
	{Name: "date", Type: tracksync.TypeDate},
	{Name: "billableMinutes", Type: tracksync.TypeInt64},
	{Name: "nonbillableMinutes", Type: tracksync.TypeInt64},
	{Name: "billableNote", Type: tracksync.TypeString},
	{Name: "nonbillableNote", Type: tracksync.TypeString},
	{Name: "personId", Type: tracksync.TypeInt64},
	{Name: "projectId", Type: tracksync.TypeInt64},
	{Name: "roleId", Type: tracksync.TypeInt64},
	{Name: "workstreamId", Type: tracksync.TypeInt64},
	{Name: "phaseId", Type: tracksync.TypeInt64},
	{Name: "createdAt", Type: tracksync.TypeTimestamp},
	{Name: "updatedAt", Type: tracksync.TypeTimestamp},
}

var TimeOffSchema = tracksync.Schema{
	{Name: "id", Type: tracksync.TypeInt64},
	{Name: "personId", Type: tracksync.TypeInt64},
	{Name: "startDate", Type: tracksync.TypeDate},
	{Name: "endDate", Type: tracksync.TypeDate},
	{Name: "minutesPerDay", Type: tracksync.TypeInt64},
	{Name: "note", Type: tracksync.TypeString},
	{Name: "createdAt", Type: tracksync.TypeTimestamp},
	{Name: "updatedAt", Type: tracksync.TypeTimestamp},
}

func coll(name, path string) tracksync.Collection {
	return tracksync.Collection{Name: name, Path: path, ItemsKey: "values"}
}

func incremental(c tracksync.Collection) tracksync.Collection {
	c.IncrementalFilter = true
	return c
}

// Source registers every Runn collection. Reference data is passthrough;
// actuals and time-offs carry declared schemas.
func Source(cfg Config) *tracksync.Source {
	people := coll("people", "people")
	people.GoType = Person{}

	projects := coll("projects", "projects")
	projects.GoType = Project{}

	contracts := incremental(coll("contracts", "contracts"))
	contracts.Params = map[string]string{"sortBy": "id"}

	assignments := incremental(coll("assignments", "assignments"))
	assignments.DateWindow = true
	assignments.GoType = Assignment{}

	actuals := incremental(coll("actuals", "actuals"))
	actuals.DateWindow = true
	actuals.Schema = ActualsSchema
	actuals.GoType = Actual{}

	leave := coll("timeoffs_leave", "time-offs/leave")
	leave.Schema = TimeOffSchema
	rostered := coll("timeoffs_rostered", "time-offs/rostered-off")
	rostered.Schema = TimeOffSchema
	holidays := coll("timeoffs_holidays", "time-offs/holidays")
	holidays.Schema = TimeOffSchema

	peopleFields := coll("custom_fields_people", "custom-fields")
	peopleFields.Params = map[string]string{"model": "PEOPLE"}
	projectFields := coll("custom_fields_projects", "custom-fields")
	projectFields.Params = map[string]string{"model": "PROJECTS"}

	return tracksync.NewSource(cfg).
		Collection(people).
		Collection(projects).
		Collection(coll("clients", "clients")).
		Collection(coll("roles", "roles")).
		Collection(coll("teams", "teams")).
		Collection(coll("skills", "skills")).
		Collection(coll("people_tags", "people-tags")).
		Collection(coll("project_tags", "project-tags")).
		Collection(coll("rate_cards", "rate-cards")).
		Collection(coll("workstreams", "workstreams")).
		Collection(coll("holiday_groups", "holiday-groups")).
		Collection(incremental(coll("placeholders", "placeholders"))).
		Collection(contracts).
		Collection(assignments).
		Collection(actuals).
		Collection(leave).
		Collection(rostered).
		Collection(holidays).
		Collection(peopleFields).
		Collection(projectFields)
}
