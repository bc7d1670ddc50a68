// Package clockify syncs a Clockify workspace. Users and projects come from
// the page-paginated workspace API; time entries come from the detailed
// report API, which lives on its own host and is driven by POSTed page
// requests. Report entries land in the same actuals table Runn fills, keyed
// on surrogate IDs derived from the upstream entry ID.
package clockify

import (
	"fmt"
	"strings"

	tracksync "github.com/ajzo90/go-tracksync"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://api.clockify.me/api/v1"
	DefaultReportsURL = "https://reports.api.clockify.me/v1"
)

type Config struct {
	APIKey      tracksync.MaskedString `json:"api_key" required:"true"`
	WorkspaceID string                 `json:"workspace_id" required:"true"`
	BaseURL     string                 `json:"base_url"`
	ReportsURL  string                 `json:"reports_url"`
	PageSize    int                    `json:"page_size"`
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c Config) reportsURL() string {
	if c.ReportsURL == "" {
		return DefaultReportsURL
	}
	return c.ReportsURL
}

func NewClient(c Config) *tracksync.Client {
	return &tracksync.Client{
		BaseURL:  c.baseURL(),
		Headers:  map[string]string{"X-Api-Key": c.APIKey.String()},
		PageSize: c.PageSize,
		Retry:    tracksync.DefaultRetryPolicy(),
		// the report API throttles aggressively
		Limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
}

// actualsSchema mirrors the Runn actuals shape plus the audit columns carried
// by bridged rows.
var actualsSchema = tracksync.Schema{
	{Name: "id", Type: tracksync.TypeInt64},
	{Name: "date", Type: tracksync.TypeDate},
	{Name: "billableMinutes", Type: tracksync.TypeInt64},
	{Name: "nonbillableMinutes", Type: tracksync.TypeInt64},
	{Name: "billableNote", Type: tracksync.TypeString},
	{Name: "nonbillableNote", Type: tracksync.TypeString},
	{Name: "personId", Type: tracksync.TypeInt64},
	{Name: "projectId", Type: tracksync.TypeInt64},
	{Name: "description", Type: tracksync.TypeString},
	{Name: "durationSeconds", Type: tracksync.TypeInt64},
	{Name: tracksync.AuditSourceColumn, Type: tracksync.TypeString},
	{Name: "sourceUserId", Type: tracksync.TypeString},
	{Name: "sourceUserEmail", Type: tracksync.TypeString},
	{Name: "matchedByEmail", Type: tracksync.TypeBool},
	{Name: "updatedAt", Type: tracksync.TypeTimestamp},
}

// Source registers the workspace collections.
func Source(cfg Config) *tracksync.Source {
	users := tracksync.Collection{
		Name:       "clockify_users",
		Path:       fmt.Sprintf("workspaces/%s/users", cfg.WorkspaceID),
		Pagination: tracksync.PaginatePage,
		Transform:  transformUser,
		OrderBy:    "name",
	}
	projects := tracksync.Collection{
		Name:       "clockify_projects",
		Path:       fmt.Sprintf("workspaces/%s/projects", cfg.WorkspaceID),
		Pagination: tracksync.PaginatePage,
		Params:     map[string]string{"archived": "false"},
		Transform:  transformProject,
		OrderBy:    "name",
	}
	actuals := tracksync.Collection{
		Name:       "actuals",
		Path:       fmt.Sprintf("%s/workspaces/%s/reports/detailed", strings.TrimSuffix(cfg.reportsURL(), "/"), cfg.WorkspaceID),
		Pagination: tracksync.PaginateReport,
		ItemsKey:   "timeentries",
		DateWindow: true,
		Schema:     actualsSchema,
		Transform:  transformTimeEntry,
	}
	return tracksync.NewSource(cfg).
		Collection(users).
		Collection(projects).
		Collection(actuals)
}
