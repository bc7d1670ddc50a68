package runn

// Record shapes as documented by the Runn API. Passthrough collections load
// whatever the API returns; these document the expected core fields.

type Person struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	RoleID    int64  `json:"roleId"`
	TeamID    int64  `json:"teamId"`
	IsActive  bool   `json:"isActive"`
	UpdatedAt string `json:"updatedAt"`
}

type Project struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ClientID   int64  `json:"clientId"`
	IsArchived bool   `json:"isArchived"`
	IsTemplate bool   `json:"isTemplate"`
	UpdatedAt  string `json:"updatedAt"`
}

type Assignment struct {
	ID              int64  `json:"id"`
	PersonID        int64  `json:"personId"`
	ProjectID       int64  `json:"projectId"`
	RoleID          int64  `json:"roleId"`
	WorkstreamID    int64  `json:"workstreamId"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	MinutesPerDay   int64  `json:"minutesPerDay"`
	IsBillable      bool   `json:"isBillable"`
	IsNonWorkingDay bool   `json:"isNonWorkingDay"`
	UpdatedAt       string `json:"updatedAt"`
}

type Actual struct {
	ID                 int64  `json:"id"`
	Date               string `json:"date"`
	BillableMinutes    int64  `json:"billableMinutes"`
	NonbillableMinutes int64  `json:"nonbillableMinutes"`
	PersonID           int64  `json:"personId"`
	ProjectID          int64  `json:"projectId"`
	RoleID             int64  `json:"roleId"`
	WorkstreamID       int64  `json:"workstreamId"`
	UpdatedAt          string `json:"updatedAt"`
}
