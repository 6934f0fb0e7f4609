package audit

import "time"

// Entry is one row of the audit trail. Every RBAC mutation lands here:
// role create/delete, grant commits and role reassignments.
type Entry struct {
	ID         int64
	ActorID    int64
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	OccurredAt time.Time
}

// Filters narrows a timeline query.
type Filters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// Paging carries pagination metadata alongside a timeline page.
type Paging struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles one timeline page with its paging info.
type Result struct {
	Rows   []Entry
	Paging Paging
}
