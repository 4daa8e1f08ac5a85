package audit

import "time"

// Event records one invocation of a migration operation.
type Event struct {
	ID         int64     `json:"id,omitempty"`
	Time       time.Time `json:"time"`
	Operation  string    `json:"operation"`
	UserID     int64     `json:"user_id,omitempty"`
	TeamID     int64     `json:"team_id,omitempty"`
	OrgID      int64     `json:"org_id,omitempty"`
	Outcome    string    `json:"outcome"` // "ok" or the error kind
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	RequestID  string    `json:"request_id,omitempty"`
}
