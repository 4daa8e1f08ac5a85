package directory

import "time"

// StandaloneNamespace is the from_org_id sentinel for redirects originating
// from the standalone (non-organization) namespace.
const StandaloneNamespace int64 = 0

// MigrationProvenance records where a migrated user came from, so the move
// can be reversed and re-runs don't lose the original standalone handle.
type MigrationProvenance struct {
	Username          string     `json:"username"`
	Reverted          bool       `json:"reverted,omitempty"`
	RevertTime        *time.Time `json:"revert_time,omitempty"`
	LastMigrationTime *time.Time `json:"last_migration_time,omitempty"`
}

// UserMetadata is the JSONB metadata blob on a user row, decoded once at the
// store boundary.
type UserMetadata struct {
	MigratedToOrgFrom *MigrationProvenance `json:"migrated_to_org_from,omitempty"`
}

// User is a directory user. A nil OrganizationID means the user lives in the
// standalone namespace.
type User struct {
	ID             int64
	Username       string
	Email          string
	OrganizationID *int64
	Metadata       UserMetadata
	CreatedAt      time.Time
}

// TeamMetadata is the JSONB metadata blob on a team row.
type TeamMetadata struct {
	IsOrganization     bool   `json:"is_organization,omitempty"`
	RequestedSlug      string `json:"requested_slug,omitempty"`
	OrgAutoAcceptEmail string `json:"org_auto_accept_email,omitempty"`
}

// Team is a directory team. Organization containers are teams tagged with
// Metadata.IsOrganization and always have a nil ParentID; an ordinary team's
// ParentID, when set, references its containing organization.
type Team struct {
	ID        int64
	Name      string
	Slug      *string
	ParentID  *int64
	Metadata  TeamMetadata
	CreatedAt time.Time
}

// SlugValue returns the team's slug, or "" when unset.
func (t *Team) SlugValue() string {
	if t.Slug == nil {
		return ""
	}
	return *t.Slug
}

// Membership links a user to a team. Unique per (UserID, TeamID).
type Membership struct {
	UserID    int64
	TeamID    int64
	Role      string
	Accepted  bool
	CreatedAt time.Time
}

// RedirectType distinguishes user and team redirect mappings.
type RedirectType string

const (
	RedirectUser RedirectType = "user"
	RedirectTeam RedirectType = "team"
)

// Redirect maps an old identifier in the FromOrgID namespace to a new URL.
// Unique per (Type, From, FromOrgID).
type Redirect struct {
	Type      RedirectType
	From      string
	FromOrgID int64
	ToURL     string
}
