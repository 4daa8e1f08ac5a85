// Package directory holds the directory entities and the store contract the
// migration engine runs against. The Postgres implementation owns all
// persisted state; the in-memory implementation backs tests.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by point lookups when no row matches.
	ErrNotFound = errors.New("directory: not found")

	// ErrDuplicateKey is returned when a write violates a uniqueness
	// constraint (username per organization, team slug per namespace,
	// membership key, redirect key).
	ErrDuplicateKey = errors.New("directory: duplicate key value violates a uniqueness constraint")
)

// UserFilter selects users for FindFirstUser. Zero fields are ignored, except
// OrganizationID which matches the standalone namespace when HasOrganization
// is true and OrganizationID is nil.
type UserFilter struct {
	Username        string
	OrganizationID  *int64
	HasOrganization bool
}

// UserPatch is a partial update of a user row. Nil fields are left unchanged.
// ClearOrganization sets organization_id to NULL and wins over OrganizationID.
type UserPatch struct {
	Username          *string
	OrganizationID    *int64
	ClearOrganization bool
	Metadata          *UserMetadata
}

// TeamPatch is a partial update of a team row. ClearParent sets parent_id to
// NULL and wins over ParentID.
type TeamPatch struct {
	Slug        *string
	ParentID    *int64
	ClearParent bool
	Metadata    *TeamMetadata
}

// Store is the directory contract consumed by the migration engine. Every
// method is an independent commit; nothing here spans a transaction.
type Store interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUsersByUsername(ctx context.Context, username string) ([]*User, error)
	FindFirstUser(ctx context.Context, filter UserFilter) (*User, error)
	UpdateUser(ctx context.Context, id int64, patch UserPatch) error

	FindTeamByID(ctx context.Context, id int64) (*Team, error)
	FindTeamsByIDs(ctx context.Context, ids []int64) ([]*Team, error)
	UpdateTeam(ctx context.Context, id int64, patch TeamPatch) error
	BulkUpdateTeams(ctx context.Context, ids []int64, patch TeamPatch) error

	FindMembershipsByUser(ctx context.Context, userID int64) ([]*Membership, error)
	FindMembershipsByTeam(ctx context.Context, teamID int64) ([]*Membership, error)
	UpsertMembership(ctx context.Context, userID, teamID int64, role string, accepted bool) error
	DeleteMembership(ctx context.Context, userID, teamID int64) error

	UpsertRedirect(ctx context.Context, r Redirect) error
	// DeleteRedirects is a no-op, not an error, when zero rows match.
	DeleteRedirects(ctx context.Context, typ RedirectType, from string, fromOrgID int64) error
}
