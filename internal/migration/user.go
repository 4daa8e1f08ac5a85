package migration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/status"
)

// MigrateUserArgs identifies the user to migrate and the target organization.
// Exactly one of UserID and Username must be set.
type MigrateUserArgs struct {
	UserID         int64
	Username       string
	TargetOrgID    int64
	TargetUsername string // optional; derived from the user's email when empty
	Role           string // membership role, defaults to DefaultRole
	Accepted       *bool  // membership accepted flag, defaults to true
}

// MigrateUserToOrg moves a standalone user into an organization: the user
// record is relocated, their non-organization teams are reparented, the
// organization membership is upserted, redirects are written for the old
// standalone identifiers, and the organization slug is back-filled if unset.
//
// The operation is idempotent: re-invoking it with the same arguments
// produces the same end state, and a user already in the target organization
// is treated as a refresh rather than an error.
func (e *Engine) MigrateUserToOrg(ctx context.Context, args MigrateUserArgs) error {
	m := &userMigration{eng: e, args: args}
	return e.run(ctx, "migrate_user", []step{
		{"validate_args", m.validateArgs},
		{"resolve_org", m.resolveOrg},
		{"locate_user", m.locateUser},
		{"resolve_usernames", m.resolveUsernames},
		{"check_username_collision", m.checkUsernameCollision},
		{"update_user", m.updateUser},
		{"reparent_teams", m.reparentTeams},
		{"upsert_membership", m.upsertMembership},
		{"write_redirects", m.writeRedirects},
		{"backfill_org_slug", m.backfillOrgSlug},
	})
}

// userMigration carries the state of one MigrateUserToOrg invocation across
// its steps.
type userMigration struct {
	eng  *Engine
	args MigrateUserArgs

	org                *org.Organization
	user               *directory.User
	teams              []*directory.Team // non-organization teams being reparented
	targetUsername     string
	standaloneUsername string
}

func (m *userMigration) validateArgs(ctx context.Context) error {
	if (m.args.UserID == 0) == (m.args.Username == "") {
		return status.InvalidArgument("exactly one of userId and userName must be given")
	}
	if m.args.TargetOrgID == 0 {
		return status.InvalidArgument("targetOrgId is required")
	}
	return nil
}

func (m *userMigration) resolveOrg(ctx context.Context) error {
	o, err := m.eng.orgs.Resolve(ctx, m.args.TargetOrgID)
	if err != nil {
		return err
	}
	m.org = o
	return nil
}

// locateUser finds the unique migration candidate. A username lookup keeps
// only users in the standalone namespace or already in the target
// organization; any user belonging to a different organization is a conflict.
func (m *userMigration) locateUser(ctx context.Context) error {
	if m.args.Username != "" {
		users, err := m.eng.store.FindUsersByUsername(ctx, m.args.Username)
		if err != nil {
			return internalErr(err, "looking up users named %q", m.args.Username)
		}
		var candidates []*directory.User
		for _, u := range users {
			if u.OrganizationID == nil || *u.OrganizationID == m.args.TargetOrgID {
				candidates = append(candidates, u)
			}
		}
		switch len(candidates) {
		case 0:
			return status.NotFound("no migratable user named %q", m.args.Username)
		case 1:
			m.user = candidates[0]
		default:
			return status.Conflict("username %q is ambiguous across namespaces", m.args.Username)
		}
	} else {
		u, err := m.eng.store.FindUserByID(ctx, m.args.UserID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return status.NotFound("user %d does not exist", m.args.UserID)
			}
			return internalErr(err, "looking up user %d", m.args.UserID)
		}
		m.user = u
	}

	// Re-migration into the same organization is a refresh; a different
	// organization is a hard conflict.
	if m.user.OrganizationID != nil && *m.user.OrganizationID != m.args.TargetOrgID {
		return status.Conflict("user %d already belongs to organization %d", m.user.ID, *m.user.OrganizationID)
	}
	return nil
}

// resolveUsernames determines the organization username and the standalone
// username preserved for reversal.
func (m *userMigration) resolveUsernames(ctx context.Context) error {
	m.targetUsername = m.args.TargetUsername
	if m.targetUsername == "" {
		derived, err := deriveUsername(m.user, m.org)
		if err != nil {
			return err
		}
		m.targetUsername = derived
	}

	// Prefer the previously recorded standalone handle so repeated
	// migrations don't lose the original.
	if prov := m.user.Metadata.MigratedToOrgFrom; prov != nil && prov.Username != "" {
		m.standaloneUsername = prov.Username
	} else {
		m.standaloneUsername = m.user.Username
	}
	if m.standaloneUsername == "" {
		return status.InvalidArgument("user %d has no standalone username to preserve", m.user.ID)
	}
	return nil
}

// deriveUsername builds an organization username from the user's email. When
// the organization declares an auto-accept email domain, the email must be
// under that domain.
func deriveUsername(u *directory.User, o *org.Organization) (string, error) {
	local, domain, ok := strings.Cut(u.Email, "@")
	if !ok || local == "" {
		return "", status.InvalidArgument("cannot derive an organization username for user %d", u.ID)
	}
	if accept := o.Metadata.OrgAutoAcceptEmail; accept != "" && !strings.EqualFold(domain, accept) {
		return "", status.InvalidArgument(
			"user %d's email is not under the organization's domain %q; supply a target username", u.ID, accept)
	}
	return local, nil
}

func (m *userMigration) checkUsernameCollision(ctx context.Context) error {
	existing, err := m.eng.store.FindFirstUser(ctx, directory.UserFilter{
		Username:        m.targetUsername,
		OrganizationID:  &m.args.TargetOrgID,
		HasOrganization: true,
	})
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil
		}
		return internalErr(err, "checking username %q in organization %d", m.targetUsername, m.args.TargetOrgID)
	}
	if existing.ID != m.user.ID {
		return status.Conflict("username %q is already taken in organization %d", m.targetUsername, m.args.TargetOrgID)
	}
	return nil
}

func (m *userMigration) updateUser(ctx context.Context) error {
	now := m.eng.now()
	patch := directory.UserPatch{
		Username:       &m.targetUsername,
		OrganizationID: &m.args.TargetOrgID,
		Metadata: &directory.UserMetadata{
			// Overwrites any prior provenance, clearing a reverted flag.
			MigratedToOrgFrom: &directory.MigrationProvenance{
				Username:          m.standaloneUsername,
				LastMigrationTime: &now,
			},
		},
	}
	if err := m.eng.store.UpdateUser(ctx, m.user.ID, patch); err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("username %q is already taken in organization %d", m.targetUsername, m.args.TargetOrgID)
		}
		return internalErr(err, "relocating user %d", m.user.ID)
	}
	return nil
}

// reparentTeams moves every non-organization team the user belongs to under
// the target organization. Teams already parented to another organization are
// reparented as well; that is documented behavior, not a bug.
func (m *userMigration) reparentTeams(ctx context.Context) error {
	teams, err := m.eng.nonOrgTeams(ctx, m.user.ID)
	if err != nil {
		return err
	}
	m.teams = teams
	if len(teams) == 0 {
		return nil
	}
	ids := make([]int64, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}
	err = m.eng.store.BulkUpdateTeams(ctx, ids, directory.TeamPatch{ParentID: &m.args.TargetOrgID})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("a team slug is already taken inside organization %d", m.args.TargetOrgID)
		}
		return internalErr(err, "reparenting teams of user %d", m.user.ID)
	}
	return nil
}

func (m *userMigration) upsertMembership(ctx context.Context) error {
	err := m.eng.store.UpsertMembership(ctx,
		m.user.ID, m.args.TargetOrgID,
		roleOrDefault(m.args.Role), acceptedOrDefault(m.args.Accepted))
	if err != nil {
		return internalErr(err, "upserting membership of user %d in organization %d", m.user.ID, m.args.TargetOrgID)
	}
	return nil
}

// writeRedirects points the old standalone identifiers at their organization
// URLs. A team without a slug is logged and skipped: forward migration
// tolerates slug-less intermediate states.
func (m *userMigration) writeRedirects(ctx context.Context) error {
	err := m.eng.redirects.Add(ctx,
		directory.RedirectUser, m.standaloneUsername, directory.StandaloneNamespace,
		m.eng.redirects.UserTarget(m.targetUsername))
	if err != nil {
		return err
	}
	for _, t := range m.teams {
		slug := t.SlugValue()
		if slug == "" {
			slog.Warn("team has no slug, skipping redirect", "team_id", t.ID, "org_id", m.args.TargetOrgID)
			continue
		}
		err := m.eng.redirects.Add(ctx,
			directory.RedirectTeam, slug, directory.StandaloneNamespace,
			m.eng.redirects.TeamTarget(slug))
		if err != nil {
			return err
		}
	}
	return nil
}

// backfillOrgSlug adopts the organization's requested slug if none is set.
// A missing requested slug is a partial-success warning rather than a
// failure: every other mutation has already committed.
func (m *userMigration) backfillOrgSlug(ctx context.Context) error {
	return backfillSlug(ctx, m.eng, m.org)
}

func backfillSlug(ctx context.Context, e *Engine, o *org.Organization) error {
	err := e.orgs.SetSlugIfNotSet(ctx, o)
	if err != nil && status.KindOf(err) == status.KindInvalidArgument {
		slog.Warn("organization left without a slug", "org_id", o.ID, "error", err)
		return nil
	}
	return err
}

// RemoveUserArgs identifies the user and organization for a reversal.
type RemoveUserArgs struct {
	UserID      int64
	TargetOrgID int64
}

// RemoveUserFromOrg reverses a prior migration: the standalone username is
// restored, the provenance is marked reverted, the user's non-organization
// teams are reparented back out of the organization, the standalone redirects
// are deleted, and the organization membership row is removed outright.
func (e *Engine) RemoveUserFromOrg(ctx context.Context, args RemoveUserArgs) error {
	r := &userReversal{eng: e, args: args}
	return e.run(ctx, "remove_user", []step{
		{"validate_args", r.validateArgs},
		{"resolve_org", r.resolveOrg},
		{"locate_user", r.locateUser},
		{"check_provenance", r.checkProvenance},
		{"restore_user", r.restoreUser},
		{"reparent_teams", r.reparentTeams},
		{"remove_redirects", r.removeRedirects},
		{"delete_membership", r.deleteMembership},
	})
}

type userReversal struct {
	eng  *Engine
	args RemoveUserArgs

	user  *directory.User
	prov  *directory.MigrationProvenance
	teams []*directory.Team // teams being reparented back out
}

func (r *userReversal) validateArgs(ctx context.Context) error {
	if r.args.UserID == 0 {
		return status.InvalidArgument("userId is required")
	}
	if r.args.TargetOrgID == 0 {
		return status.InvalidArgument("targetOrgId is required")
	}
	return nil
}

func (r *userReversal) resolveOrg(ctx context.Context) error {
	_, err := r.eng.orgs.Resolve(ctx, r.args.TargetOrgID)
	return err
}

func (r *userReversal) locateUser(ctx context.Context) error {
	u, err := r.eng.store.FindUserByID(ctx, r.args.UserID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return status.NotFound("user %d does not exist", r.args.UserID)
		}
		return internalErr(err, "looking up user %d", r.args.UserID)
	}
	if u.OrganizationID == nil || *u.OrganizationID != r.args.TargetOrgID {
		return status.Conflict("user %d is not in organization %d", r.args.UserID, r.args.TargetOrgID)
	}
	r.user = u
	return nil
}

func (r *userReversal) checkProvenance(ctx context.Context) error {
	prov := r.user.Metadata.MigratedToOrgFrom
	if prov == nil || prov.Username == "" {
		return status.InvalidArgument("user %d was never migrated into an organization", r.user.ID)
	}
	if prov.Reverted {
		return status.Conflict("migration of user %d has already been reverted", r.user.ID)
	}
	r.prov = prov
	return nil
}

func (r *userReversal) restoreUser(ctx context.Context) error {
	now := r.eng.now()
	reverted := *r.prov
	reverted.Reverted = true
	reverted.RevertTime = &now
	patch := directory.UserPatch{
		Username:          &r.prov.Username,
		ClearOrganization: true,
		Metadata:          &directory.UserMetadata{MigratedToOrgFrom: &reverted},
	}
	if err := r.eng.store.UpdateUser(ctx, r.user.ID, patch); err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("username %q is already taken in the standalone namespace", r.prov.Username)
		}
		return internalErr(err, "restoring user %d", r.user.ID)
	}
	return nil
}

// reparentTeams moves the user's non-organization teams that live under the
// target organization back to the standalone namespace.
func (r *userReversal) reparentTeams(ctx context.Context) error {
	teams, err := r.eng.nonOrgTeams(ctx, r.user.ID)
	if err != nil {
		return err
	}
	var inOrg []*directory.Team
	var ids []int64
	for _, t := range teams {
		if t.ParentID != nil && *t.ParentID == r.args.TargetOrgID {
			inOrg = append(inOrg, t)
			ids = append(ids, t.ID)
		}
	}
	r.teams = inOrg
	if len(ids) == 0 {
		return nil
	}
	err = r.eng.store.BulkUpdateTeams(ctx, ids, directory.TeamPatch{ClearParent: true})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("a team slug is already taken in the standalone namespace")
		}
		return internalErr(err, "reparenting teams of user %d", r.user.ID)
	}
	return nil
}

func (r *userReversal) removeRedirects(ctx context.Context) error {
	err := r.eng.redirects.Remove(ctx,
		directory.RedirectUser, r.prov.Username, directory.StandaloneNamespace)
	if err != nil {
		return err
	}
	for _, t := range r.teams {
		slug := t.SlugValue()
		if slug == "" {
			continue
		}
		err := r.eng.redirects.Remove(ctx, directory.RedirectTeam, slug, directory.StandaloneNamespace)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *userReversal) deleteMembership(ctx context.Context) error {
	err := r.eng.store.DeleteMembership(ctx, r.user.ID, r.args.TargetOrgID)
	if err != nil {
		return internalErr(err, "deleting membership of user %d in organization %d", r.user.ID, r.args.TargetOrgID)
	}
	return nil
}
