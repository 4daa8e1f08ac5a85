package migration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/status"
)

// MoveTeamArgs identifies a single team to relocate into an organization.
type MoveTeamArgs struct {
	TeamID      int64
	TargetOrgID int64
	MoveMembers bool  // also migrate every existing team member
	Role        string // membership role for migrated members
	Accepted    *bool
}

// MoveTeamToOrg reparents a single team under the target organization, writes
// the team redirect, back-fills the organization slug, and optionally fans
// out MigrateUserToOrg for every existing member.
func (e *Engine) MoveTeamToOrg(ctx context.Context, args MoveTeamArgs) error {
	m := &teamMove{eng: e, args: args}
	steps := []step{
		{"validate_args", m.validateArgs},
		{"resolve_org", m.resolveOrg},
		{"locate_team", m.locateTeam},
		{"reparent_team", m.reparentTeam},
		{"write_redirect", m.writeRedirect},
		{"backfill_org_slug", m.backfillOrgSlug},
	}
	if args.MoveMembers {
		steps = append(steps, step{"move_members", m.moveMembers})
	}
	return e.run(ctx, "move_team", steps)
}

type teamMove struct {
	eng  *Engine
	args MoveTeamArgs

	org  *org.Organization
	team *directory.Team
}

func (m *teamMove) validateArgs(ctx context.Context) error {
	if m.args.TeamID == 0 {
		return status.InvalidArgument("teamId is required")
	}
	if m.args.TargetOrgID == 0 {
		return status.InvalidArgument("targetOrgId is required")
	}
	return nil
}

func (m *teamMove) resolveOrg(ctx context.Context) error {
	o, err := m.eng.orgs.Resolve(ctx, m.args.TargetOrgID)
	if err != nil {
		return err
	}
	m.org = o
	return nil
}

func (m *teamMove) locateTeam(ctx context.Context) error {
	t, err := m.eng.store.FindTeamByID(ctx, m.args.TeamID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return status.NotFound("team %d does not exist", m.args.TeamID)
		}
		return internalErr(err, "looking up team %d", m.args.TeamID)
	}
	if t.Metadata.IsOrganization {
		return status.InvalidArgument("team %d is an organization; organizations do not nest", t.ID)
	}
	m.team = t
	return nil
}

func (m *teamMove) reparentTeam(ctx context.Context) error {
	if m.team.ParentID != nil && *m.team.ParentID == m.args.TargetOrgID {
		// Refresh run; the remaining steps are idempotent.
		slog.Warn("team already belongs to the organization", "team_id", m.team.ID, "org_id", m.args.TargetOrgID)
		return nil
	}
	err := m.eng.store.UpdateTeam(ctx, m.team.ID, directory.TeamPatch{ParentID: &m.args.TargetOrgID})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("slug %q is already taken inside organization %d", m.team.SlugValue(), m.args.TargetOrgID)
		}
		return internalErr(err, "reparenting team %d", m.team.ID)
	}
	return nil
}

func (m *teamMove) writeRedirect(ctx context.Context) error {
	slug := m.team.SlugValue()
	if slug == "" {
		slog.Warn("team has no slug, skipping redirect", "team_id", m.team.ID, "org_id", m.args.TargetOrgID)
		return nil
	}
	return m.eng.redirects.Add(ctx,
		directory.RedirectTeam, slug, directory.StandaloneNamespace,
		m.eng.redirects.TeamTarget(slug))
}

func (m *teamMove) backfillOrgSlug(ctx context.Context) error {
	return backfillSlug(ctx, m.eng, m.org)
}

func (m *teamMove) moveMembers(ctx context.Context) error {
	memberships, err := m.eng.store.FindMembershipsByTeam(ctx, m.team.ID)
	if err != nil {
		return internalErr(err, "listing members of team %d", m.team.ID)
	}
	for _, mem := range memberships {
		err := m.eng.MigrateUserToOrg(ctx, MigrateUserArgs{
			UserID:      mem.UserID,
			TargetOrgID: m.args.TargetOrgID,
			Role:        m.args.Role,
			Accepted:    m.args.Accepted,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveTeamArgs identifies a team to move back out of an organization.
type RemoveTeamArgs struct {
	TeamID      int64
	TargetOrgID int64
}

// RemoveTeamFromOrg reverses a team relocation: the parent link is cleared
// and the team redirect deleted. A team that is not in the organization is a
// logged no-op. A slug clash in the standalone namespace surfaces as a
// Conflict, since the stale redirect mapping must be cleaned up manually
// before the slug can return.
func (e *Engine) RemoveTeamFromOrg(ctx context.Context, args RemoveTeamArgs) error {
	r := &teamRemoval{eng: e, args: args}
	return e.run(ctx, "remove_team", []step{
		{"validate_args", r.validateArgs},
		{"resolve_org", r.resolveOrg},
		{"locate_team", r.locateTeam},
		{"clear_parent", r.clearParent},
		{"remove_redirect", r.removeRedirect},
	})
}

type teamRemoval struct {
	eng  *Engine
	args RemoveTeamArgs

	team *directory.Team
}

func (r *teamRemoval) validateArgs(ctx context.Context) error {
	if r.args.TeamID == 0 {
		return status.InvalidArgument("teamId is required")
	}
	if r.args.TargetOrgID == 0 {
		return status.InvalidArgument("targetOrgId is required")
	}
	return nil
}

func (r *teamRemoval) resolveOrg(ctx context.Context) error {
	_, err := r.eng.orgs.Resolve(ctx, r.args.TargetOrgID)
	return err
}

func (r *teamRemoval) locateTeam(ctx context.Context) error {
	t, err := r.eng.store.FindTeamByID(ctx, r.args.TeamID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return status.NotFound("team %d does not exist", r.args.TeamID)
		}
		return internalErr(err, "looking up team %d", r.args.TeamID)
	}
	if t.ParentID == nil || *t.ParentID != r.args.TargetOrgID {
		slog.Warn("team is not in the organization, nothing to do", "team_id", t.ID, "org_id", r.args.TargetOrgID)
		return errStop
	}
	r.team = t
	return nil
}

func (r *teamRemoval) clearParent(ctx context.Context) error {
	err := r.eng.store.UpdateTeam(ctx, r.team.ID, directory.TeamPatch{ClearParent: true})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict(
				"slug %q is already in use outside organization %d; rename the team or remove the stale redirect mapping manually",
				r.team.SlugValue(), r.args.TargetOrgID)
		}
		return internalErr(err, "clearing parent of team %d", r.team.ID)
	}
	return nil
}

func (r *teamRemoval) removeRedirect(ctx context.Context) error {
	slug := r.team.SlugValue()
	if slug == "" {
		return nil
	}
	return r.eng.redirects.Remove(ctx, directory.RedirectTeam, slug, directory.StandaloneNamespace)
}
