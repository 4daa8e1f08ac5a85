// Package migration implements the namespace transitions between standalone
// and organization records: user migration, team relocation, and their
// reversals.
//
// Each operation is an ordered list of named steps. The sequence is not
// wrapped in a store transaction: every step commits independently and is
// safe to retry, so the recovery procedure for a partially applied operation
// is to re-run it with the same arguments. A step failure aborts the
// remainder of the invocation and surfaces a typed status error.
package migration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/redirect"
	"github.com/alecgard/annex/internal/status"
)

// DefaultRole is the membership role used when the caller supplies none.
const DefaultRole = "member"

// StepHook observes every executed step. Wired to metrics in the server;
// tests use it to assert on step boundaries.
type StepHook func(op, step string, err error, elapsed time.Duration)

// Engine orchestrates the multi-step transitions. It holds no state of its
// own beyond the in-flight operation.
type Engine struct {
	store     directory.Store
	orgs      *org.Resolver
	redirects *redirect.Maintainer
	stepHook  StepHook
	now       func() time.Time // injectable clock for testing
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(store directory.Store, orgs *org.Resolver, redirects *redirect.Maintainer) *Engine {
	return &Engine{
		store:     store,
		orgs:      orgs,
		redirects: redirects,
		now:       time.Now,
	}
}

// SetStepHook installs a hook invoked after every step.
func (e *Engine) SetStepHook(h StepHook) {
	e.stepHook = h
}

// step is a named unit of an operation. Steps run in order; each must be
// independently safe to retry.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// errStop terminates a sequence early without error. Used by the documented
// no-op paths (e.g. removing a team that is not in the organization).
var errStop = errors.New("migration: stop sequence")

func (e *Engine) run(ctx context.Context, op string, steps []step) error {
	for _, s := range steps {
		start := e.now()
		err := s.run(ctx)
		stopped := errors.Is(err, errStop)
		if stopped {
			err = nil
		}
		if e.stepHook != nil {
			e.stepHook(op, s.name, err, time.Since(start))
		}
		if err != nil {
			slog.Debug("operation aborted", "op", op, "step", s.name, "error", err)
			return err
		}
		if stopped {
			return nil
		}
	}
	return nil
}

// internalErr passes typed errors through and wraps everything else.
func internalErr(err error, format string, args ...any) error {
	var se *status.Error
	if errors.As(err, &se) {
		return err
	}
	return status.Internal(err, format, args...)
}

// nonOrgTeams returns the teams a user is a member of that are not themselves
// organizations.
func (e *Engine) nonOrgTeams(ctx context.Context, userID int64) ([]*directory.Team, error) {
	memberships, err := e.store.FindMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, internalErr(err, "listing memberships for user %d", userID)
	}
	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.TeamID)
	}
	teams, err := e.store.FindTeamsByIDs(ctx, ids)
	if err != nil {
		return nil, internalErr(err, "listing teams for user %d", userID)
	}
	out := teams[:0]
	for _, t := range teams {
		if !t.Metadata.IsOrganization {
			out = append(out, t)
		}
	}
	return out, nil
}

func acceptedOrDefault(accepted *bool) bool {
	if accepted == nil {
		return true
	}
	return *accepted
}

func roleOrDefault(role string) string {
	if role == "" {
		return DefaultRole
	}
	return role
}
