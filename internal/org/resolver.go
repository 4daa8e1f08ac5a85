// Package org validates organization targets and manages organization slugs.
package org

import (
	"context"
	"errors"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/status"
)

// Organization is a resolved organization-type team.
type Organization struct {
	ID       int64
	Slug     string
	Metadata directory.TeamMetadata
}

// Resolver validates that an identifier designates an actual organization
// before any mutation targets it.
type Resolver struct {
	store directory.Store
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store directory.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up orgID and asserts it carries the organization tag.
func (r *Resolver) Resolve(ctx context.Context, orgID int64) (*Organization, error) {
	team, err := r.store.FindTeamByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, status.NotFound("organization %d does not exist", orgID)
		}
		return nil, status.Internal(err, "looking up organization %d", orgID)
	}
	if !team.Metadata.IsOrganization {
		return nil, status.NotAnOrganization("team %d is not an organization", orgID)
	}
	return &Organization{
		ID:       team.ID,
		Slug:     team.SlugValue(),
		Metadata: team.Metadata,
	}, nil
}

// SetSlugIfNotSet adopts the organization's requested slug when no slug is
// set. It returns InvalidArgument when neither a slug nor a requested slug
// exists; callers treat that as a partial-success warning, since by the time
// it runs every other mutation has already committed.
func (r *Resolver) SetSlugIfNotSet(ctx context.Context, o *Organization) error {
	if o.Slug != "" {
		return nil
	}
	requested := o.Metadata.RequestedSlug
	if requested == "" {
		return status.InvalidArgument("organization %d has no slug and no requested slug", o.ID)
	}
	err := r.store.UpdateTeam(ctx, o.ID, directory.TeamPatch{Slug: &requested})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateKey) {
			return status.Conflict("slug %q is already taken", requested)
		}
		return status.Internal(err, "setting slug for organization %d", o.ID)
	}
	o.Slug = requested
	return nil
}
