package org

import (
	"context"
	"errors"
	"testing"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/status"
)

func strPtr(s string) *string { return &s }

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := directory.NewMemStore()
	orgTeam := store.AddTeam(directory.Team{
		Name: "Acme",
		Slug: strPtr("acme"),
		Metadata: directory.TeamMetadata{
			IsOrganization: true,
		},
	})
	plain := store.AddTeam(directory.Team{Name: "Compilers", Slug: strPtr("compilers")})

	r := NewResolver(store)

	o, err := r.Resolve(ctx, orgTeam.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o.ID != orgTeam.ID || o.Slug != "acme" {
		t.Errorf("got %+v", o)
	}

	if _, err := r.Resolve(ctx, plain.ID); !errors.Is(err, status.NotAnOrganization("")) {
		t.Errorf("plain team: err = %v, want NotAnOrganization", err)
	}

	if _, err := r.Resolve(ctx, 999); !errors.Is(err, status.NotFound("")) {
		t.Errorf("missing team: err = %v, want NotFound", err)
	}
}

func TestSetSlugIfNotSet(t *testing.T) {
	ctx := context.Background()

	t.Run("adopts requested slug", func(t *testing.T) {
		store := directory.NewMemStore()
		team := store.AddTeam(directory.Team{
			Metadata: directory.TeamMetadata{IsOrganization: true, RequestedSlug: "acme"},
		})
		r := NewResolver(store)
		o, _ := r.Resolve(ctx, team.ID)

		if err := r.SetSlugIfNotSet(ctx, o); err != nil {
			t.Fatalf("SetSlugIfNotSet: %v", err)
		}
		if o.Slug != "acme" {
			t.Errorf("Slug = %q, want acme", o.Slug)
		}
		stored, _ := store.FindTeamByID(ctx, team.ID)
		if stored.SlugValue() != "acme" {
			t.Errorf("stored slug = %q", stored.SlugValue())
		}
	})

	t.Run("existing slug is kept", func(t *testing.T) {
		store := directory.NewMemStore()
		team := store.AddTeam(directory.Team{
			Slug:     strPtr("orig"),
			Metadata: directory.TeamMetadata{IsOrganization: true, RequestedSlug: "acme"},
		})
		r := NewResolver(store)
		o, _ := r.Resolve(ctx, team.ID)

		if err := r.SetSlugIfNotSet(ctx, o); err != nil {
			t.Fatalf("SetSlugIfNotSet: %v", err)
		}
		stored, _ := store.FindTeamByID(ctx, team.ID)
		if stored.SlugValue() != "orig" {
			t.Errorf("stored slug = %q, want orig", stored.SlugValue())
		}
	})

	t.Run("no requested slug", func(t *testing.T) {
		store := directory.NewMemStore()
		team := store.AddTeam(directory.Team{
			Metadata: directory.TeamMetadata{IsOrganization: true},
		})
		r := NewResolver(store)
		o, _ := r.Resolve(ctx, team.ID)

		err := r.SetSlugIfNotSet(ctx, o)
		if !errors.Is(err, status.InvalidArgument("")) {
			t.Errorf("err = %v, want InvalidArgument", err)
		}
	})

	t.Run("requested slug taken", func(t *testing.T) {
		store := directory.NewMemStore()
		store.AddTeam(directory.Team{Slug: strPtr("acme")})
		team := store.AddTeam(directory.Team{
			Metadata: directory.TeamMetadata{IsOrganization: true, RequestedSlug: "acme"},
		})
		r := NewResolver(store)
		o, _ := r.Resolve(ctx, team.ID)

		err := r.SetSlugIfNotSet(ctx, o)
		if !errors.Is(err, status.Conflict("")) {
			t.Errorf("err = %v, want Conflict", err)
		}
	})
}
