package directory

import (
	"context"
	"errors"
	"testing"
)

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func TestMemStoreUserLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	ada := s.AddUser(User{Username: "ada", Email: "ada@acme.test"})
	s.AddUser(User{Username: "ada", OrganizationID: int64Ptr(9)})

	u, err := s.FindUserByID(ctx, ada.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if u.Username != "ada" {
		t.Errorf("Username = %q", u.Username)
	}

	if _, err := s.FindUserByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user: err = %v, want ErrNotFound", err)
	}

	users, err := s.FindUsersByUsername(ctx, "ada")
	if err != nil {
		t.Fatalf("FindUsersByUsername: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].ID > users[1].ID {
		t.Error("results not ordered by id")
	}
}

func TestMemStoreFindFirstUserFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	standalone := s.AddUser(User{Username: "ada"})
	inOrg := s.AddUser(User{Username: "ada", OrganizationID: int64Ptr(5)})

	u, err := s.FindFirstUser(ctx, UserFilter{Username: "ada", HasOrganization: true})
	if err != nil {
		t.Fatalf("standalone filter: %v", err)
	}
	if u.ID != standalone.ID {
		t.Errorf("nil-org filter matched user %d, want %d", u.ID, standalone.ID)
	}

	u, err = s.FindFirstUser(ctx, UserFilter{Username: "ada", OrganizationID: int64Ptr(5), HasOrganization: true})
	if err != nil {
		t.Fatalf("org filter: %v", err)
	}
	if u.ID != inOrg.ID {
		t.Errorf("org filter matched user %d, want %d", u.ID, inOrg.ID)
	}

	if _, err := s.FindFirstUser(ctx, UserFilter{Username: "grace"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("no match: err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreUpdateUserUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.AddUser(User{Username: "ada", OrganizationID: int64Ptr(5)})
	grace := s.AddUser(User{Username: "grace"})

	// Same username in a different namespace is fine.
	if err := s.UpdateUser(ctx, grace.ID, UserPatch{Username: strPtr("ada")}); err != nil {
		t.Fatalf("cross-namespace rename: %v", err)
	}

	// Moving into the occupied namespace collides.
	err := s.UpdateUser(ctx, grace.ID, UserPatch{OrganizationID: int64Ptr(5)})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestMemStoreClearOrganization(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	u := s.AddUser(User{Username: "ada", OrganizationID: int64Ptr(5)})

	if err := s.UpdateUser(ctx, u.ID, UserPatch{ClearOrganization: true}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, _ := s.FindUserByID(ctx, u.ID)
	if got.OrganizationID != nil {
		t.Errorf("OrganizationID = %v, want nil", *got.OrganizationID)
	}
}

func TestMemStoreTeamSlugUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.AddTeam(Team{Slug: strPtr("compilers"), ParentID: int64Ptr(5)})
	loose := s.AddTeam(Team{Slug: strPtr("compilers")})

	// Same slug in different namespaces coexists; moving the standalone
	// team into org 5 collides.
	err := s.UpdateTeam(ctx, loose.ID, TeamPatch{ParentID: int64Ptr(5)})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}

	// Slug-less teams never collide.
	bare := s.AddTeam(Team{})
	if err := s.UpdateTeam(ctx, bare.ID, TeamPatch{ParentID: int64Ptr(5)}); err != nil {
		t.Errorf("slug-less reparent: %v", err)
	}
}

func TestMemStoreBulkUpdateTeamsSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	a := s.AddTeam(Team{Slug: strPtr("a")})
	b := s.AddTeam(Team{Slug: strPtr("b")})

	err := s.BulkUpdateTeams(ctx, []int64{a.ID, 999, b.ID}, TeamPatch{ParentID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("BulkUpdateTeams: %v", err)
	}
	for _, id := range []int64{a.ID, b.ID} {
		got, _ := s.FindTeamByID(ctx, id)
		if got.ParentID == nil || *got.ParentID != 7 {
			t.Errorf("team %d ParentID = %v, want 7", id, got.ParentID)
		}
	}
}

func TestMemStoreMembershipUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.UpsertMembership(ctx, 1, 2, "member", true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMembership(ctx, 1, 2, "admin", false); err != nil {
		t.Fatal(err)
	}
	m := s.Membership(1, 2)
	if m == nil || m.Role != "admin" || m.Accepted {
		t.Errorf("membership = %+v, want role admin, unaccepted", m)
	}

	if err := s.DeleteMembership(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}
	if s.Membership(1, 2) != nil {
		t.Error("membership survived delete")
	}
	// Deleting again is a no-op.
	if err := s.DeleteMembership(ctx, 1, 2); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestMemStoreRedirects(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	r := Redirect{Type: RedirectUser, From: "ada", FromOrgID: StandaloneNamespace, ToURL: "https://x/ada"}
	if err := s.UpsertRedirect(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.ToURL = "https://x/ada2"
	if err := s.UpsertRedirect(ctx, r); err != nil {
		t.Fatal(err)
	}
	if s.RedirectCount() != 1 {
		t.Errorf("RedirectCount = %d, want 1", s.RedirectCount())
	}
	if got := s.Redirect(RedirectUser, "ada", StandaloneNamespace); got == nil || got.ToURL != "https://x/ada2" {
		t.Errorf("redirect = %+v", got)
	}

	if err := s.DeleteRedirects(ctx, RedirectUser, "ada", StandaloneNamespace); err != nil {
		t.Fatal(err)
	}
	if s.RedirectCount() != 0 {
		t.Error("redirect survived delete")
	}
}

func TestMemStoreFailOnFiresOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	u := s.AddUser(User{Username: "ada"})

	boom := errors.New("boom")
	s.FailOn["FindUserByID"] = boom

	if _, err := s.FindUserByID(ctx, u.ID); !errors.Is(err, boom) {
		t.Fatalf("first call: err = %v, want boom", err)
	}
	if _, err := s.FindUserByID(ctx, u.ID); err != nil {
		t.Fatalf("second call should succeed: %v", err)
	}
	if len(s.Calls) != 2 || s.Calls[0] != "FindUserByID" {
		t.Errorf("Calls = %v", s.Calls)
	}
}
