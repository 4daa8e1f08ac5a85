package directory

import (
	"context"
	"sort"
	"sync"
)

type membershipKey struct {
	userID int64
	teamID int64
}

type redirectKey struct {
	typ       RedirectType
	from      string
	fromOrgID int64
}

// MemStore is an in-memory Store for tests and local experimentation. It
// emulates the uniqueness constraints the Postgres schema enforces
// (username per organization namespace, team slug per parent namespace,
// membership key, redirect key).
type MemStore struct {
	mu          sync.Mutex
	users       map[int64]*User
	teams       map[int64]*Team
	memberships map[membershipKey]*Membership
	redirects   map[redirectKey]*Redirect
	nextUserID  int64
	nextTeamID  int64

	// FailOn injects a one-shot failure for the named store method, letting
	// tests cut a step sequence at an arbitrary boundary. The entry is
	// cleared once it fires, so a retried operation proceeds normally.
	FailOn map[string]error

	// Calls records the order of store method invocations.
	Calls []string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[int64]*User),
		teams:       make(map[int64]*Team),
		memberships: make(map[membershipKey]*Membership),
		redirects:   make(map[redirectKey]*Redirect),
		FailOn:      make(map[string]error),
	}
}

func (s *MemStore) enter(method string) error {
	s.Calls = append(s.Calls, method)
	if err, ok := s.FailOn[method]; ok {
		delete(s.FailOn, method)
		return err
	}
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	if u.Metadata.MigratedToOrgFrom != nil {
		p := *u.Metadata.MigratedToOrgFrom
		c.Metadata.MigratedToOrgFrom = &p
	}
	if u.OrganizationID != nil {
		v := *u.OrganizationID
		c.OrganizationID = &v
	}
	return &c
}

func cloneTeam(t *Team) *Team {
	c := *t
	if t.Slug != nil {
		v := *t.Slug
		c.Slug = &v
	}
	if t.ParentID != nil {
		v := *t.ParentID
		c.ParentID = &v
	}
	return &c
}

// AddUser seeds a user. A zero ID is assigned the next free id.
func (s *MemStore) AddUser(u User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextUserID++
		u.ID = s.nextUserID
	} else if u.ID > s.nextUserID {
		s.nextUserID = u.ID
	}
	s.users[u.ID] = cloneUser(&u)
	return cloneUser(&u)
}

// AddTeam seeds a team. A zero ID is assigned the next free id.
func (s *MemStore) AddTeam(t Team) *Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextTeamID++
		t.ID = s.nextTeamID
	} else if t.ID > s.nextTeamID {
		s.nextTeamID = t.ID
	}
	s.teams[t.ID] = cloneTeam(&t)
	return cloneTeam(&t)
}

// AddMembership seeds a membership row.
func (s *MemStore) AddMembership(m Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc := m
	s.memberships[membershipKey{m.UserID, m.TeamID}] = &mc
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *MemStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindUserByID"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemStore) FindUsersByUsername(ctx context.Context, username string) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindUsersByUsername"); err != nil {
		return nil, err
	}
	var out []*User
	for _, u := range s.users {
		if u.Username == username {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) FindFirstUser(ctx context.Context, filter UserFilter) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindFirstUser"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := s.users[id]
		if filter.Username != "" && u.Username != filter.Username {
			continue
		}
		if filter.HasOrganization && !int64PtrEqual(u.OrganizationID, filter.OrganizationID) {
			continue
		}
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) UpdateUser(ctx context.Context, id int64, patch UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateUser"); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}

	next := cloneUser(u)
	if patch.Username != nil {
		next.Username = *patch.Username
	}
	if patch.ClearOrganization {
		next.OrganizationID = nil
	} else if patch.OrganizationID != nil {
		v := *patch.OrganizationID
		next.OrganizationID = &v
	}
	if patch.Metadata != nil {
		next.Metadata = *patch.Metadata
	}

	// Username unique within its organization namespace.
	for _, other := range s.users {
		if other.ID != id && other.Username == next.Username && int64PtrEqual(other.OrganizationID, next.OrganizationID) {
			return ErrDuplicateKey
		}
	}

	s.users[id] = next
	return nil
}

func (s *MemStore) FindTeamByID(ctx context.Context, id int64) (*Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindTeamByID"); err != nil {
		return nil, err
	}
	t, ok := s.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTeam(t), nil
}

func (s *MemStore) FindTeamsByIDs(ctx context.Context, ids []int64) ([]*Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindTeamsByIDs"); err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []*Team
	for _, id := range sorted {
		if t, ok := s.teams[id]; ok {
			out = append(out, cloneTeam(t))
		}
	}
	return out, nil
}

// applyTeamPatch mutates a clone and checks the slug-per-namespace constraint.
func (s *MemStore) applyTeamPatch(id int64, patch TeamPatch) error {
	t, ok := s.teams[id]
	if !ok {
		return ErrNotFound
	}
	next := cloneTeam(t)
	if patch.Slug != nil {
		v := *patch.Slug
		next.Slug = &v
	}
	if patch.ClearParent {
		next.ParentID = nil
	} else if patch.ParentID != nil {
		v := *patch.ParentID
		next.ParentID = &v
	}
	if patch.Metadata != nil {
		next.Metadata = *patch.Metadata
	}

	if next.Slug != nil {
		for _, other := range s.teams {
			if other.ID != id && other.Slug != nil && *other.Slug == *next.Slug && int64PtrEqual(other.ParentID, next.ParentID) {
				return ErrDuplicateKey
			}
		}
	}

	s.teams[id] = next
	return nil
}

func (s *MemStore) UpdateTeam(ctx context.Context, id int64, patch TeamPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateTeam"); err != nil {
		return err
	}
	return s.applyTeamPatch(id, patch)
}

func (s *MemStore) BulkUpdateTeams(ctx context.Context, ids []int64, patch TeamPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("BulkUpdateTeams"); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.applyTeamPatch(id, patch); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

func (s *MemStore) FindMembershipsByUser(ctx context.Context, userID int64) ([]*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindMembershipsByUser"); err != nil {
		return nil, err
	}
	var out []*Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			mc := *m
			out = append(out, &mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}

func (s *MemStore) FindMembershipsByTeam(ctx context.Context, teamID int64) ([]*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindMembershipsByTeam"); err != nil {
		return nil, err
	}
	var out []*Membership
	for _, m := range s.memberships {
		if m.TeamID == teamID {
			mc := *m
			out = append(out, &mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemStore) UpsertMembership(ctx context.Context, userID, teamID int64, role string, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertMembership"); err != nil {
		return err
	}
	key := membershipKey{userID, teamID}
	if m, ok := s.memberships[key]; ok {
		m.Role = role
		m.Accepted = accepted
		return nil
	}
	s.memberships[key] = &Membership{UserID: userID, TeamID: teamID, Role: role, Accepted: accepted}
	return nil
}

func (s *MemStore) DeleteMembership(ctx context.Context, userID, teamID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteMembership"); err != nil {
		return err
	}
	delete(s.memberships, membershipKey{userID, teamID})
	return nil
}

func (s *MemStore) UpsertRedirect(ctx context.Context, r Redirect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertRedirect"); err != nil {
		return err
	}
	rc := r
	s.redirects[redirectKey{r.Type, r.From, r.FromOrgID}] = &rc
	return nil
}

func (s *MemStore) DeleteRedirects(ctx context.Context, typ RedirectType, from string, fromOrgID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteRedirects"); err != nil {
		return err
	}
	delete(s.redirects, redirectKey{typ, from, fromOrgID})
	return nil
}

// Redirect returns the stored redirect for the given key, or nil.
func (s *MemStore) Redirect(typ RedirectType, from string, fromOrgID int64) *Redirect {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redirects[redirectKey{typ, from, fromOrgID}]
	if !ok {
		return nil
	}
	rc := *r
	return &rc
}

// Membership returns the stored membership for the given key, or nil.
func (s *MemStore) Membership(userID, teamID int64) *Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey{userID, teamID}]
	if !ok {
		return nil
	}
	mc := *m
	return &mc
}

// RedirectCount reports the number of stored redirect rows.
func (s *MemStore) RedirectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redirects)
}
