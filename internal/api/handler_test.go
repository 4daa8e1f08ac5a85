package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/migration"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/redirect"
)

const testAdminKey = "test-admin-key"

func strPtr(s string) *string { return &s }

// fakePinger implements Pinger for health-check tests.
type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(store *directory.MemStore) http.Handler {
	orgs := org.NewResolver(store)
	engine := migration.NewEngine(store, orgs, redirect.NewMaintainer(store, "https://example.com"))
	return NewRouter(RouterDeps{
		Engine:   engine,
		Store:    store,
		Orgs:     orgs,
		AdminKey: testAdminKey,
	})
}

func seedOrgAndUser(store *directory.MemStore) (*directory.Team, *directory.User) {
	o := store.AddTeam(directory.Team{
		Name: "Acme",
		Slug: strPtr("acme"),
		Metadata: directory.TeamMetadata{
			IsOrganization:     true,
			OrgAutoAcceptEmail: "acme.test",
		},
	})
	u := store.AddUser(directory.User{Username: "ada", Email: "ada@acme.test"})
	return o, u
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := NewRouter(RouterDeps{
			Engine:   nil,
			Store:    directory.NewMemStore(),
			AdminKey: testAdminKey,
			DB:       &fakePinger{},
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "ok" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		h := NewRouter(RouterDeps{
			Store:    directory.NewMemStore(),
			AdminKey: testAdminKey,
			DB:       &fakePinger{err: errors.New("down")},
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("code = %d, want 503", rec.Code)
		}
	})
}

func TestAdminRoutesRequireKey(t *testing.T) {
	store := directory.NewMemStore()
	h := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orgs/1/users", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func TestMigrateUserEndpoint(t *testing.T) {
	store := directory.NewMemStore()
	o, u := seedOrgAndUser(store)
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/orgs/1/users",
		`{"user_id": 1}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, _ := store.FindUserByID(context.Background(), u.ID)
	if got.OrganizationID == nil || *got.OrganizationID != o.ID {
		t.Errorf("user not migrated: %+v", got)
	}
	if store.Membership(u.ID, o.ID) == nil {
		t.Error("membership missing")
	}
}

func TestMigrateUserEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
		kind string
	}{
		{"bad org id", "/api/v1/admin/orgs/zero/users", `{"user_id":1}`, 400, "invalid_id"},
		{"bad body", "/api/v1/admin/orgs/1/users", `{not json`, 400, "invalid_body"},
		{"both identifiers", "/api/v1/admin/orgs/1/users", `{"user_id":1,"username":"ada"}`, 400, "invalid_argument"},
		{"unknown user", "/api/v1/admin/orgs/1/users", `{"user_id":99}`, 404, "not_found"},
		{"unknown org", "/api/v1/admin/orgs/77/users", `{"user_id":1}`, 404, "not_found"},
		{"plain team target", "/api/v1/admin/orgs/2/users", `{"user_id":1}`, 400, "not_an_organization"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := directory.NewMemStore()
			seedOrgAndUser(store)
			store.AddTeam(directory.Team{Name: "Plain", Slug: strPtr("plain")})
			h := newTestRouter(store)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, adminRequest(http.MethodPost, tt.path, tt.body))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			errObj, _ := body["error"].(map[string]any)
			if errObj["code"] != tt.kind {
				t.Errorf("error code = %v, want %q", errObj["code"], tt.kind)
			}
		})
	}
}

func TestRemoveUserEndpoint(t *testing.T) {
	store := directory.NewMemStore()
	_, u := seedOrgAndUser(store)
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/orgs/1/users", `{"user_id": 1}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("migrate: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodDelete, "/api/v1/admin/orgs/1/users/1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: code = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, _ := store.FindUserByID(context.Background(), u.ID)
	if got.OrganizationID != nil {
		t.Errorf("user still in organization %d", *got.OrganizationID)
	}
	if got.Username != "ada" {
		t.Errorf("Username = %q, want restored ada", got.Username)
	}
}

func TestMoveAndRemoveTeamEndpoints(t *testing.T) {
	store := directory.NewMemStore()
	seedOrgAndUser(store)
	team := store.AddTeam(directory.Team{Name: "Compilers", Slug: strPtr("compilers")})
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/orgs/1/teams",
		`{"team_id": 2}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("move: code = %d, body = %s", rec.Code, rec.Body.String())
	}
	moved, _ := store.FindTeamByID(context.Background(), team.ID)
	if moved.ParentID == nil || *moved.ParentID != 1 {
		t.Fatalf("team not moved: %+v", moved)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodDelete, "/api/v1/admin/orgs/1/teams/2", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: code = %d, body = %s", rec.Code, rec.Body.String())
	}
	back, _ := store.FindTeamByID(context.Background(), team.ID)
	if back.ParentID != nil {
		t.Errorf("team still parented to %d", *back.ParentID)
	}
}

func TestGetOrgEndpoint(t *testing.T) {
	store := directory.NewMemStore()
	seedOrgAndUser(store)
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/v1/admin/orgs/1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["slug"] != "acme" {
		t.Errorf("slug = %v", body["slug"])
	}
	if body["org_auto_accept_email"] != "acme.test" {
		t.Errorf("org_auto_accept_email = %v", body["org_auto_accept_email"])
	}
}

func TestGetUserEndpointExposesProvenance(t *testing.T) {
	store := directory.NewMemStore()
	seedOrgAndUser(store)
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/orgs/1/users", `{"user_id": 1}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("migrate: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/v1/admin/users/1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	prov, _ := body["migrated_to_org_from"].(map[string]any)
	if prov == nil || prov["username"] != "ada" {
		t.Errorf("migrated_to_org_from = %v", body["migrated_to_org_from"])
	}
	if body["organization_id"] != float64(1) {
		t.Errorf("organization_id = %v", body["organization_id"])
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := directory.NewMemStore()
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/v1/admin/users/42", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	store := directory.NewMemStore()
	h := newTestRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}
