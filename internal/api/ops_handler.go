package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/annex/internal/audit"
	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/metrics"
	"github.com/alecgard/annex/internal/migration"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/status"
	"github.com/go-chi/chi/v5"
)

// opsHandler groups the migration operation HTTP handlers.
type opsHandler struct {
	engine   *migration.Engine
	store    directory.Store
	orgs     *org.Resolver
	recorder *audit.Recorder
	metrics  *metrics.Metrics
}

func newOpsHandler(engine *migration.Engine, store directory.Store, orgs *org.Resolver, recorder *audit.Recorder, m *metrics.Metrics) *opsHandler {
	return &opsHandler{engine: engine, store: store, orgs: orgs, recorder: recorder, metrics: m}
}

// finish records the outcome of an operation invocation and writes the
// response.
func (h *opsHandler) finish(w http.ResponseWriter, r *http.Request, op string, userID, teamID, orgID int64, start time.Time, err error) {
	elapsed := time.Since(start)

	outcome := "ok"
	detail := ""
	if err != nil {
		outcome = string(status.KindOf(err))
		detail = err.Error()
	}
	if h.recorder != nil {
		h.recorder.Record(audit.Event{
			Operation:  op,
			UserID:     userID,
			TeamID:     teamID,
			OrgID:      orgID,
			Outcome:    outcome,
			Detail:     detail,
			DurationMs: elapsed.Milliseconds(),
			RequestID:  RequestIDFromContext(r.Context()),
		})
	}
	if h.metrics != nil {
		h.metrics.ObserveOperation(op, err != nil, elapsed.Seconds())
	}

	if err != nil {
		writeOperationError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func urlParamInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return v, err == nil && v > 0
}

// MigrateUser handles POST /api/v1/admin/orgs/{orgID}/users.
func (h *opsHandler) MigrateUser(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlParamInt64(r, "orgID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "organization id must be a positive integer")
		return
	}

	var req struct {
		UserID         int64  `json:"user_id"`
		Username       string `json:"username"`
		TargetUsername string `json:"target_username"`
		Role           string `json:"role"`
		Accepted       *bool  `json:"accepted"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	start := time.Now()
	err := h.engine.MigrateUserToOrg(r.Context(), migration.MigrateUserArgs{
		UserID:         req.UserID,
		Username:       req.Username,
		TargetOrgID:    orgID,
		TargetUsername: req.TargetUsername,
		Role:           req.Role,
		Accepted:       req.Accepted,
	})
	h.finish(w, r, "migrate_user", req.UserID, 0, orgID, start, err)
}

// RemoveUser handles DELETE /api/v1/admin/orgs/{orgID}/users/{userID}.
func (h *opsHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlParamInt64(r, "orgID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "organization id must be a positive integer")
		return
	}
	userID, ok := urlParamInt64(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be a positive integer")
		return
	}

	start := time.Now()
	err := h.engine.RemoveUserFromOrg(r.Context(), migration.RemoveUserArgs{
		UserID:      userID,
		TargetOrgID: orgID,
	})
	h.finish(w, r, "remove_user", userID, 0, orgID, start, err)
}

// MoveTeam handles POST /api/v1/admin/orgs/{orgID}/teams.
func (h *opsHandler) MoveTeam(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlParamInt64(r, "orgID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "organization id must be a positive integer")
		return
	}

	var req struct {
		TeamID      int64  `json:"team_id"`
		MoveMembers bool   `json:"move_members"`
		Role        string `json:"role"`
		Accepted    *bool  `json:"accepted"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	start := time.Now()
	err := h.engine.MoveTeamToOrg(r.Context(), migration.MoveTeamArgs{
		TeamID:      req.TeamID,
		TargetOrgID: orgID,
		MoveMembers: req.MoveMembers,
		Role:        req.Role,
		Accepted:    req.Accepted,
	})
	h.finish(w, r, "move_team", 0, req.TeamID, orgID, start, err)
}

// RemoveTeam handles DELETE /api/v1/admin/orgs/{orgID}/teams/{teamID}.
func (h *opsHandler) RemoveTeam(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlParamInt64(r, "orgID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "organization id must be a positive integer")
		return
	}
	teamID, ok := urlParamInt64(r, "teamID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "team id must be a positive integer")
		return
	}

	start := time.Now()
	err := h.engine.RemoveTeamFromOrg(r.Context(), migration.RemoveTeamArgs{
		TeamID:      teamID,
		TargetOrgID: orgID,
	})
	h.finish(w, r, "remove_team", 0, teamID, orgID, start, err)
}

// GetOrg handles GET /api/v1/admin/orgs/{orgID}.
func (h *opsHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlParamInt64(r, "orgID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "organization id must be a positive integer")
		return
	}

	o, err := h.orgs.Resolve(r.Context(), orgID)
	if err != nil {
		writeOperationError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                    o.ID,
		"slug":                  o.Slug,
		"requested_slug":        o.Metadata.RequestedSlug,
		"org_auto_accept_email": o.Metadata.OrgAutoAcceptEmail,
	})
}

// GetUser handles GET /api/v1/admin/users/{userID}, exposing migration
// provenance for operators.
func (h *opsHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlParamInt64(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be a positive integer")
		return
	}

	u, err := h.store.FindUserByID(r.Context(), userID)
	if err != nil {
		writeOperationError(r, w, status.NotFound("user %d does not exist", userID))
		return
	}
	resp := map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
	}
	if u.OrganizationID != nil {
		resp["organization_id"] = *u.OrganizationID
	}
	if prov := u.Metadata.MigratedToOrgFrom; prov != nil {
		resp["migrated_to_org_from"] = prov
	}
	writeJSON(w, http.StatusOK, resp)
}

// auditHandler serves the audit trail.
type auditHandler struct {
	store *audit.Store
}

// ListEvents handles GET /api/v1/admin/audit.
func (h *auditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = l
	}

	events, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
