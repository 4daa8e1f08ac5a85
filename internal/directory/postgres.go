package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed directory store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a directory store backed by the given connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Pool exposes the underlying pool for health checks and metrics collectors.
func (s *PgStore) Pool() *pgxpool.Pool {
	return s.pool
}

// wrapError maps driver errors to the store's sentinel errors. Unique
// constraint violations become ErrDuplicateKey so callers can remap them to
// user-facing conflicts.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

const userColumns = `id, username, email, organization_id, metadata, created_at`

// scanUser scans a user row, handling the JSONB metadata column.
func scanUser(scan func(dest ...any) error) (*User, error) {
	u := &User{}
	var metaJSON []byte
	if err := scan(&u.ID, &u.Username, &u.Email, &u.OrganizationID, &metaJSON, &u.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &u.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling user metadata: %w", err)
		}
	}
	return u, nil
}

const teamColumns = `id, name, slug, parent_id, metadata, created_at`

// scanTeam scans a team row, handling the JSONB metadata column.
func scanTeam(scan func(dest ...any) error) (*Team, error) {
	t := &Team{}
	var metaJSON []byte
	if err := scan(&t.ID, &t.Name, &t.Slug, &t.ParentID, &metaJSON, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling team metadata: %w", err)
		}
	}
	return t, nil
}

// FindUserByID retrieves a user by primary key.
func (s *PgStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", wrapError(err))
	}
	return u, nil
}

// FindUsersByUsername retrieves all users holding the given username across
// every namespace.
func (s *PgStore) FindUsersByUsername(ctx context.Context, username string) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 ORDER BY id`, username)
	if err != nil {
		return nil, fmt.Errorf("listing users by username: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindFirstUser returns the first user matching the filter, or ErrNotFound.
func (s *PgStore) FindFirstUser(ctx context.Context, filter UserFilter) (*User, error) {
	var where []string
	var args []any
	argIdx := 1

	if filter.Username != "" {
		where = append(where, fmt.Sprintf("username = $%d", argIdx))
		args = append(args, filter.Username)
		argIdx++
	}
	if filter.HasOrganization {
		if filter.OrganizationID == nil {
			where = append(where, "organization_id IS NULL")
		} else {
			where = append(where, fmt.Sprintf("organization_id = $%d", argIdx))
			args = append(args, *filter.OrganizationID)
			argIdx++
		}
	}
	if len(where) == 0 {
		where = append(where, "TRUE")
	}

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE `+strings.Join(where, " AND ")+` ORDER BY id LIMIT 1`,
			args...,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", wrapError(err))
	}
	return u, nil
}

// UpdateUser performs a partial update on the user with the given id.
func (s *PgStore) UpdateUser(ctx context.Context, id int64, patch UserPatch) error {
	var setClauses []string
	var args []any
	argIdx := 1

	if patch.Username != nil {
		setClauses = append(setClauses, fmt.Sprintf("username = $%d", argIdx))
		args = append(args, *patch.Username)
		argIdx++
	}
	if patch.ClearOrganization {
		setClauses = append(setClauses, "organization_id = NULL")
	} else if patch.OrganizationID != nil {
		setClauses = append(setClauses, fmt.Sprintf("organization_id = $%d", argIdx))
		args = append(args, *patch.OrganizationID)
		argIdx++
	}
	if patch.Metadata != nil {
		metaJSON, err := json.Marshal(patch.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling user metadata: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("metadata = $%d", argIdx))
		args = append(args, metaJSON)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argIdx),
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", wrapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating user: %w", ErrNotFound)
	}
	return nil
}

// FindTeamByID retrieves a team by primary key.
func (s *PgStore) FindTeamByID(ctx context.Context, id int64) (*Team, error) {
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting team by id: %w", wrapError(err))
	}
	return t, nil
}

// FindTeamsByIDs retrieves teams by an id set. Missing ids are skipped.
func (s *PgStore) FindTeamsByIDs(ctx context.Context, ids []int64) ([]*Team, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("listing teams by ids: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// teamSetClauses builds the dynamic SET clause for a team patch.
func teamSetClauses(patch TeamPatch, argIdx int) ([]string, []any, int, error) {
	var setClauses []string
	var args []any

	if patch.Slug != nil {
		setClauses = append(setClauses, fmt.Sprintf("slug = $%d", argIdx))
		args = append(args, *patch.Slug)
		argIdx++
	}
	if patch.ClearParent {
		setClauses = append(setClauses, "parent_id = NULL")
	} else if patch.ParentID != nil {
		setClauses = append(setClauses, fmt.Sprintf("parent_id = $%d", argIdx))
		args = append(args, *patch.ParentID)
		argIdx++
	}
	if patch.Metadata != nil {
		metaJSON, err := json.Marshal(patch.Metadata)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("marshaling team metadata: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("metadata = $%d", argIdx))
		args = append(args, metaJSON)
		argIdx++
	}
	return setClauses, args, argIdx, nil
}

// UpdateTeam performs a partial update on the team with the given id.
func (s *PgStore) UpdateTeam(ctx context.Context, id int64, patch TeamPatch) error {
	setClauses, args, argIdx, err := teamSetClauses(patch, 1)
	if err != nil {
		return err
	}
	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE teams SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argIdx),
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating team: %w", wrapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating team: %w", ErrNotFound)
	}
	return nil
}

// BulkUpdateTeams applies the same patch to every team in the id set.
func (s *PgStore) BulkUpdateTeams(ctx context.Context, ids []int64, patch TeamPatch) error {
	if len(ids) == 0 {
		return nil
	}
	setClauses, args, argIdx, err := teamSetClauses(patch, 1)
	if err != nil {
		return err
	}
	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, ids)
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE teams SET %s WHERE id = ANY($%d)`, strings.Join(setClauses, ", "), argIdx),
		args...,
	)
	if err != nil {
		return fmt.Errorf("bulk updating teams: %w", wrapError(err))
	}
	return nil
}

// FindMembershipsByUser lists all memberships for a user.
func (s *PgStore) FindMembershipsByUser(ctx context.Context, userID int64) ([]*Membership, error) {
	return s.listMemberships(ctx,
		`SELECT user_id, team_id, role, accepted, created_at
		 FROM memberships WHERE user_id = $1 ORDER BY team_id`, userID)
}

// FindMembershipsByTeam lists all memberships for a team.
func (s *PgStore) FindMembershipsByTeam(ctx context.Context, teamID int64) ([]*Membership, error) {
	return s.listMemberships(ctx,
		`SELECT user_id, team_id, role, accepted, created_at
		 FROM memberships WHERE team_id = $1 ORDER BY user_id`, teamID)
}

func (s *PgStore) listMemberships(ctx context.Context, query string, arg any) ([]*Membership, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var ms []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.UserID, &m.TeamID, &m.Role, &m.Accepted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

// UpsertMembership creates or refreshes the (userID, teamID) membership row.
func (s *PgStore) UpsertMembership(ctx context.Context, userID, teamID int64, role string, accepted bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (user_id, team_id, role, accepted)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, team_id) DO UPDATE SET role = $3, accepted = $4`,
		userID, teamID, role, accepted,
	)
	if err != nil {
		return fmt.Errorf("upserting membership: %w", wrapError(err))
	}
	return nil
}

// DeleteMembership removes the (userID, teamID) membership row.
func (s *PgStore) DeleteMembership(ctx context.Context, userID, teamID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND team_id = $2`, userID, teamID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

// UpsertRedirect creates or overwrites the redirect keyed by
// (type, from, from_org_id).
func (s *PgStore) UpsertRedirect(ctx context.Context, r Redirect) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO redirects (type, "from", from_org_id, to_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (type, "from", from_org_id) DO UPDATE SET to_url = $4`,
		r.Type, r.From, r.FromOrgID, r.ToURL,
	)
	if err != nil {
		return fmt.Errorf("upserting redirect: %w", wrapError(err))
	}
	return nil
}

// DeleteRedirects removes matching redirects. Zero matching rows is not an
// error; the operation is idempotent under double-invocation.
func (s *PgStore) DeleteRedirects(ctx context.Context, typ RedirectType, from string, fromOrgID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM redirects WHERE type = $1 AND "from" = $2 AND from_org_id = $3`,
		typ, from, fromOrgID)
	if err != nil {
		return fmt.Errorf("deleting redirects: %w", err)
	}
	return nil
}

// InsertUser creates a user row. Used by the seed command; the migration
// engine itself never creates users.
func (s *PgStore) InsertUser(ctx context.Context, username, email string, organizationID *int64) (*User, error) {
	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO users (username, email, organization_id, metadata)
			 VALUES ($1, $2, $3, '{}')
			 RETURNING `+userColumns,
			username, email, organizationID,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", wrapError(err))
	}
	return u, nil
}

// InsertTeam creates a team row. Used by the seed command.
func (s *PgStore) InsertTeam(ctx context.Context, name string, slug *string, parentID *int64, meta TeamMetadata) (*Team, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling team metadata: %w", err)
	}
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO teams (name, slug, parent_id, metadata)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+teamColumns,
			name, slug, parentID, metaJSON,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", wrapError(err))
	}
	return t, nil
}
