package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"stockroom.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens a pooled connection for the auth schema.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing handle (used by tests and cmd wiring).
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Principals(context.Context) PrincipalStore   { return &pgPrincipals{db: s.db} }
func (s *PGStore) Credentials(context.Context) CredentialStore { return &pgCredentials{db: s.db} }
func (s *PGStore) Projects(context.Context) ProjectStore       { return &pgProjects{db: s.db} }
func (s *PGStore) Memberships(context.Context) MembershipStore { return &pgMemberships{db: s.db} }
func (s *PGStore) Items(context.Context) ItemStore             { return &pgItems{db: s.db} }

const uniqueViolation = "23505"
const foreignKeyViolation = "23503"

func isPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Principal store ------------------------------------------------------------

type pgPrincipals struct{ db *sql.DB }

func (s *pgPrincipals) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, username, email, password_hash, role, session_mark)
		 values($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Username, p.Email, p.PasswordHash, string(p.Role), p.SessionMark,
	)
	if isPGCode(err, uniqueViolation) {
		return ErrAlreadyExists
	}
	return err
}

const principalColumns = `id, username, email, password_hash, role, session_mark, created_at, updated_at`

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal
	var role string
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &role, &p.SessionMark, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Role = Role(role)
	return &p, nil
}

func (s *pgPrincipals) Find(ctx context.Context, id string) (*Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id))
}

func (s *pgPrincipals) FindByUsername(ctx context.Context, username string) (*Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where username=$1`, username))
}

func (s *pgPrincipals) UpdateSessionMark(ctx context.Context, id, mark string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set session_mark=$2, updated_at=now() where id=$1`, id, mark)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Credential store -----------------------------------------------------------

type pgCredentials struct{ db *sql.DB }

const credentialColumns = `id, coalesce(parent_id,''), principal_id, refresh_token, access_token, valid, expire_at, created_at`

func scanCredential(scanner interface{ Scan(...any) error }) (*CredentialNode, error) {
	var n CredentialNode
	err := scanner.Scan(&n.ID, &n.ParentID, &n.PrincipalID, &n.RefreshToken, &n.AccessToken, &n.Valid, &n.ExpireAt, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *pgCredentials) CreateRoot(ctx context.Context, node *CredentialNode) error {
	if node.ID == "" {
		node.ID = ids.New()
	}
	node.ParentID = ""
	node.Valid = true
	_, err := s.db.ExecContext(ctx,
		`insert into credentials(id, parent_id, principal_id, refresh_token, access_token, valid, expire_at)
		 values($1, null, $2, $3, $4, true, $5)`,
		node.ID, node.PrincipalID, node.RefreshToken, node.AccessToken, node.ExpireAt,
	)
	return err
}

// Rotate performs the whole refresh decision in one transaction with the
// parent row locked, so two concurrent refreshes on the same token resolve
// to exactly one rotation and one replay.
func (s *pgCredentials) Rotate(ctx context.Context, refreshToken string, mint func(parent *CredentialNode) (*CredentialNode, error)) (*CredentialNode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	parent, err := scanCredential(tx.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where refresh_token=$1 for update`,
		refreshToken))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRevokedOrUnknown
	}
	if err != nil {
		return nil, err
	}

	if !parent.Valid {
		if _, err := deleteFamilyTx(ctx, tx, parent.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, ErrReplayDetected
	}

	child, err := mint(parent)
	if err != nil {
		return nil, err
	}
	if child.ID == "" {
		child.ID = ids.New()
	}
	child.ParentID = parent.ID
	child.PrincipalID = parent.PrincipalID
	child.Valid = true

	if _, err := tx.ExecContext(ctx,
		`insert into credentials(id, parent_id, principal_id, refresh_token, access_token, valid, expire_at)
		 values($1,$2,$3,$4,$5,true,$6)`,
		child.ID, child.ParentID, child.PrincipalID, child.RefreshToken, child.AccessToken, child.ExpireAt,
	); err != nil {
		if isPGCode(err, foreignKeyViolation) {
			return nil, ErrParentNotFound
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`update credentials set valid=false where id=$1`, parent.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return child, nil
}

func (s *pgCredentials) FindByRefreshToken(ctx context.Context, token string) (*CredentialNode, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where refresh_token=$1`, token))
}

func (s *pgCredentials) FindByAccessToken(ctx context.Context, token string) (*CredentialNode, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where access_token=$1`, token))
}

func (s *pgCredentials) AncestorsOf(ctx context.Context, id string) ([]*CredentialNode, error) {
	if _, err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		with recursive up as (
			select c.*, 0 as depth from credentials c where id=$1
			union all
			select c.*, up.depth+1 from credentials c join up on up.parent_id = c.id
		)
		select `+credentialColumns+` from up where depth > 0 order by depth asc`, id)
	if err != nil {
		return nil, err
	}
	return collectCredentials(rows)
}

func (s *pgCredentials) DescendantsOf(ctx context.Context, id string) ([]*CredentialNode, error) {
	if _, err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		with recursive down as (
			select c.*, 0 as depth from credentials c where id=$1
			union all
			select c.*, down.depth+1 from credentials c join down on c.parent_id = down.id
		)
		select `+credentialColumns+` from down where depth > 0 order by depth asc`, id)
	if err != nil {
		return nil, err
	}
	return collectCredentials(rows)
}

func (s *pgCredentials) DeleteFamily(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.existsTx(ctx, tx, id); err != nil {
		return 0, err
	}
	deleted, err := deleteFamilyTx(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

// deleteFamilyTx removes the connected component of the node: walk parent
// links up to the lineage root, then delete the root's entire subtree.
func deleteFamilyTx(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		with recursive up as (
			select id, parent_id from credentials where id=$1
			union all
			select c.id, c.parent_id from credentials c join up on up.parent_id = c.id
		), family as (
			select id from up where parent_id is null
			union all
			select c.id from credentials c join family f on c.parent_id = f.id
		)
		delete from credentials where id in (select id from family)
		returning id`, id)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	deleted := 0
	for rows.Next() {
		var dropped string
		if err := rows.Scan(&dropped); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, rows.Err()
}

func (s *pgCredentials) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from credentials where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgCredentials) existsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `select 1 from credentials where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func collectCredentials(rows *sql.Rows) ([]*CredentialNode, error) {
	defer rows.Close()
	var out []*CredentialNode
	for rows.Next() {
		node, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// Project store ---------------------------------------------------------------

type pgProjects struct{ db *sql.DB }

func (s *pgProjects) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into projects(id, name, owner_id) values($1,$2,$3)`,
		p.ID, p.Name, p.OwnerID)
	return err
}

func (s *pgProjects) Find(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, owner_id, created_at from projects where id=$1`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Membership store -------------------------------------------------------------

type pgMemberships struct{ db *sql.DB }

func (s *pgMemberships) Upsert(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx,
		`insert into memberships(principal_id, project_id, permission) values($1,$2,$3)
		 on conflict (principal_id, project_id) do update set permission = excluded.permission`,
		m.PrincipalID, m.ProjectID, int16(m.Permission))
	return err
}

func (s *pgMemberships) Find(ctx context.Context, principalID, projectID string) (*Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`select principal_id, project_id, permission, created_at from memberships
		 where principal_id=$1 and project_id=$2`, principalID, projectID)
	var m Membership
	var perm int16
	if err := row.Scan(&m.PrincipalID, &m.ProjectID, &perm, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Permission = Capability(perm)
	return &m, nil
}

func (s *pgMemberships) Remove(ctx context.Context, principalID, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from memberships where principal_id=$1 and project_id=$2`, principalID, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Item store --------------------------------------------------------------------

type pgItems struct{ db *sql.DB }

func (s *pgItems) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into items(id, name, project_id, quantity) values($1,$2,nullif($3,''),$4)`,
		item.ID, item.Name, item.ProjectID, item.Quantity)
	return err
}

func (s *pgItems) Find(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, coalesce(project_id,''), quantity, created_at from items where id=$1`, id)
	var item Item
	if err := row.Scan(&item.ID, &item.Name, &item.ProjectID, &item.Quantity, &item.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *pgItems) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from items where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
