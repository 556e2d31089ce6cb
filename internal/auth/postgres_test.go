package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func credentialRows(node CredentialNode) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "parent_id", "principal_id", "refresh_token", "access_token", "valid", "expire_at", "created_at",
	}).AddRow(node.ID, node.ParentID, node.PrincipalID, node.RefreshToken, node.AccessToken, node.Valid, node.ExpireAt, node.CreatedAt)
}

func TestPGFindByRefreshToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	want := CredentialNode{
		ID: "node-1", PrincipalID: "user-1", RefreshToken: "r1", AccessToken: "a1",
		Valid: true, ExpireAt: time.Now().Add(time.Hour).UTC(), CreatedAt: time.Now().UTC(),
	}
	mock.ExpectQuery("select (.+) from credentials where refresh_token=").
		WithArgs("r1").
		WillReturnRows(credentialRows(want))

	got, err := store.Credentials(ctx).FindByRefreshToken(ctx, "r1")
	if err != nil {
		t.Fatalf("FindByRefreshToken: %v", err)
	}
	if got.ID != want.ID || !got.Valid {
		t.Fatalf("unexpected node: %+v", got)
	}

	mock.ExpectQuery("select (.+) from credentials where refresh_token=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Credentials(ctx).FindByRefreshToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	parent := CredentialNode{
		ID: "node-1", PrincipalID: "user-1", RefreshToken: "r1", AccessToken: "a1",
		Valid: true, ExpireAt: time.Now().Add(time.Hour).UTC(), CreatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from credentials where refresh_token=(.+) for update").
		WithArgs("r1").
		WillReturnRows(credentialRows(parent))
	mock.ExpectExec("insert into credentials").
		WithArgs(sqlmock.AnyArg(), "node-1", "user-1", "r2", "a2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update credentials set valid=false").
		WithArgs("node-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	child, err := store.Credentials(ctx).Rotate(ctx, "r1", func(locked *CredentialNode) (*CredentialNode, error) {
		if locked.ID != "node-1" {
			t.Fatalf("mint saw wrong parent: %s", locked.ID)
		}
		return &CredentialNode{RefreshToken: "r2", AccessToken: "a2", ExpireAt: time.Now().Add(time.Hour)}, nil
	})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if child.ParentID != "node-1" || !child.Valid {
		t.Fatalf("unexpected child: %+v", child)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateReplayDeletesFamily(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	spent := CredentialNode{
		ID: "node-1", PrincipalID: "user-1", RefreshToken: "r1", AccessToken: "a1",
		Valid: false, ExpireAt: time.Now().Add(time.Hour).UTC(), CreatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from credentials where refresh_token=(.+) for update").
		WithArgs("r1").
		WillReturnRows(credentialRows(spent))
	mock.ExpectQuery("with recursive up").
		WithArgs("node-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("root").AddRow("node-1").AddRow("child"))
	mock.ExpectCommit()

	mintCalled := false
	_, err = store.Credentials(ctx).Rotate(ctx, "r1", func(*CredentialNode) (*CredentialNode, error) {
		mintCalled = true
		return nil, nil
	})
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	if mintCalled {
		t.Fatalf("mint must not run on a spent node")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateUnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from credentials where refresh_token=(.+) for update").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := store.Credentials(ctx).Rotate(ctx, "ghost", nil); !errors.Is(err, ErrRevokedOrUnknown) {
		t.Fatalf("expected ErrRevokedOrUnknown, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGDeleteFamily(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from credentials where id=").
		WithArgs("node-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("with recursive up").
		WithArgs("node-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("root").AddRow("node-1"))
	mock.ExpectCommit()

	deleted, err := store.Credentials(ctx).DeleteFamily(ctx, "node-1")
	if err != nil {
		t.Fatalf("DeleteFamily: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted nodes, got %d", deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGMembershipUpsertAndFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)
	ctx := context.Background()

	mock.ExpectExec("insert into memberships").
		WithArgs("user-5", "project-9", int16(CapViewer)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Memberships(ctx).Upsert(ctx, &Membership{
		PrincipalID: "user-5", ProjectID: "project-9", Permission: CapViewer,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock.ExpectQuery("select principal_id, project_id, permission, created_at from memberships").
		WithArgs("user-5", "project-9").
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "project_id", "permission", "created_at"}).
			AddRow("user-5", "project-9", int16(CapViewer), time.Now().UTC()))

	m, err := store.Memberships(ctx).Find(ctx, "user-5", "project-9")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if m.Permission != CapViewer {
		t.Fatalf("unexpected permission: %v", m.Permission)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
