package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"servtrack/db"
)

func newTestLocalRepository(t *testing.T) *LocalRepository {
	t.Helper()

	sqlDB, err := db.OpenLocal(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	repo, err := NewLocalRepository(sqlDB)
	if err != nil {
		t.Fatalf("new local repository: %v", err)
	}
	return repo
}

func TestLocalRepository_CreateAndGet(t *testing.T) {
	repo := newTestLocalRepository(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, CreateUserParams{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		DisplayName:  "Alice",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected assigned id")
	}
	if user.UpdatedAt.Before(user.CreatedAt) {
		t.Fatalf("updated_at %v before created_at %v", user.UpdatedAt, user.CreatedAt)
	}

	byName, err := repo.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName.ID != user.ID {
		t.Fatalf("expected %q got %q", user.ID, byName.ID)
	}

	byID, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("expected alice got %q", byID.Username)
	}

	if _, err := repo.GetUserByUsername(ctx, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLocalRepository_DuplicateUsername(t *testing.T) {
	repo := newTestLocalRepository(t)
	ctx := context.Background()

	params := CreateUserParams{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", DisplayName: "Alice"}
	if _, err := repo.CreateUser(ctx, params); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := repo.CreateUser(ctx, params); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestLocalRepository_UpdateAvatar(t *testing.T) {
	repo := newTestLocalRepository(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	repo.WithClock(func() time.Time { return clock })

	user, err := repo.CreateUser(ctx, CreateUserParams{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	clock = base.Add(time.Hour)
	updated, err := repo.UpdateAvatar(ctx, user.ID, "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("update avatar: %v", err)
	}
	if updated.AvatarURL == nil || *updated.AvatarURL != "https://cdn.example.com/a.png" {
		t.Fatalf("expected avatar url, got %+v", updated.AvatarURL)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected refreshed updated_at, got %v", updated.UpdatedAt)
	}

	if _, err := repo.UpdateAvatar(ctx, "missing", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLocalRepository_SessionBlob(t *testing.T) {
	repo := newTestLocalRepository(t)
	ctx := context.Background()

	if _, ok, err := repo.LoadSession(ctx); err != nil || ok {
		t.Fatalf("expected no persisted session, got ok=%v err=%v", ok, err)
	}

	session := Session{UserID: "user-1", Username: "alice", Email: "alice@example.com", Token: "tok"}
	if err := repo.SaveSession(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, ok, err := repo.LoadSession(ctx)
	if err != nil || !ok {
		t.Fatalf("load session: ok=%v err=%v", ok, err)
	}
	if loaded.UserID != "user-1" || loaded.Token != "tok" {
		t.Fatalf("unexpected session %+v", loaded)
	}

	if err := repo.ClearSession(ctx); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	if _, ok, err := repo.LoadSession(ctx); err != nil || ok {
		t.Fatalf("expected cleared session, got ok=%v err=%v", ok, err)
	}
}
