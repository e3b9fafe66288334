package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the end-to-end store behavior including the notify push path.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "users") || !tableExists(ctx, t, pool, "services") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	var ownerID string
	err = pool.QueryRow(ctx, `INSERT INTO users (username, email, password_hash, display_name) VALUES ($1, $2, 'x', 'Alice') RETURNING id`,
		fmt.Sprintf("alice%d", time.Now().UnixNano()), "alice@example.com").Scan(&ownerID)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	store := NewPGStore(pool)
	params := Params{
		Title:       "Roof inspection",
		Description: "check tiles after storm",
		Responsible: "Alice",
		Status:      StatusPending,
		Step:        StepAnalysis,
		StartDate:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	rec, err := store.Create(ctx, ownerID, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.OwnerID != ownerID {
		t.Fatalf("bad created record: %+v", rec)
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		t.Fatalf("updated_at %v before created_at %v", rec.UpdatedAt, rec.CreatedAt)
	}

	records, err := store.List(ctx, ownerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("expected seeded record, got %+v", records)
	}

	// Watch: initial snapshot, then a push for every mutation.
	snapshots := make(chan []Record, 8)
	watch, err := store.Watch(ctx, ownerID, func(records []Record) {
		snapshots <- records
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	initial := waitSnapshot(t, snapshots)
	if len(initial) != 1 {
		t.Fatalf("expected initial snapshot of 1, got %d", len(initial))
	}

	params.Title = "Roof repaired"
	params.Status = StatusCompleted
	updated, err := store.Update(ctx, rec.ID, params)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected refreshed updated_at, got created=%v updated=%v", updated.CreatedAt, updated.UpdatedAt)
	}

	pushed := waitSnapshot(t, snapshots)
	if len(pushed) != 1 || pushed[0].Title != "Roof repaired" {
		t.Fatalf("expected pushed update, got %+v", pushed)
	}

	watch.Stop()

	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}

	// After Stop no callback may fire, even though a mutation happened.
	select {
	case snap := <-snapshots:
		t.Fatalf("callback fired after Stop: %+v", snap)
	case <-time.After(500 * time.Millisecond):
	}

	if _, err := store.Update(ctx, rec.ID, params); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating deleted record, got %v", err)
	}
}

func waitSnapshot(t *testing.T, ch <-chan []Record) []Record {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
