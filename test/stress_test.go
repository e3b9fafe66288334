package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"servtrack/service"
	"servtrack/test/actors"
	"servtrack/test/chaos"
	"servtrack/test/infra"
	"servtrack/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent editors per owner")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "terminate random backends during the run")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestStoreConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	owners := mustSeedOwners(t, ctx, pool, 3)
	store := service.NewPGStore(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// editors hammer each owner's records through the store API
	for _, owner := range owners {
		owner := owner
		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error { return actors.Editor(ctx2, store, owner, stop) })
		}
	}

	// one watcher per owner verifies push snapshots stay owner-scoped
	snapshots := make([]*atomic.Int64, len(owners))
	for i, owner := range owners {
		owner := owner
		snapshots[i] = &atomic.Int64{}
		counter := snapshots[i]
		g.Go(func() error { return actors.Watcher(ctx2, store, owner, counter, stop) })
	}

	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, "", stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	if !*flChaos {
		for i, counter := range snapshots {
			if counter.Load() == 0 {
				t.Errorf("watcher for owner %s never received a snapshot (seed=%d)", owners[i], seed)
			}
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeedOwners(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) []string {
	t.Helper()
	owners := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var id string
		err := pool.QueryRow(ctx,
			`INSERT INTO users (username, email, password_hash, display_name)
             VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("stress%d_%d", i, rand.Int63()),
			fmt.Sprintf("stress%d_%d@example.com", i, rand.Int63()),
			fmt.Sprintf("Stress User %d", i),
		).Scan(&id)
		if err != nil {
			t.Fatalf("seed owner %d: %v", i, err)
		}
		owners = append(owners, id)
	}
	return owners
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"services", `SELECT id, owner_id, title, status, step, created_at, updated_at FROM services ORDER BY updated_at DESC LIMIT 50`},
		{"users", `SELECT id, username, created_at FROM users ORDER BY created_at DESC LIMIT 10`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
