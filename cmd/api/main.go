package main

import (
	"context"
	"log"
	"os"

	"golang.org/x/text/language"

	"servtrack/auth"
	"servtrack/db"
	"servtrack/service"
	"servtrack/syncer"
	"servtrack/view"
)

func main() {
	ctx := context.Background()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	var (
		store    service.Store
		identity *auth.Service
	)

	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pool, err := db.NewPool(ctx, connString)
		if err != nil {
			log.Fatalf("bootstrap database pool: %v", err)
		}
		defer pool.Close()

		store = service.NewPGStore(pool)
		identity = auth.NewService(auth.NewRepository(pool), jwtSecret)
	} else {
		path := os.Getenv("LOCAL_DB")
		if path == "" {
			path = "servtrack.db"
		}
		sqlDB, err := db.OpenLocal(path)
		if err != nil {
			log.Fatalf("bootstrap local database: %v", err)
		}
		defer sqlDB.Close()

		localStore, err := service.NewSQLiteStore(sqlDB)
		if err != nil {
			log.Fatalf("bootstrap record store: %v", err)
		}
		store = localStore

		repo, err := auth.NewLocalRepository(sqlDB)
		if err != nil {
			log.Fatalf("bootstrap account store: %v", err)
		}
		identity = auth.NewService(repo, jwtSecret).WithSessionStore(repo)
		if err := identity.Restore(ctx); err != nil {
			log.Fatalf("restore session: %v", err)
		}
	}

	sync := syncer.New(store, identity)
	sync.Start(ctx)
	defer sync.Close()

	projector := view.NewProjector(language.BrazilianPortuguese)

	log.Printf("servtrack core ready: session active=%v, projector=%v", identity.Current().Active(), projector != nil)
}
