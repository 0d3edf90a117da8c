// Command migrate applies or rolls back the SQL migrations.
//
//	migrate -dsn postgres://... -dir migrations up
//	migrate -dsn postgres://... -dir migrations down
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/lib/pq"

	"CurveLedger/internal/observability"
	"CurveLedger/internal/store"
)

func main() {
	dsn := flag.String("dsn", "", "postgres connection string (or CURVE_DB_DSN)")
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Parse()

	log := observability.NewLogger("migrate")

	target := *dsn
	if target == "" {
		target = os.Getenv("CURVE_DB_DSN")
	}
	if target == "" {
		log.Fatal().Msg("-dsn or CURVE_DB_DSN is required")
	}

	action := "up"
	if args := flag.Args(); len(args) > 0 {
		action = args[0]
	}

	db, err := sql.Open("postgres", target)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	m := store.NewMigrator(db, *dir, log)
	switch action {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Down(ctx)
	default:
		log.Fatal().Str("action", action).Msg("unknown action, want up or down")
	}
	if err != nil {
		log.Fatal().Err(err).Str("action", action).Msg("migration failed")
	}
	log.Info().Str("action", action).Msg("migration complete")
}
