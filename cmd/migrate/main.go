// Command migrate manages the marketplace schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up       # apply pending migrations
//	go run ./cmd/migrate down     # roll back the latest migration
//	go run ./cmd/migrate status   # show applied vs pending
//	go run ./cmd/migrate version  # current schema version
//
// DATABASE_URL must point at the target PostgreSQL instance. A MIGRATIONS_DIR
// override is accepted for running outside the repo root.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: up, down, status, version, redo, up-to <v>, down-to <v>")
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("migrate: DATABASE_URL is required")
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("migrate: open database: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		log.Fatalf("migrate: connect: %v", err)
	}

	if err := goose.RunContext(context.Background(), command, db, dir, args...); err != nil {
		log.Fatalf("migrate: %s: %v", command, err)
	}
}
