package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"campusid.org/internal/ids"
	"campusid.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "status":
		var history []string
		history, err = runner.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap":
		err = bootstrapOwner(ctx, db)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapOwner creates the initial OWNER account if none exists.
// The password is hashed here so no credential material lives in seed files.
func bootstrapOwner(ctx context.Context, db *sql.DB) error {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("CAMPUSID_OWNER_EMAIL")))
	password := os.Getenv("CAMPUSID_OWNER_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("CAMPUSID_OWNER_EMAIL and CAMPUSID_OWNER_PASSWORD are required")
	}

	var count int
	if err := db.QueryRowContext(ctx, `select count(*) from identities where role = 'OWNER'`).Scan(&count); err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if count > 0 {
		log.Println("owner already exists, nothing to do")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		insert into identities (id, name, email, password_hash, role, provider, email_verified, account_verified, active, created_at, updated_at)
		values ($1, $2, $3, $4, 'OWNER', 'LOCAL', true, true, true, $5, $5)`,
		ids.New(), "Owner", email, string(hash), now)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	log.Printf("owner %s created", email)
	return nil
}
