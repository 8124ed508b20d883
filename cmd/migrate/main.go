package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pratik-mahalle/vigil/internal/config"
	"github.com/pratik-mahalle/vigil/internal/repository/postgres"
	"github.com/pratik-mahalle/vigil/migrations"
)

func main() {
	dir := flag.String("dir", "", "run migrations from a directory instead of the embedded set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := postgres.New(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	migrationsFS := migrations.GetFS()
	if *dir != "" {
		migrationsFS = os.DirFS(*dir)
	}

	if err := postgres.RunMigrations(db, migrationsFS); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("All migrations completed successfully")
}
