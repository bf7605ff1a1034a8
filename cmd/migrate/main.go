package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"rss_relay/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/relay.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, arg := args[0], ""
	if len(args) > 1 {
		arg = args[1]
	}

	if err := run(context.Background(), *dbPath, cmd, arg); err != nil {
		log.Error("migrate failed", "command", cmd, "db", *dbPath, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, cmd, arg string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return migrations.Apply(ctx, db, cmd, arg)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: migrate [-db path] <command> [version]\n\nCommands:\n")
	for _, c := range migrations.Commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.Name, c.Usage)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
