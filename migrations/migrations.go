// Package migrations embeds the SQL schema of the relay database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// Command describes one schema operation.
type Command struct {
	Name  string
	Usage string
	run   func(ctx context.Context, db *sql.DB, arg string) error
}

// Commands lists the operations accepted by Apply, in help order.
var Commands = []Command{
	{Name: "up", Usage: "migrate to the latest version", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.UpContext(ctx, db, ".")
	}},
	{Name: "up-one", Usage: "migrate one version up", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.UpByOneContext(ctx, db, ".")
	}},
	{Name: "up-to", Usage: "migrate up to <version>", run: func(ctx context.Context, db *sql.DB, arg string) error {
		v, err := parseVersion(arg)
		if err != nil {
			return err
		}
		return goose.UpToContext(ctx, db, ".", v)
	}},
	{Name: "down", Usage: "roll back one version", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.DownContext(ctx, db, ".")
	}},
	{Name: "redo", Usage: "roll back and reapply the latest version", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.RedoContext(ctx, db, ".")
	}},
	{Name: "reset", Usage: "roll back all migrations", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.ResetContext(ctx, db, ".")
	}},
	{Name: "status", Usage: "show migration status", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.StatusContext(ctx, db, ".")
	}},
	{Name: "version", Usage: "show current version", run: func(ctx context.Context, db *sql.DB, _ string) error {
		return goose.VersionContext(ctx, db, ".")
	}},
}

func init() {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(fmt.Sprintf("goose dialect: %v", err))
	}
}

// Run applies all pending migrations silently.
func Run(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	if err := Apply(context.Background(), db, "up", ""); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Apply runs the named command. arg is only used by commands that take a version.
func Apply(ctx context.Context, db *sql.DB, name, arg string) error {
	for _, c := range Commands {
		if c.Name != name {
			continue
		}
		if err := c.run(ctx, db, arg); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", name)
}

// Version returns the schema version recorded in db.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}
