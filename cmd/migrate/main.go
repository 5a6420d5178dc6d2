package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const createVersions = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`

type migration struct {
	Version string
	Path    string
}

// listMigrations - *.sql из dir по имени файла; версия = имя без расширения.
func listMigrations(dir string) ([]migration, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, errors.Wrap(err, "glob migrations")
	}
	sort.Strings(files)
	out := make([]migration, 0, len(files))
	for _, f := range files {
		out = append(out, migration{
			Version: strings.TrimSuffix(filepath.Base(f), ".sql"),
			Path:    f,
		})
	}
	return out, nil
}

func pending(all []migration, applied map[string]bool) []migration {
	var out []migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	if _, err := conn.Exec(ctx, createVersions); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "select versions")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan version")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "read versions")
}

func apply(ctx context.Context, conn *pgx.Conn, m migration) error {
	body, err := os.ReadFile(m.Path)
	if err != nil {
		return errors.Wrap(err, "read "+m.Path)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return errors.Wrap(err, fmt.Sprintf("apply %s", m.Version))
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return errors.Wrap(err, "record version")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func main() {
	viper.SetConfigName(".migrate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetDefault("dir", "migrations")
	viper.SetEnvPrefix("MIGRATE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	dsn := viper.GetString("dsn")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dsn == "" {
		panic("has no dsn: set it in .migrate.yaml, MIGRATE_DSN or DATABASE_DSN")
	}
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		panic(errors.Wrap(err, "connect"))
	}
	defer conn.Close(ctx)

	all, err := listMigrations(viper.GetString("dir"))
	if err != nil {
		panic(err)
	}
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		panic(err)
	}
	todo := pending(all, done)

	switch cmd {
	case "status":
		for _, m := range all {
			mark := "applied"
			if !done[m.Version] {
				mark = "pending"
			}
			fmt.Printf("%-32s %s\n", m.Version, mark)
		}
	case "up":
		for _, m := range todo {
			if err := apply(ctx, conn, m); err != nil {
				panic(err)
			}
			fmt.Printf("%s applied\n", m.Version)
		}
		fmt.Println("done")
	default:
		panic(fmt.Sprintf("unknown command %q (up|status)", cmd))
	}
}
