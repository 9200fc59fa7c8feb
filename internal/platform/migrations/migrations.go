// Package migrations owns the four ordered, idempotent install scripts
// (§6) and the schema-drift check (SPEC_FULL.md C.4) that reads the
// `schemas` registry back against information_schema to confirm every
// table-control row's declared sync machinery actually exists.
//
// Applying is delegated to golang-migrate rather than the teacher's
// hand-rolled sequential ExecContext loop (system/platform/migrations.go):
// the embedded filesystem still sources the SQL exactly as the teacher
// does it, but golang-migrate's source/iofs + database/postgres driver
// gives us version tracking and down-migrations for free.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

//go:embed *.sql
var files embed.FS

// Apply runs every pending up-migration in lexical order against db.
// Idempotent: a database already at the latest version returns
// migrate.ErrNoChange, which Apply treats as success.
func Apply(db *sql.DB) error {
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: open source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: open postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: new migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// names returns the embedded .sql filenames in lexical order, matching the
// teacher's sorted-application guarantee.
func names() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("migrations: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasSuffix(n, ".sql") {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// VerifyAll walks the schemas registry's table-control rows and confirms
// the sync machinery each one declares actually exists: the embeddings_*
// table for HasEmbeddings, the kv_sync trigger for HasKVSync. A mismatch
// means the registry has drifted from the database (someone added a
// table-control row without running the migration that builds its
// plumbing, or vice versa) and returns a SchemaDriftError naming the
// table and the migration that should fix it.
func VerifyAll(ctx context.Context, db *sqlx.DB, schemas []domain.Schema) error {
	for _, s := range schemas {
		if s.Kind != domain.SchemaKindTable || s.TableControl == nil {
			continue
		}
		tc := s.TableControl

		var tableExists bool
		if err := db.GetContext(ctx, &tableExists,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, tc.TableName); err != nil {
			return perrors.TransientStore("verify_all:table", err)
		}
		if !tableExists {
			return driftError(tc.TableName, "0001_entities")
		}

		if tc.HasKVSync {
			ok, err := triggerExists(ctx, db, tc.TableName, "kv_sync_"+tc.TableName)
			if err != nil {
				return err
			}
			if !ok {
				return driftError(tc.TableName, "0002_indices_triggers")
			}
		}

		if tc.HasEmbeddings {
			var embTableExists bool
			if err := db.GetContext(ctx, &embTableExists,
				`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
				"embeddings_"+tc.TableName); err != nil {
				return perrors.TransientStore("verify_all:embeddings_table", err)
			}
			if !embTableExists {
				return driftError(tc.TableName, "0002_indices_triggers")
			}
		}
	}
	return nil
}

func triggerExists(ctx context.Context, db *sqlx.DB, tableName, triggerName string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM information_schema.triggers
		   WHERE event_object_table = $1 AND trigger_name = $2)`, tableName, triggerName)
	if err != nil {
		return false, perrors.TransientStore("verify_all:trigger", err)
	}
	return exists, nil
}

func driftError(tableName, suggestedMigration string) error {
	return perrors.New(perrors.CodeSchemaDrift,
		fmt.Sprintf("schema drift on table %q: expected plumbing from migration %s is missing", tableName, suggestedMigration))
}
