// Package db holds pgx helpers shared by the Postgres-backed stores.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one bulk upsert target.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string

	// UpdateCols lists the columns rewritten on conflict. Nil means every
	// non-key column, which is what re-processing a document wants.
	UpdateCols []string
}

func (c UpsertConfig) validate() error {
	if c.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

// BulkUpsert writes rows through a transaction-local staging table. COPY is
// far cheaper than row-at-a-time inserts for a large register, and the final
// INSERT ... ON CONFLICT keeps re-processing the same document idempotent.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := "staging_" + cfg.Table
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL(staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge staged rows into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// mergeSQL renders the INSERT ... ON CONFLICT statement that moves staged
// rows into the target table.
func (c UpsertConfig) mergeSQL(staging string) string {
	update := c.UpdateCols
	if update == nil {
		keys := make(map[string]bool, len(c.ConflictKeys))
		for _, k := range c.ConflictKeys {
			keys[k] = true
		}
		for _, col := range c.Columns {
			if !keys[col] {
				update = append(update, col)
			}
		}
	}

	cols := quoteColumns(c.Columns)
	head := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		pgx.Identifier{c.Table}.Sanitize(),
		cols,
		cols,
		pgx.Identifier{staging}.Sanitize(),
		quoteColumns(c.ConflictKeys),
	)

	if len(update) == 0 {
		return head + " DO NOTHING"
	}

	set := make([]string, 0, len(update))
	for _, col := range update {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, q+" = EXCLUDED."+q)
	}
	return head + " DO UPDATE SET " + strings.Join(set, ", ")
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
