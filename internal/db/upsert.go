package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed bulk write into one table.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied by each row, in row order
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns replaced on conflict; nil means every non-key column, empty means none
	UpdateWhere  string   // condition on the existing row; rows failing it keep their values
}

func (c UpsertConfig) validate() error {
	switch {
	case c.Table == "":
		return eris.New("db: upsert: no table specified")
	case len(c.Columns) == 0:
		return eris.New("db: upsert: no columns specified")
	case len(c.ConflictKeys) == 0:
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateColumns() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = true
	}
	var cols []string
	for _, col := range c.Columns {
		if !keys[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

func (c UpsertConfig) scratchTable() string {
	return "_stage_" + strings.ReplaceAll(c.Table, ".", "_")
}

func (c UpsertConfig) createSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{c.scratchTable()}.Sanitize(), sanitizeTable(c.Table))
}

func (c UpsertConfig) mergeSQL() string {
	cols := quoteAndJoin(c.Columns)
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		sanitizeTable(c.Table), cols, cols,
		pgx.Identifier{c.scratchTable()}.Sanitize(), quoteAndJoin(c.ConflictKeys))

	update := c.updateColumns()
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	sets := make([]string, len(update))
	for i, col := range update {
		id := pgx.Identifier{col}.Sanitize()
		sets[i] = id + " = EXCLUDED." + id
	}
	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	if c.UpdateWhere != "" {
		b.WriteString(" WHERE ")
		b.WriteString(c.UpdateWhere)
	}
	return b.String()
}

// BulkUpsert copies rows into a transaction-scoped scratch table and merges
// them into cfg.Table with INSERT ... ON CONFLICT, all in one transaction.
// The count covers inserted and updated rows; conflicting rows that fail
// UpdateWhere are not counted.
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

	if _, err := tx.Exec(ctx, cfg.createSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create scratch table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{cfg.scratchTable()}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy %d rows for %s", len(rows), cfg.Table)
	}
	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name that may carry a schema prefix.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
