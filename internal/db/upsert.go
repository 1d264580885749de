package db

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "website_analysis")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// Upsert builds INSERT ... ON CONFLICT (keys) DO UPDATE SET col = excluded.col.
// The statement is valid for both SQLite and PostgreSQL; format selects the
// placeholder style.
func Upsert(cfg UpsertConfig, format sq.PlaceholderFormat, values ...any) (string, []any, error) {
	if len(cfg.Columns) == 0 {
		return "", nil, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", nil, eris.New("db: upsert: no conflict keys specified")
	}
	if len(values) != len(cfg.Columns) {
		return "", nil, eris.Errorf("db: upsert: %d values for %d columns", len(values), len(cfg.Columns))
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	suffix := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	if len(updateCols) > 0 {
		setClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			setClauses[i] = fmt.Sprintf("%s = excluded.%s", q, q)
		}
		suffix = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
			quoteAndJoin(cfg.ConflictKeys), strings.Join(setClauses, ", "))
	}

	query, args, err := sq.Insert(sanitizeTable(cfg.Table)).
		Columns(quoteEach(cfg.Columns)...).
		Values(values...).
		Suffix(suffix).
		PlaceholderFormat(format).
		ToSql()
	if err != nil {
		return "", nil, eris.Wrapf(err, "db: upsert: build %s", cfg.Table)
	}
	return query, args, nil
}

// sanitizeTable handles schema-qualified table names like "public.websites".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteEach(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return quoted
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	return strings.Join(quoteEach(cols), ", ")
}
