package db

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_Postgres(t *testing.T) {
	query, args, err := Upsert(UpsertConfig{
		Table:        "website_analysis",
		Columns:      []string{"website_id", "scan_result", "updated_at"},
		ConflictKeys: []string{"website_id"},
	}, sq.Dollar, "w1", []byte(`{}`), "now")
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "website_analysis" ("website_id","scan_result","updated_at") VALUES ($1,$2,$3) `+
			`ON CONFLICT ("website_id") DO UPDATE SET "scan_result" = excluded."scan_result", "updated_at" = excluded."updated_at"`,
		query)
	assert.Len(t, args, 3)
}

func TestUpsert_SQLiteExplicitUpdateCols(t *testing.T) {
	query, _, err := Upsert(UpsertConfig{
		Table:        "websites",
		Columns:      []string{"id", "url", "created_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"url"},
	}, sq.Question, "w1", "https://acme.com", "now")
	require.NoError(t, err)
	assert.Contains(t, query, `VALUES (?,?,?)`)
	assert.Contains(t, query, `DO UPDATE SET "url" = excluded."url"`)
	assert.NotContains(t, query, `"created_at" = excluded`)
}

func TestUpsert_OnlyConflictColumns(t *testing.T) {
	query, _, err := Upsert(UpsertConfig{
		Table:        "seen",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, sq.Question, "x")
	require.NoError(t, err)
	assert.Contains(t, query, `ON CONFLICT ("id") DO NOTHING`)
}

func TestUpsert_Validation(t *testing.T) {
	_, _, err := Upsert(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, sq.Question)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, _, err = Upsert(UpsertConfig{Table: "t", Columns: []string{"id"}}, sq.Question, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")

	_, _, err = Upsert(UpsertConfig{Table: "t", Columns: []string{"id", "v"}, ConflictKeys: []string{"id"}}, sq.Question, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 columns")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.websites", `"public"."websites"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
