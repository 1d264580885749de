package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/seo-pipeline/internal/db"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS websites (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	last_scanned_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS website_analysis (
	website_id       TEXT PRIMARY KEY,
	scan_result      TEXT,
	business_profile TEXT,
	seo_strategy     TEXT,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS article_drafts (
	id                 TEXT PRIMARY KEY,
	website_id         TEXT NOT NULL,
	article_id         TEXT NOT NULL DEFAULT '',
	planned_article_id TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	outline            TEXT NOT NULL DEFAULT '[]',
	body_markdown      TEXT NOT NULL DEFAULT '',
	keywords           TEXT NOT NULL DEFAULT '[]',
	call_to_action     TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prompt_configs (
	task          TEXT PRIMARY KEY,
	system_prompt TEXT NOT NULL DEFAULT '',
	user_prompt   TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ai_call_logs (
	id              TEXT PRIMARY KEY,
	website_id      TEXT NOT NULL DEFAULT '',
	task            TEXT NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	variables       TEXT,
	system_prompt   TEXT NOT NULL DEFAULT '',
	user_prompt     TEXT NOT NULL DEFAULT '',
	response_raw    TEXT NOT NULL DEFAULT '',
	response_parsed TEXT,
	status          TEXT NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	usage           TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY,
	queue      TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	website_id TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	error      TEXT NOT NULL,
	error_type TEXT NOT NULL DEFAULT 'permanent',
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_article_drafts_website ON article_drafts(website_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_website ON ai_call_logs(website_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_task ON ai_call_logs(task);
CREATE INDEX IF NOT EXISTS idx_dlq_queue ON dead_letter_queue(queue, created_at);
`

var sqliteSQL = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Websites ---

func (s *SQLiteStore) GetWebsite(ctx context.Context, id string) (*model.Website, error) {
	var w model.Website
	var lastScanned sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, name, last_scanned_at, created_at, updated_at FROM websites WHERE id = ?`, id,
	).Scan(&w.ID, &w.URL, &w.Name, &lastScanned, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get website %s", id)
	}
	if lastScanned.Valid {
		t := lastScanned.Time
		w.LastScannedAt = &t
	}
	return &w, nil
}

func (s *SQLiteStore) UpsertWebsite(ctx context.Context, w model.Website) error {
	now := time.Now().UTC()
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "websites",
		Columns:      []string{"id", "url", "name", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"url", "name", "updated_at"},
	}, sq.Question, w.ID, w.URL, w.Name, now, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: upsert website %s", w.ID)
}

func (s *SQLiteStore) TouchScanned(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE websites SET last_scanned_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch scanned %s", id)
	}
	return checkRowsAffected(res, "website", id)
}

// --- Artifacts ---

func sqliteGetArtifact[T any](ctx context.Context, s *SQLiteStore, col, websiteID string) (*T, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+col+` FROM website_analysis WHERE website_id = ?`, websiteID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s for %s", col, websiteID)
	}
	var out T
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal %s", col)
	}
	return &out, nil
}

func (s *SQLiteStore) upsertArtifact(ctx context.Context, col, websiteID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", col)
	}
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "website_analysis",
		Columns:      []string{"website_id", col, "updated_at"},
		ConflictKeys: []string{"website_id"},
	}, sq.Question, websiteID, string(b), time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: upsert %s for %s", col, websiteID)
}

func (s *SQLiteStore) GetScanResult(ctx context.Context, websiteID string) (*model.ScanResult, error) {
	return sqliteGetArtifact[model.ScanResult](ctx, s, colScanResult, websiteID)
}

func (s *SQLiteStore) UpsertScanResult(ctx context.Context, websiteID string, r model.ScanResult) error {
	return s.upsertArtifact(ctx, colScanResult, websiteID, r)
}

func (s *SQLiteStore) GetBusinessProfile(ctx context.Context, websiteID string) (*model.BusinessProfile, error) {
	return sqliteGetArtifact[model.BusinessProfile](ctx, s, colBusinessProfile, websiteID)
}

func (s *SQLiteStore) UpsertBusinessProfile(ctx context.Context, websiteID string, p model.BusinessProfile) error {
	return s.upsertArtifact(ctx, colBusinessProfile, websiteID, p)
}

func (s *SQLiteStore) GetSeoStrategy(ctx context.Context, websiteID string) (*model.SeoStrategy, error) {
	return sqliteGetArtifact[model.SeoStrategy](ctx, s, colSeoStrategy, websiteID)
}

func (s *SQLiteStore) UpsertSeoStrategy(ctx context.Context, websiteID string, st model.SeoStrategy) error {
	return s.upsertArtifact(ctx, colSeoStrategy, websiteID, st)
}

// --- Article drafts ---

func (s *SQLiteStore) CreateArticleDraft(ctx context.Context, d *model.ArticleDraft) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	outline, err := json.Marshal(nonNilStrings(d.Outline))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outline")
	}
	keywords, err := json.Marshal(nonNilStrings(d.Keywords))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO article_drafts
		 (id, website_id, article_id, planned_article_id, title, outline, body_markdown, keywords, call_to_action, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebsiteID, d.ArticleID, d.PlannedArticleID, d.Title,
		string(outline), d.BodyMarkdown, string(keywords), d.CallToAction, d.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert article draft for %s", d.WebsiteID)
}

func (s *SQLiteStore) ListArticleDrafts(ctx context.Context, websiteID string, limit int) ([]model.ArticleDraft, error) {
	query, args, err := sqliteSQL.
		Select("id", "website_id", "article_id", "planned_article_id", "title", "outline",
			"body_markdown", "keywords", "call_to_action", "created_at").
		From("article_drafts").
		Where(sq.Eq{"website_id": websiteID}).
		OrderBy("created_at DESC").
		Limit(listLimit(limit)).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list drafts")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list drafts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ArticleDraft
	for rows.Next() {
		var d model.ArticleDraft
		var outline, keywords string
		if err := rows.Scan(&d.ID, &d.WebsiteID, &d.ArticleID, &d.PlannedArticleID, &d.Title,
			&outline, &d.BodyMarkdown, &keywords, &d.CallToAction, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan draft")
		}
		if err := json.Unmarshal([]byte(outline), &d.Outline); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal outline")
		}
		if err := json.Unmarshal([]byte(keywords), &d.Keywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list drafts iterate")
}

// --- Prompt overrides ---

func (s *SQLiteStore) GetPromptOverride(ctx context.Context, task model.Task) (*model.PromptConfig, error) {
	var pc model.PromptConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT task, system_prompt, user_prompt, provider, model, updated_at FROM prompt_configs WHERE task = ?`,
		string(task),
	).Scan(&pc.Task, &pc.SystemPrompt, &pc.UserPrompt, &pc.Provider, &pc.Model, &pc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prompt override %s", task)
	}
	return &pc, nil
}

func (s *SQLiteStore) UpsertPromptOverride(ctx context.Context, cfg model.PromptConfig) error {
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "prompt_configs",
		Columns:      []string{"task", "system_prompt", "user_prompt", "provider", "model", "updated_at"},
		ConflictKeys: []string{"task"},
	}, sq.Question, string(cfg.Task), cfg.SystemPrompt, cfg.UserPrompt, cfg.Provider, cfg.Model, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: upsert prompt override %s", cfg.Task)
}

// --- Call log ---

func (s *SQLiteStore) AppendCallLog(ctx context.Context, e *model.AiCallLog) error {
	prepareCallLog(e)
	vars, usage, err := encodeCallLog(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_call_logs
		 (id, website_id, task, provider, model, variables, system_prompt, user_prompt,
		  response_raw, response_parsed, status, error_message, usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WebsiteID, string(e.Task), e.Provider, e.Model, nullString(vars),
		e.SystemPrompt, e.UserPrompt, e.ResponseRaw, nullString(e.ResponseParsed),
		string(e.Status), e.ErrorMessage, nullString(usage), e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append call log")
}

func (s *SQLiteStore) ListCallLogs(ctx context.Context, f CallLogFilter) ([]model.AiCallLog, error) {
	query, args, err := callLogQuery(sqliteSQL, f).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list call logs")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list call logs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AiCallLog
	for rows.Next() {
		var e model.AiCallLog
		var vars, parsed, usage sql.NullString
		if err := rows.Scan(&e.ID, &e.WebsiteID, &e.Task, &e.Provider, &e.Model, &vars,
			&e.SystemPrompt, &e.UserPrompt, &e.ResponseRaw, &parsed, &e.Status,
			&e.ErrorMessage, &usage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call log")
		}
		if err := decodeCallLog(&e, []byte(vars.String), []byte(parsed.String), []byte(usage.String)); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list call logs iterate")
}

// --- Dead-letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	prepareDLQ(&e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, queue, job_id, website_id, payload, error, error_type, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Queue, e.JobID, e.WebsiteID, string(e.Payload), e.Error, e.ErrorType, e.Attempts, e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, f resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query, args, err := dlqQuery(sqliteSQL, f).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list dlq")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.Queue, &e.JobID, &e.WebsiteID, &payload,
			&e.Error, &e.ErrorType, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
