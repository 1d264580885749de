package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/seo-pipeline/internal/db"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_website":         `SELECT id, url, name, last_scanned_at, created_at, updated_at FROM websites WHERE id = $1`,
	"touch_scanned":       `UPDATE websites SET last_scanned_at = $1, updated_at = $2 WHERE id = $3`,
	"get_prompt_override": `SELECT task, system_prompt, user_prompt, provider, model, updated_at FROM prompt_configs WHERE task = $1`,
}

var pgSQL = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS websites (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	last_scanned_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS website_analysis (
	website_id       TEXT PRIMARY KEY,
	scan_result      JSONB,
	business_profile JSONB,
	seo_strategy     JSONB,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS article_drafts (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	website_id         TEXT NOT NULL,
	article_id         TEXT NOT NULL DEFAULT '',
	planned_article_id TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	outline            JSONB NOT NULL DEFAULT '[]',
	body_markdown      TEXT NOT NULL DEFAULT '',
	keywords           JSONB NOT NULL DEFAULT '[]',
	call_to_action     TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompt_configs (
	task          TEXT PRIMARY KEY,
	system_prompt TEXT NOT NULL DEFAULT '',
	user_prompt   TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ai_call_logs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	website_id      TEXT NOT NULL DEFAULT '',
	task            TEXT NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	variables       JSONB,
	system_prompt   TEXT NOT NULL DEFAULT '',
	user_prompt     TEXT NOT NULL DEFAULT '',
	response_raw    TEXT NOT NULL DEFAULT '',
	response_parsed JSONB,
	status          TEXT NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	usage           JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	queue      TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	website_id TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	error      TEXT NOT NULL,
	error_type TEXT NOT NULL DEFAULT 'permanent',
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_article_drafts_website ON article_drafts(website_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_website ON ai_call_logs(website_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_task ON ai_call_logs(task);
CREATE INDEX IF NOT EXISTS idx_dlq_queue ON dead_letter_queue(queue, created_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Websites ---

func (s *PostgresStore) GetWebsite(ctx context.Context, id string) (*model.Website, error) {
	var w model.Website
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, name, last_scanned_at, created_at, updated_at FROM websites WHERE id = $1`, id,
	).Scan(&w.ID, &w.URL, &w.Name, &w.LastScannedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get website %s", id)
	}
	return &w, nil
}

func (s *PostgresStore) UpsertWebsite(ctx context.Context, w model.Website) error {
	now := time.Now().UTC()
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "websites",
		Columns:      []string{"id", "url", "name", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"url", "name", "updated_at"},
	}, sq.Dollar, w.ID, w.URL, w.Name, now, now)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: upsert website %s", w.ID)
}

func (s *PostgresStore) TouchScanned(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE websites SET last_scanned_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch scanned %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("website not found: %s", id)
	}
	return nil
}

// --- Artifacts ---

func pgGetArtifact[T any](ctx context.Context, s *PostgresStore, col, websiteID string) (*T, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+col+` FROM website_analysis WHERE website_id = $1`, websiteID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && raw == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s for %s", col, websiteID)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal %s", col)
	}
	return &out, nil
}

func (s *PostgresStore) upsertArtifact(ctx context.Context, col, websiteID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", col)
	}
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "website_analysis",
		Columns:      []string{"website_id", col, "updated_at"},
		ConflictKeys: []string{"website_id"},
	}, sq.Dollar, websiteID, b, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: upsert %s for %s", col, websiteID)
}

func (s *PostgresStore) GetScanResult(ctx context.Context, websiteID string) (*model.ScanResult, error) {
	return pgGetArtifact[model.ScanResult](ctx, s, colScanResult, websiteID)
}

func (s *PostgresStore) UpsertScanResult(ctx context.Context, websiteID string, r model.ScanResult) error {
	return s.upsertArtifact(ctx, colScanResult, websiteID, r)
}

func (s *PostgresStore) GetBusinessProfile(ctx context.Context, websiteID string) (*model.BusinessProfile, error) {
	return pgGetArtifact[model.BusinessProfile](ctx, s, colBusinessProfile, websiteID)
}

func (s *PostgresStore) UpsertBusinessProfile(ctx context.Context, websiteID string, p model.BusinessProfile) error {
	return s.upsertArtifact(ctx, colBusinessProfile, websiteID, p)
}

func (s *PostgresStore) GetSeoStrategy(ctx context.Context, websiteID string) (*model.SeoStrategy, error) {
	return pgGetArtifact[model.SeoStrategy](ctx, s, colSeoStrategy, websiteID)
}

func (s *PostgresStore) UpsertSeoStrategy(ctx context.Context, websiteID string, st model.SeoStrategy) error {
	return s.upsertArtifact(ctx, colSeoStrategy, websiteID, st)
}

// --- Article drafts ---

func (s *PostgresStore) CreateArticleDraft(ctx context.Context, d *model.ArticleDraft) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	outline, err := json.Marshal(nonNilStrings(d.Outline))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outline")
	}
	keywords, err := json.Marshal(nonNilStrings(d.Keywords))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO article_drafts
		 (id, website_id, article_id, planned_article_id, title, outline, body_markdown, keywords, call_to_action, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.WebsiteID, d.ArticleID, d.PlannedArticleID, d.Title,
		outline, d.BodyMarkdown, keywords, d.CallToAction, d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert article draft for %s", d.WebsiteID)
}

func (s *PostgresStore) ListArticleDrafts(ctx context.Context, websiteID string, limit int) ([]model.ArticleDraft, error) {
	query, args, err := pgSQL.
		Select("id", "website_id", "article_id", "planned_article_id", "title", "outline",
			"body_markdown", "keywords", "call_to_action", "created_at").
		From("article_drafts").
		Where(sq.Eq{"website_id": websiteID}).
		OrderBy("created_at DESC").
		Limit(listLimit(limit)).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list drafts")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list drafts")
	}
	defer rows.Close()

	var out []model.ArticleDraft
	for rows.Next() {
		var d model.ArticleDraft
		var outline, keywords []byte
		if err := rows.Scan(&d.ID, &d.WebsiteID, &d.ArticleID, &d.PlannedArticleID, &d.Title,
			&outline, &d.BodyMarkdown, &keywords, &d.CallToAction, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan draft")
		}
		if err := json.Unmarshal(outline, &d.Outline); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outline")
		}
		if err := json.Unmarshal(keywords, &d.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal keywords")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list drafts iterate")
}

// --- Prompt overrides ---

func (s *PostgresStore) GetPromptOverride(ctx context.Context, task model.Task) (*model.PromptConfig, error) {
	var pc model.PromptConfig
	err := s.pool.QueryRow(ctx,
		`SELECT task, system_prompt, user_prompt, provider, model, updated_at FROM prompt_configs WHERE task = $1`,
		string(task),
	).Scan(&pc.Task, &pc.SystemPrompt, &pc.UserPrompt, &pc.Provider, &pc.Model, &pc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prompt override %s", task)
	}
	return &pc, nil
}

func (s *PostgresStore) UpsertPromptOverride(ctx context.Context, cfg model.PromptConfig) error {
	query, args, err := db.Upsert(db.UpsertConfig{
		Table:        "prompt_configs",
		Columns:      []string{"task", "system_prompt", "user_prompt", "provider", "model", "updated_at"},
		ConflictKeys: []string{"task"},
	}, sq.Dollar, string(cfg.Task), cfg.SystemPrompt, cfg.UserPrompt, cfg.Provider, cfg.Model, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: upsert prompt override %s", cfg.Task)
}

// --- Call log ---

func (s *PostgresStore) AppendCallLog(ctx context.Context, e *model.AiCallLog) error {
	prepareCallLog(e)
	vars, usage, err := encodeCallLog(e)
	if err != nil {
		return err
	}
	var parsed []byte
	if len(e.ResponseParsed) > 0 {
		parsed = e.ResponseParsed
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ai_call_logs
		 (id, website_id, task, provider, model, variables, system_prompt, user_prompt,
		  response_raw, response_parsed, status, error_message, usage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.WebsiteID, string(e.Task), e.Provider, e.Model, vars,
		e.SystemPrompt, e.UserPrompt, e.ResponseRaw, parsed,
		string(e.Status), e.ErrorMessage, usage, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append call log")
}

func (s *PostgresStore) ListCallLogs(ctx context.Context, f CallLogFilter) ([]model.AiCallLog, error) {
	query, args, err := callLogQuery(pgSQL, f).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list call logs")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list call logs")
	}
	defer rows.Close()

	var out []model.AiCallLog
	for rows.Next() {
		var e model.AiCallLog
		var task, status string
		var vars, parsed, usage []byte
		if err := rows.Scan(&e.ID, &e.WebsiteID, &task, &e.Provider, &e.Model, &vars,
			&e.SystemPrompt, &e.UserPrompt, &e.ResponseRaw, &parsed, &status,
			&e.ErrorMessage, &usage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call log")
		}
		e.Task = model.Task(task)
		e.Status = model.CallStatus(status)
		if err := decodeCallLog(&e, vars, parsed, usage); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list call logs iterate")
}

// --- Dead-letter queue ---

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	prepareDLQ(&e)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, queue, job_id, website_id, payload, error, error_type, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Queue, e.JobID, e.WebsiteID, []byte(e.Payload), e.Error, e.ErrorType, e.Attempts, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, f resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query, args, err := dlqQuery(pgSQL, f).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list dlq")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Queue, &e.JobID, &e.WebsiteID, &payload,
			&e.Error, &e.ErrorType, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}
