package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enricher/internal/db"
	"github.com/sells-group/contact-enricher/internal/model"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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
CREATE TABLE IF NOT EXISTS contacts (
	email              TEXT PRIMARY KEY,
	phone              TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'waiting',
	last_status_update TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS parameters (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stoplist (
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, value)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	stats       JSONB NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Ping verifies the pool can reach the database.
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

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.StagedContact, error) {
	query := `SELECT email, phone, status, last_status_update, created_at FROM contacts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at, email LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var contacts []model.StagedContact
	for rows.Next() {
		var c model.StagedContact
		var status string
		if err := rows.Scan(&c.Email, &c.Phone, &status, &c.LastStatusUpdate, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.Status = model.ContactStatus(status)
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

func (s *PostgresStore) GetContact(ctx context.Context, email string) (*model.StagedContact, error) {
	var c model.StagedContact
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT email, phone, status, last_status_update, created_at FROM contacts WHERE email = $1`,
		email,
	).Scan(&c.Email, &c.Phone, &status, &c.LastStatusUpdate, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact %s", email)
	}
	c.Status = model.ContactStatus(status)
	return &c, nil
}

func (s *PostgresStore) StageContacts(ctx context.Context, contacts []model.StagedContact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(contacts))
	for _, c := range contacts {
		c = normalizeStaged(c, now)
		rows = append(rows, []any{c.Email, c.Phone, string(c.Status), c.LastStatusUpdate, c.CreatedAt})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contacts",
		Columns:      []string{"email", "phone", "status", "last_status_update", "created_at"},
		ConflictKeys: []string{"email"},
		UpdateCols:   []string{},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: stage contacts")
	}
	return int(n), nil
}

func (s *PostgresStore) UpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error) {
	if err := validateUpdates(updates); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	emails := make([]string, len(updates))
	statuses := make([]string, len(updates))
	times := make([]time.Time, len(updates))
	for i, u := range updates {
		emails[i] = u.Email
		statuses[i] = string(u.Status)
		times[i] = updateTime(u)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts AS c SET status = u.status, last_status_update = u.ts
		 FROM unnest($1::text[], $2::text[], $3::timestamptz[]) AS u(email, status, ts)
		 WHERE c.email = u.email AND c.status = $4`,
		emails, statuses, times, string(model.ContactStatusWaiting),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: update statuses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context) (time.Time, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM parameters WHERE key = $1`, paramLastCheck).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: get checkpoint")
	}
	return parseCheckpoint(value)
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO parameters (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		paramLastCheck, formatCheckpoint(t),
	)
	return eris.Wrap(err, "postgres: set checkpoint")
}

func (s *PostgresStore) GetStopLists(ctx context.Context) (model.StopLists, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, value FROM stoplist ORDER BY created_at, value`)
	if err != nil {
		return model.StopLists{}, eris.Wrap(err, "postgres: get stop lists")
	}
	defer rows.Close()

	var lists model.StopLists
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return model.StopLists{}, eris.Wrap(err, "postgres: scan stop list entry")
		}
		lists = appendStopEntry(lists, kind, value)
	}
	return lists, eris.Wrap(rows.Err(), "postgres: get stop lists iterate")
}

func (s *PostgresStore) AddStopLists(ctx context.Context, lists model.StopLists) error {
	for _, e := range stopEntries(lists) {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO stoplist (kind, value) VALUES ($1, $2) ON CONFLICT (kind, value) DO NOTHING`,
			e.kind, e.value,
		); err != nil {
			return eris.Wrapf(err, "postgres: add stop list %s %s", e.kind, e.value)
		}
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run *model.Run) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, started_at, finished_at, stats, error) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Kind), run.StartedAt.UTC(), run.FinishedAt.UTC(), statsJSON, run.Error,
	)
	return eris.Wrapf(err, "postgres: record run %s", run.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, started_at, finished_at, stats, error FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var kind string
		var statsJSON []byte
		if err := rows.Scan(&r.ID, &kind, &r.StartedAt, &r.FinishedAt, &statsJSON, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Kind = model.RunKind(kind)
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run stats")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
