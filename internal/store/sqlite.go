package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-enricher/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	email              TEXT PRIMARY KEY,
	phone              TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'waiting',
	last_status_update DATETIME NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS parameters (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stoplist (
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, value)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	stats       TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

const (
	paramLastCheck = "last_check"
	stopKindPhone  = "phone"
	stopKindDomain = "domain"
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.StagedContact, error) {
	query := `SELECT email, phone, status, last_status_update, created_at FROM contacts WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, email LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var contacts []model.StagedContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) GetContact(ctx context.Context, email string) (*model.StagedContact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, phone, status, last_status_update, created_at FROM contacts WHERE email = ?`,
		email,
	)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) StageContacts(ctx context.Context, contacts []model.StagedContact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: stage contacts begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contacts (email, phone, status, last_status_update, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare stage contact")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var written int
	for _, c := range contacts {
		c = normalizeStaged(c, now)
		res, err := stmt.ExecContext(ctx, c.Email, c.Phone, string(c.Status), c.LastStatusUpdate, c.CreatedAt)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: stage contact %s", c.Email)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: stage contacts commit")
	}
	return written, nil
}

func (s *SQLiteStore) UpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error) {
	if err := validateUpdates(updates); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: update statuses begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var changed int
	for _, u := range updates {
		res, err := tx.ExecContext(ctx,
			`UPDATE contacts SET status = ?, last_status_update = ? WHERE email = ? AND status = ?`,
			string(u.Status), updateTime(u), u.Email, string(model.ContactStatusWaiting),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: update status %s", u.Email)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: update statuses commit")
	}
	return changed, nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM parameters WHERE key = ?`, paramLastCheck).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: get checkpoint")
	}
	return parseCheckpoint(value)
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		paramLastCheck, formatCheckpoint(t),
	)
	return eris.Wrap(err, "sqlite: set checkpoint")
}

func (s *SQLiteStore) GetStopLists(ctx context.Context) (model.StopLists, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, value FROM stoplist ORDER BY created_at, value`)
	if err != nil {
		return model.StopLists{}, eris.Wrap(err, "sqlite: get stop lists")
	}
	defer rows.Close()

	var lists model.StopLists
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return model.StopLists{}, eris.Wrap(err, "sqlite: scan stop list entry")
		}
		lists = appendStopEntry(lists, kind, value)
	}
	return lists, eris.Wrap(rows.Err(), "sqlite: get stop lists iterate")
}

func (s *SQLiteStore) AddStopLists(ctx context.Context, lists model.StopLists) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: add stop lists begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range stopEntries(lists) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stoplist (kind, value) VALUES (?, ?) ON CONFLICT (kind, value) DO NOTHING`,
			e.kind, e.value,
		); err != nil {
			return eris.Wrapf(err, "sqlite: add stop list %s %s", e.kind, e.value)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: add stop lists commit")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *model.Run) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, started_at, finished_at, stats, error) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.StartedAt.UTC(), run.FinishedAt.UTC(), string(statsJSON), run.Error,
	)
	return eris.Wrapf(err, "sqlite: record run %s", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, started_at, finished_at, stats, error FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var statsJSON string
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt, &statsJSON, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run stats")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (*model.StagedContact, error) {
	var c model.StagedContact
	err := row.Scan(&c.Email, &c.Phone, &c.Status, &c.LastStatusUpdate, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan contact")
	}
	return &c, nil
}
