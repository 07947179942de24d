package ruleimport

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore is a Store backed by an SQLite database file. Every bulk
// operation runs in its own transaction, which makes it safe against the
// process being stopped at any point of an import run.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS host_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		location TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		whitelist INTEGER NOT NULL DEFAULT 0,
		etag TEXT,
		rule_count INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS dns_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		type INTEGER NOT NULL,
		target TEXT NOT NULL,
		target_v6 TEXT,
		source_id INTEGER NOT NULL DEFAULT 0,
		wildcard INTEGER NOT NULL DEFAULT 0,
		staging INTEGER NOT NULL DEFAULT 0,
		is_user INTEGER NOT NULL DEFAULT 0
	)`,
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_dns_rules_key ON dns_rules(host, type, staging, source_id)",
	"CREATE INDEX IF NOT EXISTS idx_dns_rules_source ON dns_rules(source_id, staging)",
	`CREATE TABLE IF NOT EXISTS import_runs (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		source_ids TEXT NOT NULL,
		all_sources INTEGER NOT NULL,
		state TEXT NOT NULL,
		started_at INTEGER NOT NULL
	)`,
}

// NewSQLiteStore opens or creates the database in the given file.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", filename+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// A single connection serializes all writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "creating schema")
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sourceColumns = "id, name, location, enabled, whitelist, etag, rule_count"

func (s *SQLiteStore) ListSources(ctx context.Context) ([]Source, error) {
	return s.querySources(ctx, "SELECT "+sourceColumns+" FROM host_sources ORDER BY id")
}

func (s *SQLiteStore) ListEnabledSources(ctx context.Context) ([]Source, error) {
	return s.querySources(ctx, "SELECT "+sourceColumns+" FROM host_sources WHERE enabled = 1 ORDER BY id")
}

func (s *SQLiteStore) querySources(ctx context.Context, query string, args ...interface{}) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var (
			src       Source
			etag      sql.NullString
			ruleCount sql.NullInt64
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.Location, &src.Enabled, &src.Whitelist, &etag, &ruleCount); err != nil {
			return nil, err
		}
		if etag.Valid {
			src.ETag = &etag.String
		}
		if ruleCount.Valid {
			n := int(ruleCount.Int64)
			src.RuleCount = &n
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLiteStore) AddSource(ctx context.Context, src *Source) error {
	if src.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO host_sources (name, location, enabled, whitelist) VALUES (?, ?, ?, ?)",
			src.Name, src.Location, src.Enabled, src.Whitelist)
		if err != nil {
			return err
		}
		src.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_sources (id, name, location, enabled, whitelist) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			enabled = excluded.enabled,
			whitelist = excluded.whitelist`,
		src.ID, src.Name, src.Location, src.Enabled, src.Whitelist)
	return err
}

func (s *SQLiteStore) UpdateSource(ctx context.Context, src Source) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE host_sources
		SET name = ?, location = ?, enabled = ?, whitelist = ?, etag = ?, rule_count = ?
		WHERE id = ?`,
		src.Name, src.Location, src.Enabled, src.Whitelist, src.ETag, src.RuleCount, src.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errNotFound, "source %d", src.ID)
	}
	return nil
}

func (s *SQLiteStore) MarkForDeletion(ctx context.Context, sourceIDs []int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Leftovers of an earlier run with the same key are replaced.
		stmt, err := tx.PrepareContext(ctx,
			"UPDATE OR REPLACE dns_rules SET staging = ? WHERE staging = ? AND is_user = 0 AND source_id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range sourceIDs {
			if _, err := stmt.ExecContext(ctx, PendingDelete, Committed, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) PurgePendingDelete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", PendingDelete)
	return err
}

func (s *SQLiteStore) PurgeStaged(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", StagedNew)
	return err
}

func (s *SQLiteStore) DeleteAllNonUserRules(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM dns_rules WHERE is_user = 0")
	return err
}

func (s *SQLiteStore) InsertIgnoreConflict(ctx context.Context, rules []Rule) (int, error) {
	var inserted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO dns_rules (host, type, target, target_v6, source_id, wildcard, staging, is_user)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rules {
			res, err := stmt.ExecContext(ctx, r.Host, r.Type, r.Target, r.TargetV6, r.Source, r.Wildcard, r.Staging, r.User)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteStore) CommitStaged(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", PendingDelete); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE OR IGNORE dns_rules SET staging = ? WHERE staging = ?", Committed, StagedNew); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", StagedNew); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE import_runs SET state = ?", RunCommitted)
		return err
	})
}

func (s *SQLiteStore) RollbackStaged(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", StagedNew); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE OR IGNORE dns_rules SET staging = ? WHERE staging = ?", Committed, PendingDelete); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM dns_rules WHERE staging = ?", PendingDelete)
		return err
	})
}

func (s *SQLiteStore) Unstage(ctx context.Context, sourceID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE OR IGNORE dns_rules SET staging = ? WHERE staging = ? AND source_id = ?",
		Committed, PendingDelete, sourceID)
	return err
}

func (s *SQLiteStore) CountRulesFor(ctx context.Context, sourceID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dns_rules WHERE source_id = ? AND staging = ?", sourceID, Committed).Scan(&n)
	return n, err
}

func (s *SQLiteStore) RebuildIndices(ctx context.Context) error {
	stmts := []string{
		"DROP INDEX IF EXISTS idx_dns_rules_host",
		"CREATE INDEX idx_dns_rules_host ON dns_rules(host, type) WHERE staging = 0",
		"REINDEX dns_rules",
		"ANALYZE dns_rules",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "running '%s'", stmt)
		}
	}
	return nil
}

func (s *SQLiteStore) ClearETagsOfDisabled(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "UPDATE host_sources SET etag = NULL WHERE enabled = 0")
	return err
}

func (s *SQLiteStore) Rules(ctx context.Context, staging StagingMarker) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, type, target, target_v6, source_id, wildcard, staging, is_user
		FROM dns_rules WHERE staging = ?
		ORDER BY host, type, source_id`, staging)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			r        Rule
			targetV6 sql.NullString
		)
		if err := rows.Scan(&r.Host, &r.Type, &r.Target, &targetV6, &r.Source, &r.Wildcard, &r.Staging, &r.User); err != nil {
			return nil, err
		}
		if targetV6.Valid {
			r.TargetV6 = &targetV6.String
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) BeginRun(ctx context.Context, run Run) error {
	ids, err := json.Marshal(run.SourceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO import_runs (id, source_ids, all_sources, state, started_at) VALUES (1, ?, ?, ?, ?)",
		string(ids), run.AllSources, run.State, run.Started.Unix())
	return err
}

func (s *SQLiteStore) EndRun(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM import_runs")
	return err
}

func (s *SQLiteStore) PendingRun(ctx context.Context) (*Run, error) {
	var (
		run     Run
		ids     string
		started int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT source_ids, all_sources, state, started_at FROM import_runs WHERE id = 1").
		Scan(&ids, &run.AllSources, &run.State, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &run.SourceIDs); err != nil {
		return nil, errors.Wrap(err, "decoding run journal")
	}
	run.Started = time.Unix(started, 0)
	return &run, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
