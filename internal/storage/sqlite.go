package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
)

const sqliteInsertEntry = `
INSERT OR IGNORE INTO uniprot_entry
  (accession, accessions, name, dataset, created, modified, version, taxid, organism, protein_name, gene_name, digest)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqliteUpsertVersion = `
INSERT INTO uniprot_version (knowledgebase, release_name, release_date, import_started_at, import_completed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (knowledgebase, release_name) DO UPDATE SET
  release_date = excluded.release_date,
  import_started_at = excluded.import_started_at,
  import_completed_at = excluded.import_completed_at`

const sqliteInsertRun = `
INSERT OR IGNORE INTO uniprot_import_run (id, source, taxids, started_at, completed_at, stats, first_error, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const sqliteRecentRuns = `
SELECT id, source, taxids, started_at, completed_at, stats, error
FROM uniprot_import_run
ORDER BY started_at DESC
LIMIT ?`

// SQLite is an embedded Store in a single database file.
type SQLite struct {
	conn *sql.DB
	path string
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	return OpenSQLite(ctx, cfg.SQLitePath)
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; avoids SQLITE_BUSY between pooled connections.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{conn: conn, path: path}, nil
}

func (s *SQLite) Driver() string { return config.DriverSQLite }

// Path returns the database file.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

func (s *SQLite) Close() error { return s.conn.Close() }

// Put inserts a batch in one transaction. Accessions already present are
// reported as duplicates.
func (s *SQLite) Put(ctx context.Context, batch []core.Record) ([]core.PutResult, error) {
	results := make([]core.PutResult, len(batch))
	if len(batch) == 0 {
		return results, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertEntry)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range batch {
		results[i].Accession = rec.Accession

		row, err := newEntryRow(rec)
		if err != nil {
			results[i].Status = core.PutRejected
			results[i].Reason = err.Error()
			continue
		}

		res, err := stmt.ExecContext(ctx,
			rec.Accession,
			string(row.accessions),
			rec.Name,
			rec.Dataset,
			rec.Created.Format(core.DateLayout),
			rec.Modified.Format(core.DateLayout),
			rec.Version,
			rec.TaxID,
			string(row.organism),
			nullString(rec.ProteinName),
			nullString(rec.GeneName),
			row.digest,
		)
		if err != nil {
			if isConstraint(err) {
				results[i].Status = core.PutRejected
				results[i].Reason = fmt.Sprintf("db error: %v", err)
				continue
			}
			return nil, fmt.Errorf("insert %s: %w", rec.Accession, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", rec.Accession, err)
		}
		if n == 0 {
			results[i].Status = core.PutDuplicate
		} else {
			results[i].Status = core.PutInserted
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return results, nil
}

// isConstraint reports whether err is a constraint failure on one row.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func (s *SQLite) RecordRelease(ctx context.Context, rel core.Release, startedAt, completedAt time.Time) error {
	var date any
	if !rel.Date.IsZero() {
		date = rel.Date.Format(core.DateLayout)
	}
	_, err := s.conn.ExecContext(ctx, sqliteUpsertVersion,
		rel.Knowledgebase, rel.Name, date, formatTime(startedAt), formatTime(completedAt))
	if err != nil {
		return fmt.Errorf("record release %s %s: %w", rel.Knowledgebase, rel.Name, err)
	}
	return nil
}

func (s *SQLite) RecordRun(ctx context.Context, run core.RunSummary) error {
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, sqliteInsertRun,
		run.ID,
		run.Source,
		string(row.taxids),
		formatTime(run.StartedAt),
		formatTime(run.CompletedAt),
		string(row.stats),
		nullString(run.Stats.FirstErrorMessage()),
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLite) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+EntryTable).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	rows, err := s.conn.QueryContext(ctx, sqliteRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunSummary
	for rows.Next() {
		var (
			run                    core.RunSummary
			taxids, stats          string
			startedAt, completedAt string
			runErr                 sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Source, &taxids, &startedAt, &completedAt, &stats, &runErr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Error = runErr.String
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		if err := decodeRun(&run, []byte(taxids), []byte(stats)); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Release returns a stored release, for inspection.
func (s *SQLite) Release(ctx context.Context, knowledgebase, name string) (core.Release, error) {
	var date sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT release_date FROM uniprot_version WHERE knowledgebase = ? AND release_name = ?`,
		knowledgebase, name).Scan(&date)
	if err != nil {
		return core.Release{}, err
	}
	rel := core.Release{Knowledgebase: knowledgebase, Name: name}
	if date.Valid {
		if rel.Date, err = time.Parse(core.DateLayout, date.String); err != nil {
			return core.Release{}, fmt.Errorf("parse release date %q: %w", date.String, err)
		}
	}
	return rel, nil
}

// sqliteTimeLayout is fixed width so text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
