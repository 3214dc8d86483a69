package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
)

const pgInsertEntry = `
INSERT INTO uniprot_entry
  (accession, accessions, name, dataset, created, modified, version, taxid, organism, protein_name, gene_name, digest)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (accession) DO NOTHING`

const pgUpsertVersion = `
INSERT INTO uniprot_version (knowledgebase, release_name, release_date, import_started_at, import_completed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (knowledgebase, release_name) DO UPDATE SET
  release_date = EXCLUDED.release_date,
  import_started_at = EXCLUDED.import_started_at,
  import_completed_at = EXCLUDED.import_completed_at`

const pgInsertRun = `
INSERT INTO uniprot_import_run (id, source, taxids, started_at, completed_at, stats, first_error, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

const pgRecentRuns = `
SELECT id::text, source, taxids, started_at, completed_at, stats, error
FROM uniprot_import_run
ORDER BY started_at DESC
LIMIT $1`

// Postgres is a Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	return OpenPostgres(ctx, cfg)
}

// OpenPostgres connects to PostgreSQL, verifies the connection and creates
// missing tables.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool. The schema must already exist.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// DatabaseName returns the database named in a connection URL, for logging.
func DatabaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (p *Postgres) Driver() string { return config.DriverPostgres }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Put inserts a batch in one transaction. Each insert runs under its own
// savepoint so that a record refused by the database does not abort the rest
// of the batch.
func (p *Postgres) Put(ctx context.Context, batch []core.Record) ([]core.PutResult, error) {
	results := make([]core.PutResult, len(batch))
	if len(batch) == 0 {
		return results, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, rec := range batch {
		results[i].Accession = rec.Accession

		row, err := newEntryRow(rec)
		if err != nil {
			results[i].Status = core.PutRejected
			results[i].Reason = err.Error()
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint for %s: %w", rec.Accession, err)
		}

		tag, err := tx.Exec(ctx, pgInsertEntry,
			rec.Accession,
			string(row.accessions),
			rec.Name,
			rec.Dataset,
			rec.Created,
			rec.Modified,
			rec.Version,
			rec.TaxID,
			string(row.organism),
			nullString(rec.ProteinName),
			nullString(rec.GeneName),
			row.digest,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return nil, fmt.Errorf("insert %s: %w", rec.Accession, err)
			}
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint for %s: %w", rec.Accession, rbErr)
			}
			results[i].Status = core.PutRejected
			results[i].Reason = fmt.Sprintf("db error: %s (%s)", pgErr.Message, pgErr.Code)
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("release savepoint for %s: %w", rec.Accession, err)
		}

		if tag.RowsAffected() == 0 {
			results[i].Status = core.PutDuplicate
		} else {
			results[i].Status = core.PutInserted
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return results, nil
}

// RecordRelease stores a release with the import window that loaded it.
// Re-importing the same release updates the timestamps.
func (p *Postgres) RecordRelease(ctx context.Context, rel core.Release, startedAt, completedAt time.Time) error {
	var date any
	if !rel.Date.IsZero() {
		date = rel.Date
	}
	if _, err := p.pool.Exec(ctx, pgUpsertVersion, rel.Knowledgebase, rel.Name, date, startedAt, completedAt); err != nil {
		return fmt.Errorf("record release %s %s: %w", rel.Knowledgebase, rel.Name, err)
	}
	return nil
}

// RecordRun stores the summary of a finished import.
func (p *Postgres) RecordRun(ctx context.Context, run core.RunSummary) error {
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, pgInsertRun,
		run.ID,
		run.Source,
		string(row.taxids),
		run.StartedAt,
		run.CompletedAt,
		string(row.stats),
		nullString(run.Stats.FirstErrorMessage()),
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Postgres) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+EntryTable).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	rows, err := p.pool.Query(ctx, pgRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunSummary
	for rows.Next() {
		var (
			run           core.RunSummary
			taxids, stats []byte
			runErr        *string
		)
		if err := rows.Scan(&run.ID, &run.Source, &taxids, &run.StartedAt, &run.CompletedAt, &stats, &runErr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if runErr != nil {
			run.Error = *runErr
		}
		if err := decodeRun(&run, taxids, stats); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
