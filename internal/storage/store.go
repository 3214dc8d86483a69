// Package storage persists imported entries, releases and import runs.
//
// Two drivers are available: a pooled PostgreSQL store and an embedded SQLite
// store. Both implement core.Store and treat a second insert of an accession
// as a duplicate rather than an error, so re-running an import is harmless.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
)

// Store is a core.Store backed by a database.
type Store interface {
	core.Store

	// Driver names the backing database (postgres or sqlite).
	Driver() string

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// CountEntries returns the number of stored entries.
	CountEntries(ctx context.Context) (int64, error)

	// RecentRuns returns up to limit import runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]core.RunSummary, error)

	Close() error
}

// OpenFunc opens a store for one driver.
type OpenFunc func(ctx context.Context, cfg config.DatabaseConfig) (Store, error)

var (
	drivers   = make(map[string]OpenFunc)
	driversMu sync.RWMutex
)

// Register adds a driver to the registry.
// Panics if a driver with the same name is already registered.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("storage driver already registered: %s", name))
	}
	drivers[name] = open
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the store selected by cfg.Driver and makes sure its schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (available: %v)", cfg.Driver, Drivers())
	}
	return open(ctx, cfg)
}

func init() {
	Register(config.DriverPostgres, openPostgres)
	Register(config.DriverSQLite, openSQLite)
}

// entryRow holds the column values shared by both drivers.
type entryRow struct {
	accessions []byte
	organism   []byte
	digest     int64
}

func newEntryRow(rec core.Record) (entryRow, error) {
	accessions, err := json.Marshal(rec.Accessions)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode accessions of %s: %w", rec.Accession, err)
	}
	organism, err := json.Marshal(rec.Organism)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode organism of %s: %w", rec.Accession, err)
	}
	return entryRow{
		accessions: accessions,
		organism:   organism,
		// Stored as the signed reinterpretation of the 64-bit hash.
		digest: int64(rec.Digest),
	}, nil
}

// runRow holds the encoded columns of an import run.
type runRow struct {
	taxids []byte
	stats  []byte
}

func newRunRow(run core.RunSummary) (runRow, error) {
	taxids := run.TaxIDs
	if taxids == nil {
		taxids = []int{}
	}
	t, err := json.Marshal(taxids)
	if err != nil {
		return runRow{}, fmt.Errorf("encode taxids: %w", err)
	}
	s, err := json.Marshal(run.Stats)
	if err != nil {
		return runRow{}, fmt.Errorf("encode stats: %w", err)
	}
	return runRow{taxids: t, stats: s}, nil
}

func decodeRun(run *core.RunSummary, taxids, stats []byte) error {
	if len(taxids) > 0 {
		if err := json.Unmarshal(taxids, &run.TaxIDs); err != nil {
			return fmt.Errorf("decode taxids of run %s: %w", run.ID, err)
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return fmt.Errorf("decode stats of run %s: %w", run.ID, err)
		}
	}
	return nil
}
