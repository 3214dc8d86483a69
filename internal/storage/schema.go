package storage

// Table names.
const (
	EntryTable   = "uniprot_entry"
	VersionTable = "uniprot_version"
	RunTable     = "uniprot_import_run"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS uniprot_entry (
  accession    TEXT PRIMARY KEY,
  accessions   JSONB NOT NULL,
  name         TEXT NOT NULL,
  dataset      TEXT NOT NULL,
  created      DATE NOT NULL,
  modified     DATE NOT NULL,
  version      INTEGER NOT NULL,
  taxid        INTEGER NOT NULL,
  organism     JSONB NOT NULL,
  protein_name TEXT,
  gene_name    TEXT,
  digest       BIGINT NOT NULL,
  imported_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_uniprot_entry_taxid ON uniprot_entry(taxid);

CREATE TABLE IF NOT EXISTS uniprot_version (
  knowledgebase       TEXT NOT NULL,
  release_name        TEXT NOT NULL,
  release_date        DATE,
  import_started_at   TIMESTAMPTZ NOT NULL,
  import_completed_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (knowledgebase, release_name)
);

CREATE TABLE IF NOT EXISTS uniprot_import_run (
  id           UUID PRIMARY KEY,
  source       TEXT NOT NULL,
  taxids       JSONB NOT NULL,
  started_at   TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NOT NULL,
  stats        JSONB NOT NULL,
  first_error  TEXT,
  error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_uniprot_import_run_started ON uniprot_import_run(started_at DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS uniprot_entry (
  accession    TEXT PRIMARY KEY,
  accessions   TEXT NOT NULL,
  name         TEXT NOT NULL,
  dataset      TEXT NOT NULL,
  created      TEXT NOT NULL,
  modified     TEXT NOT NULL,
  version      INTEGER NOT NULL,
  taxid        INTEGER NOT NULL,
  organism     TEXT NOT NULL,
  protein_name TEXT,
  gene_name    TEXT,
  digest       INTEGER NOT NULL,
  imported_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_uniprot_entry_taxid ON uniprot_entry(taxid);

CREATE TABLE IF NOT EXISTS uniprot_version (
  knowledgebase       TEXT NOT NULL,
  release_name        TEXT NOT NULL,
  release_date        TEXT,
  import_started_at   TEXT NOT NULL,
  import_completed_at TEXT NOT NULL,
  PRIMARY KEY (knowledgebase, release_name)
);

CREATE TABLE IF NOT EXISTS uniprot_import_run (
  id           TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  taxids       TEXT NOT NULL,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  stats        TEXT NOT NULL,
  first_error  TEXT,
  error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_uniprot_import_run_started ON uniprot_import_run(started_at DESC);
`
