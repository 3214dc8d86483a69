package core

import (
	"time"
)

// DefaultBatchSize is the number of entries grouped into one parse batch.
const DefaultBatchSize = 10

// DefaultQueueDepth is the number of batches buffered between pipeline stages.
const DefaultQueueDepth = 2

// TaxonomyRefType is the dbReference type carrying the NCBI taxonomy id.
const TaxonomyRefType = "NCBI Taxonomy"

// DateLayout is the layout of the created and modified entry attributes.
const DateLayout = "2006-01-02"

// DBReference is a cross reference attached to an organism.
type DBReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Organism is the source organism of an entry.
type Organism struct {
	ScientificName string        `json:"scientific_name,omitempty"`
	CommonName     string        `json:"common_name,omitempty"`
	DBReferences   []DBReference `json:"db_references,omitempty"`
}

// Record is one converted knowledge-base entry.
type Record struct {
	Accession   string    `json:"accession"`
	Accessions  []string  `json:"accessions"`
	Name        string    `json:"name"`
	Dataset     string    `json:"dataset"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Version     int       `json:"version"`
	Organism    Organism  `json:"organism"`
	ProteinName string    `json:"protein_name,omitempty"`
	GeneName    string    `json:"gene_name,omitempty"`

	// TaxID is set by Transform once the organism has been checked.
	TaxID int `json:"taxid"`

	// Digest is the xxhash64 of the raw entry text.
	Digest uint64 `json:"digest"`
}

// Batch is a self-contained document holding up to batch-size whole records
// wrapped in <entries>...</entries>.
type Batch struct {
	Index   int
	Text    []byte
	Records int
	// FirstLine is the 1-based stream line of the first record in the batch.
	FirstLine int64
}

// Bytes returns the size of the batch document.
func (b Batch) Bytes() int { return len(b.Text) }

// Outcome is the result of filtering one record.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeFilteredOut
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFilteredOut:
		return "filtered_out"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Release describes one knowledge-base release read from reldate.txt.
type Release struct {
	Knowledgebase string    `json:"knowledgebase"`
	Name          string    `json:"release_name"`
	Date          time.Time `json:"release_date"`
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseResolving ImportPhase = "resolving"
	PhaseCounting  ImportPhase = "counting"
	PhaseImporting ImportPhase = "importing"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import.
type ImportProgress struct {
	ImportID    string      `json:"import_id,omitempty"`
	Source      string      `json:"source,omitempty"`
	Phase       ImportPhase `json:"phase"`
	LinesRead   int64       `json:"lines_read"`
	TotalLines  int64       `json:"total_lines"`
	Batches     int         `json:"batches"`
	Records     int         `json:"records"`
	Accepted    int         `json:"accepted"`
	Rejected    int         `json:"rejected"`
	FilteredOut int         `json:"filtered_out"`
	Inserted    int         `json:"inserted"`
	Error       string      `json:"error,omitempty"`
	// Compressed byte progress, used when the line total is unknown.
	BytesRead  int64 `json:"bytes_read"`
	BytesTotal int64 `json:"bytes_total"`
}

// Indeterminate reports whether neither a line total nor a byte total is known.
func (p ImportProgress) Indeterminate() bool {
	return p.TotalLines <= 0 && p.BytesTotal <= 0
}

// Percent returns the progress as a percentage (0-100).
// Uses line-based progress if TotalLines is known, otherwise falls back to
// compressed bytes. Returns 0 when indeterminate.
func (p ImportProgress) Percent() int {
	var pct int
	switch {
	case p.TotalLines > 0:
		pct = int(p.LinesRead * 100 / p.TotalLines)
	case p.BytesTotal > 0:
		pct = int(p.BytesRead * 100 / p.BytesTotal)
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressCallback is called after every batch reaches the sink.
type ProgressCallback func(ImportProgress)

// ImportStats is the summary of one import run.
type ImportStats struct {
	Batches        int           `json:"batches"`
	BatchesSkipped int           `json:"batches_skipped"`
	Records        int           `json:"records"`
	Accepted       int           `json:"accepted"`
	Rejected       int           `json:"rejected"`
	FilteredOut    int           `json:"filtered_out"`
	Inserted       int           `json:"inserted"`
	Duplicates     int           `json:"duplicates"`
	SinkRejected   int           `json:"sink_rejected"`
	Lines          int64         `json:"lines"`
	PeakBatchBytes int           `json:"peak_batch_bytes"`
	Duration       time.Duration `json:"duration"`

	// FirstError is the first error met during the run, skipped or fatal.
	FirstError error `json:"-"`
}

// FirstErrorMessage returns FirstError as text, or "" if none occurred.
func (s ImportStats) FirstErrorMessage() string {
	if s.FirstError == nil {
		return ""
	}
	return s.FirstError.Error()
}

// RunSummary is what a store records about a finished import.
type RunSummary struct {
	ID          string
	Source      string
	TaxIDs      []int
	StartedAt   time.Time
	CompletedAt time.Time
	Stats       ImportStats
	Error       string
}
