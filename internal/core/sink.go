package core

import (
	"context"
	"sync"
)

// PutStatus is the per-record result reported by a Sink.
type PutStatus int

const (
	PutInserted PutStatus = iota
	PutDuplicate
	PutRejected
)

func (s PutStatus) String() string {
	switch s {
	case PutInserted:
		return "inserted"
	case PutDuplicate:
		return "duplicate"
	case PutRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PutResult describes what happened to one record handed to a Sink.
type PutResult struct {
	Accession string
	Status    PutStatus
	Reason    string
}

// Sink persists accepted records. Put receives batches in stream order and
// returns one result per record. A non-nil error is fatal to the import;
// per-record refusals belong in the results.
type Sink interface {
	Put(ctx context.Context, batch []Record) ([]PutResult, error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch []Record) ([]PutResult, error)

// Put calls f.
func (f SinkFunc) Put(ctx context.Context, batch []Record) ([]PutResult, error) {
	return f(ctx, batch)
}

// MemorySink keeps records in memory keyed by accession. It rejects
// accessions it has already stored, which makes re-imports idempotent.
type MemorySink struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
	batches [][]string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]Record)}
}

// Put implements Sink.
func (s *MemorySink) Put(ctx context.Context, batch []Record) ([]PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]PutResult, len(batch))
	accessions := make([]string, 0, len(batch))
	for i, rec := range batch {
		results[i].Accession = rec.Accession
		if rec.Accession == "" {
			results[i].Status = PutRejected
			results[i].Reason = "empty accession"
			continue
		}
		if _, ok := s.records[rec.Accession]; ok {
			results[i].Status = PutDuplicate
			continue
		}
		s.records[rec.Accession] = rec
		s.order = append(s.order, rec.Accession)
		accessions = append(accessions, rec.Accession)
		results[i].Status = PutInserted
	}
	s.batches = append(s.batches, accessions)
	return results, nil
}

// Len returns the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns the record stored under accession.
func (s *MemorySink) Get(accession string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[accession]
	return rec, ok
}

// Accessions returns stored accessions in insertion order.
func (s *MemorySink) Accessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// PutCalls returns the number of Put calls received.
func (s *MemorySink) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
