package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/kbimport/internal/logging"
)

// DefaultRetention is how long a finished import stays queryable.
const DefaultRetention = 30 * time.Minute

// Stream is an opened input ready for Import.
type Stream struct {
	// Name identifies the input in logs and run records (URL or path).
	Name string
	Body io.ReadCloser

	// Optional progress totals; zero means unknown.
	TotalLines int64
	TotalBytes int64

	// Releases found next to the input, recorded after a successful import.
	Releases []Release
}

// StreamOpener resolves and opens the input of one import.
type StreamOpener func(ctx context.Context) (*Stream, error)

// Store is a Sink that also keeps import bookkeeping.
type Store interface {
	Sink
	RecordRelease(ctx context.Context, rel Release, startedAt, completedAt time.Time) error
	RecordRun(ctx context.Context, run RunSummary) error
}

// ImportRequest describes one import to run.
type ImportRequest struct {
	Source     string
	Open       StreamOpener
	Filter     FilterSet
	BatchSize  int
	SkipBudget int
	QueueDepth int
}

// ImportResult is the final state of an import.
type ImportResult struct {
	ImportID    string      `json:"import_id"`
	Source      string      `json:"source"`
	TaxIDs      []int       `json:"taxids,omitempty"`
	Stats       ImportStats `json:"stats"`
	FirstError  string      `json:"first_error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Error       string      `json:"error,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
}

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	MaxConcurrent int
	MaxWait       time.Duration
	// Timeout bounds one import; zero disables it.
	Timeout   time.Duration
	Retention time.Duration
}

// Service runs imports against a store, either in the foreground (RunImport)
// or in the background with progress subscriptions (StartImport).
type Service struct {
	store     Store
	limiter   *ImportLimiter
	timeout   time.Duration
	retention time.Duration

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID     string
	Cancel context.CancelFunc
	Done   chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *ImportResult
	listeners []chan ImportProgress
}

// NewService creates a Service writing to store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Service{
		store:     store,
		limiter:   NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		timeout:   cfg.Timeout,
		retention: cfg.Retention,
		imports:   make(map[string]*activeImport),
	}
}

// StartImport begins an asynchronous import and returns its id immediately.
// Use SubscribeProgress to follow it.
//
// Returns ErrTooManyImports if the concurrency limit is reached and no slot
// frees up in time.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if req.Open == nil {
		return "", errors.New("import request has no source")
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	id := uuid.New().String()
	importCtx, cancel := s.importContext(context.Background())

	imp := &activeImport{
		ID:       id,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{ImportID: id, Source: req.Source, Phase: PhaseStarting},
	}

	s.mu.Lock()
	s.imports[id] = imp
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import", "import_id", id, "source", req.Source, "panic", r)
				imp.finish(&ImportResult{
					ImportID: id,
					Source:   req.Source,
					Error:    fmt.Sprintf("internal error: %v", r),
				}, PhaseFailed)
				s.cleanup(id, s.retention)
			}
		}()

		_, _ = s.run(importCtx, imp, req)
		s.cleanup(id, s.retention)
	}()

	return id, nil
}

// RunImport runs an import in the calling goroutine. onProgress may be nil.
func (s *Service) RunImport(ctx context.Context, req ImportRequest, onProgress ProgressCallback) (*ImportResult, error) {
	if req.Open == nil {
		return nil, errors.New("import request has no source")
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	id := uuid.New().String()
	ctx, cancel := s.importContext(ctx)
	defer cancel()

	imp := &activeImport{
		ID:       id,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{ImportID: id, Source: req.Source, Phase: PhaseStarting},
	}
	drained := make(chan struct{})
	if onProgress != nil {
		ch := imp.subscribe()
		go func() {
			defer close(drained)
			for p := range ch {
				onProgress(p)
			}
		}()
	} else {
		close(drained)
	}

	result, err := s.run(ctx, imp, req)
	<-drained
	return result, err
}

func (s *Service) importContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// run executes one import and records its outcome in the store.
func (s *Service) run(ctx context.Context, imp *activeImport, req ImportRequest) (*ImportResult, error) {
	ctx = logging.ContextWithImportID(ctx, imp.ID)
	logger := logging.WithFields(ctx, "source", req.Source, "taxids", req.Filter.String())

	result := &ImportResult{
		ImportID:  imp.ID,
		Source:    req.Source,
		TaxIDs:    req.Filter.IDs(),
		StartedAt: time.Now().UTC(),
	}

	imp.setPhase(PhaseResolving)
	stream, err := req.Open(ctx)
	if err != nil {
		return s.complete(ctx, imp, result, cancellation(ctx, fmt.Errorf("open source: %w", err)), logger)
	}
	defer stream.Body.Close()

	if stream.Name != "" {
		result.Source = stream.Name
	}
	imp.update(func(p *ImportProgress) {
		p.Phase = PhaseImporting
		p.Source = result.Source
		p.TotalLines = stream.TotalLines
		p.BytesTotal = stream.TotalBytes
	})

	logger.Info("import started",
		"batch_size", req.BatchSize,
		"skip_budget", req.SkipBudget,
		"total_lines", stream.TotalLines,
	)

	stats, err := Import(ctx, stream.Body, s.store, Options{
		BatchSize:  req.BatchSize,
		SkipBudget: req.SkipBudget,
		Filter:     req.Filter,
		TotalLines: stream.TotalLines,
		TotalBytes: stream.TotalBytes,
		QueueDepth: req.QueueDepth,
		Logger:     logger,
		OnProgress: func(p ImportProgress) {
			imp.update(func(cur *ImportProgress) {
				p.ImportID = cur.ImportID
				p.Source = cur.Source
				*cur = p
			})
		},
	})
	result.Stats = stats
	result.FirstError = stats.FirstErrorMessage()

	if err == nil {
		completed := time.Now().UTC()
		for _, rel := range stream.Releases {
			if rerr := s.store.RecordRelease(ctx, rel, result.StartedAt, completed); rerr != nil {
				logger.Warn("failed to record release", "release", rel.Name, "error", rerr)
			}
		}
	}

	return s.complete(ctx, imp, result, err, logger)
}

// complete stamps the result, stores the run record and notifies listeners.
func (s *Service) complete(ctx context.Context, imp *activeImport, result *ImportResult, err error, logger *slog.Logger) (*ImportResult, error) {
	result.CompletedAt = time.Now().UTC()

	phase := PhaseComplete
	if err != nil {
		phase = PhaseFailed
		if errors.Is(err, ErrCancelled) {
			phase = PhaseCancelled
		}
		result.Error = err.Error()
		result.ErrorCode = MapError(err).Code
	}

	// The run is recorded even when ctx was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := s.store.RecordRun(recordCtx, RunSummary{
		ID:          result.ImportID,
		Source:      result.Source,
		TaxIDs:      result.TaxIDs,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		Stats:       result.Stats,
		Error:       result.Error,
	}); rerr != nil {
		logger.Warn("failed to record import run", "error", rerr)
	}

	st := result.Stats
	attrs := []any{
		"phase", phase,
		"batches", st.Batches,
		"records", st.Records,
		"accepted", st.Accepted,
		"inserted", st.Inserted,
		"duplicates", st.Duplicates,
		"rejected", st.Rejected,
		"filtered_out", st.FilteredOut,
		"batches_skipped", st.BatchesSkipped,
		"duration", st.Duration,
	}
	if err != nil {
		logger.Error("import finished with error", append(attrs, "error", err, "code", result.ErrorCode)...)
	} else {
		logger.Info("import complete", attrs...)
	}

	imp.finish(result, phase)
	return result, err
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the import finishes.
func (s *Service) SubscribeProgress(id string) (<-chan ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return imp.subscribe(), nil
}

// CancelImport cancels a running import.
func (s *Service) CancelImport(id string) error {
	imp, err := s.lookup(id)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// GetImportResult waits for the import to finish and returns its result.
func (s *Service) GetImportResult(ctx context.Context, id string) (*ImportResult, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, nil
}

// FinishedResult returns the result of an import without blocking.
// The result is nil while the import is still running.
func (s *Service) FinishedResult(id string) (*ImportResult, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, nil
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(id string) (ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return ImportProgress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// ListImports returns the progress of every known import.
func (s *Service) ListImports() []ImportProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ImportProgress, 0, len(s.imports))
	for _, imp := range s.imports {
		imp.mu.Lock()
		out = append(out, imp.progress)
		imp.mu.Unlock()
	}
	return out
}

// LimiterStatus reports the import slots in use.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running import finishes or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every running import.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, imp := range s.imports {
		imp.Cancel()
	}
}

func (s *Service) lookup(id string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return imp, nil
}

// cleanup forgets an import after delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, id)
		s.mu.Unlock()
	})
}

func (imp *activeImport) subscribe() chan ImportProgress {
	ch := make(chan ImportProgress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	// Send current progress immediately
	ch <- imp.progress
	if imp.result != nil {
		close(ch)
		return ch
	}
	imp.listeners = append(imp.listeners, ch)
	return ch
}

func (imp *activeImport) setPhase(phase ImportPhase) {
	imp.update(func(p *ImportProgress) { p.Phase = phase })
}

// update mutates progress and fans it out. Slow listeners miss updates
// rather than stall the import.
func (imp *activeImport) update(fn func(*ImportProgress)) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	fn(&imp.progress)
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.progress:
		default:
		}
	}
}

// sendLatest delivers p, evicting the oldest buffered update if ch is full.
// Callers must be the only sender on ch.
func sendLatest(ch chan ImportProgress, p ImportProgress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

func (imp *activeImport) finish(result *ImportResult, phase ImportPhase) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	if imp.result != nil {
		return
	}
	imp.result = result
	imp.progress.Phase = phase
	imp.progress.Error = result.Error

	for _, ch := range imp.listeners {
		sendLatest(ch, imp.progress)
		close(ch)
	}
	imp.listeners = nil
	close(imp.Done)
}
