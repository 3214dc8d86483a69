package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ContextCheckInterval is how often, in record lines, the scan stage checks
// for cancellation between reads. A non-positive value disables the check;
// blocking reads still observe cancellation through the context reader.
var ContextCheckInterval = 100

// Options configures a single import run.
type Options struct {
	// BatchSize is the number of records per parse batch (default 10).
	BatchSize int

	// SkipBudget is how many malformed batches plus rejected records may be
	// skipped before the import aborts. Zero fails on the first one.
	SkipBudget int

	// Filter restricts accepted records to a set of taxonomy ids.
	Filter FilterSet

	// TotalLines and TotalBytes are optional progress totals. Either may be
	// zero; progress is then indeterminate for that measure.
	TotalLines int64
	TotalBytes int64

	// QueueDepth is the number of batches buffered between stages (default 2).
	QueueDepth int

	// OnProgress is called from the sink stage after every batch.
	OnProgress ProgressCallback

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.SkipBudget < 0 {
		o.SkipBudget = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// parsedBatch is what the parse stage hands to the sink stage.
type parsedBatch struct {
	index       int
	firstLine   int64
	records     int
	accepted    []Record
	rejected    []error
	filteredOut int
	malformed   error
}

// Import streams a (optionally gzip-compressed) document into sink.
//
// Three stages run concurrently: scanning and batching, parsing and
// filtering, and the sink. Stages are joined by channels of QueueDepth
// batches, so memory stays bounded by a few batches regardless of input
// size, and each stage is a single goroutine so batches reach the sink in
// stream order.
//
// The returned stats are valid even when err is non-nil. A cancelled ctx
// yields an error matching both ErrCancelled and the context's cause.
func Import(ctx context.Context, stream io.Reader, sink Sink, opts Options) (ImportStats, error) {
	opts = opts.withDefaults()
	start := time.Now()
	var stats ImportStats

	if sink == nil {
		return stats, errors.New("import: nil sink")
	}

	src, counter, err := WrapForStreaming(ctx, stream, opts.TotalBytes)
	if err != nil {
		err = cancellation(ctx, err)
		stats.FirstError = err
		stats.Duration = time.Since(start)
		return stats, err
	}

	scanner := NewScanner(src)
	acc := NewAccumulator(opts.BatchSize)
	parser := NewEntryParser()

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan Batch, opts.QueueDepth)
	parsed := make(chan parsedBatch, opts.QueueDepth)

	g.Go(func() error {
		defer close(batches)
		return scanBatches(gctx, scanner, acc, batches)
	})

	g.Go(func() error {
		defer close(parsed)
		return parseBatches(gctx, parser, opts.Filter, batches, parsed)
	})

	g.Go(func() error {
		c := &sinkStage{
			sink:    sink,
			opts:    opts,
			stats:   &stats,
			scanner: scanner,
			counter: counter,
		}
		return c.run(gctx, parsed)
	})

	err = g.Wait()

	stats.Lines = scanner.LinesRead()
	stats.PeakBatchBytes = acc.PeakBytes()
	stats.Duration = time.Since(start)

	err = cancellation(ctx, err)
	if err != nil && stats.FirstError == nil {
		stats.FirstError = err
	}
	return stats, err
}

// cancellation replaces err with a cancellation error when ctx is done, since
// stage errors after a cancel are only echoes of it.
func cancellation(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

// scanBatches runs the scanner and accumulator, sending completed batches.
func scanBatches(ctx context.Context, scanner *Scanner, acc *Accumulator, out chan<- Batch) error {
	send := func(b Batch) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		line, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			if b, ok := acc.Flush(); ok {
				return send(b)
			}
			return nil
		}
		if err != nil {
			return err
		}

		if ContextCheckInterval > 0 && line.Number%int64(ContextCheckInterval) == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if b, ok := acc.Feed(line); ok {
			if err := send(b); err != nil {
				return err
			}
		}
	}
}

// parseBatches converts and filters each batch. Failures are attached to the
// batch so the sink stage can apply the skip budget in stream order.
func parseBatches(ctx context.Context, parser *EntryParser, filter FilterSet, in <-chan Batch, out chan<- parsedBatch) error {
	for b := range in {
		pb := parsedBatch{index: b.Index, firstLine: b.FirstLine, records: b.Records}

		convs, err := parser.Parse(b)
		if err != nil {
			pb.malformed = err
		} else {
			pb.records = len(convs)
			for _, c := range convs {
				if c.Err != nil {
					pb.rejected = append(pb.rejected, c.Err)
					continue
				}
				rec, outcome, err := Transform(c.Record, filter)
				switch outcome {
				case OutcomeAccepted:
					pb.accepted = append(pb.accepted, rec)
				case OutcomeFilteredOut:
					pb.filteredOut++
				default:
					pb.rejected = append(pb.rejected, err)
				}
			}
		}

		select {
		case out <- pb:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// sinkStage owns the stats while the pipeline runs.
type sinkStage struct {
	sink    Sink
	opts    Options
	stats   *ImportStats
	scanner *Scanner
	counter *CountingReader
	skipped int
}

func (c *sinkStage) run(ctx context.Context, in <-chan parsedBatch) error {
	for pb := range in {
		if err := c.handle(ctx, pb); err != nil {
			return err
		}
		c.report()
	}
	return nil
}

func (c *sinkStage) handle(ctx context.Context, pb parsedBatch) error {
	stats := c.stats
	stats.Batches++
	stats.Records += pb.records

	if pb.malformed != nil {
		stats.BatchesSkipped++
		c.opts.Logger.Warn("skipping malformed batch",
			"batch", pb.index,
			"first_line", pb.firstLine,
			"records", pb.records,
			"error", pb.malformed,
		)
		return c.skip(pb.malformed)
	}

	for _, rerr := range pb.rejected {
		stats.Rejected++
		c.opts.Logger.Warn("rejecting entry", "batch", pb.index, "error", rerr)
		if err := c.skip(rerr); err != nil {
			return err
		}
	}
	stats.FilteredOut += pb.filteredOut
	stats.Accepted += len(pb.accepted)

	if len(pb.accepted) == 0 {
		return nil
	}

	results, err := c.sink.Put(ctx, pb.accepted)
	if err != nil {
		return &SinkError{Batch: pb.index, Err: err}
	}
	if len(results) != len(pb.accepted) {
		return &SinkError{
			Batch: pb.index,
			Err:   fmt.Errorf("sink returned %d results for %d records", len(results), len(pb.accepted)),
		}
	}

	for _, r := range results {
		switch r.Status {
		case PutInserted:
			stats.Inserted++
		case PutDuplicate:
			stats.Duplicates++
		default:
			stats.SinkRejected++
			c.opts.Logger.Debug("sink rejected entry", "accession", r.Accession, "reason", r.Reason)
		}
	}

	c.opts.Logger.Debug("batch stored",
		"batch", pb.index,
		"accepted", len(pb.accepted),
		"filtered_out", pb.filteredOut,
		"rejected", len(pb.rejected),
	)
	return nil
}

// skip charges one unit of the skip budget for err.
func (c *sinkStage) skip(err error) error {
	if c.stats.FirstError == nil {
		c.stats.FirstError = err
	}
	if !IsSkippable(err) {
		return err
	}
	c.skipped++
	if c.skipped > c.opts.SkipBudget {
		return fmt.Errorf("%w (budget %d): %w", ErrSkipBudgetExceeded, c.opts.SkipBudget, err)
	}
	return nil
}

func (c *sinkStage) report() {
	if c.opts.OnProgress == nil {
		return
	}
	s := c.stats
	c.opts.OnProgress(ImportProgress{
		Phase:       PhaseImporting,
		LinesRead:   c.scanner.LinesRead(),
		TotalLines:  c.opts.TotalLines,
		Batches:     s.Batches,
		Records:     s.Records,
		Accepted:    s.Accepted,
		Rejected:    s.Rejected,
		FilteredOut: s.FilteredOut,
		Inserted:    s.Inserted,
		BytesRead:   c.counter.BytesRead(),
		BytesTotal:  c.counter.Total,
	})
}
