// Package core imports large knowledge-base XML dumps in bounded memory.
//
// This package holds the domain logic independent of storage, transport and
// CLI. It can be driven by the HTTP API, the command line or tests without
// modification.
//
// # Pipeline
//
// [Import] reads a gzip-compressed (or plain) document and runs three stages:
//
//  1. A [Scanner] finds record boundaries line by line and an [Accumulator]
//     groups whole records into [Batch] documents of Options.BatchSize entries.
//  2. An [EntryParser] decodes each batch into [Record] values and [Transform]
//     applies the taxonomy [FilterSet].
//  3. Accepted records go to a [Sink] in stream order.
//
// Only a few batches are alive at any time, whatever the size of the input.
//
// # Errors
//
// A [StreamError] or [SinkError] aborts the import. A [MalformedBatchError]
// or [FieldConversionError] is charged to the skip budget; the import aborts
// with [ErrSkipBudgetExceeded] once the budget is spent. Records outside the
// filter are counted, not reported as errors. Cancellation returns an error
// matching [ErrCancelled].
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError].
//
// # Service
//
// [Service] wraps Import with run bookkeeping, background execution,
// progress subscriptions and a concurrency limit.
package core
