package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks an import stopped by its context.
	ErrCancelled = errors.New("import cancelled")

	// ErrSkipBudgetExceeded is returned when more batches or records failed
	// than the configured skip budget allows.
	ErrSkipBudgetExceeded = errors.New("skip budget exceeded")

	// ErrImportNotFound is returned when an import id is unknown to the service.
	ErrImportNotFound = errors.New("import not found")
)

// StreamError reports a failure reading or decompressing the input stream.
// It always aborts the import.
type StreamError struct {
	Line int64
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error after line %d: %v", e.Line, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// MalformedBatchError reports a batch document the XML parser rejected.
type MalformedBatchError struct {
	Batch     int
	FirstLine int64
	Err       error
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("malformed batch %d (from line %d): %v", e.Batch, e.FirstLine, e.Err)
}

func (e *MalformedBatchError) Unwrap() error { return e.Err }

// FieldConversionError reports a record whose field could not be converted.
type FieldConversionError struct {
	Accession string
	Field     string
	Value     string
	Err       error
}

func (e *FieldConversionError) Error() string {
	acc := e.Accession
	if acc == "" {
		acc = "<unknown>"
	}
	if e.Value != "" {
		return fmt.Sprintf("entry %s: field %s (%q): %v", acc, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("entry %s: field %s: %v", acc, e.Field, e.Err)
}

func (e *FieldConversionError) Unwrap() error { return e.Err }

// SinkError reports a fatal failure of the storage sink.
type SinkError struct {
	Batch int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failed on batch %d: %v", e.Batch, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsSkippable reports whether err may be absorbed by the skip budget.
func IsSkippable(err error) bool {
	var mb *MalformedBatchError
	var fc *FieldConversionError
	return errors.As(err, &mb) || errors.As(err, &fc)
}
