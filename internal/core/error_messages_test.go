package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"stream error", &StreamError{Line: 12, Err: errors.New("unexpected EOF")}, "STR001"},
		{"malformed batch", &MalformedBatchError{Batch: 3, Err: errors.New("syntax error")}, "BAT001"},
		{"date conversion", &FieldConversionError{Field: "created", Err: errors.New("bad")}, "FLD001"},
		{"taxonomy", &FieldConversionError{Field: "taxid", Err: errNoTaxonomy}, "FLD002"},
		{"accession", &FieldConversionError{Field: "accession", Err: errMissingValue}, "FLD003"},
		{"cancelled", fmt.Errorf("%w: %w", ErrCancelled, context.Canceled), "IMP001"},
		{"busy", ErrTooManyImports, "IMP002"},
		{"not found", fmt.Errorf("get: %w", ErrImportNotFound), "IMP003"},
		{
			"skip budget wins over cause",
			fmt.Errorf("%w (budget 0): %w", ErrSkipBudgetExceeded, &FieldConversionError{Field: "taxid", Err: errNoTaxonomy}),
			"IMP004",
		},
		{"sink", &SinkError{Batch: 1, Err: errors.New("connection refused")}, "SNK001"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB001"},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB005"},
		{"download", errors.New("download failed: 404 Not Found"), "SRC002"},
		{"unknown error", errors.New("something weird happened"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() returned empty message")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrTooManyImports)
	if !strings.Contains(got, "(Code: IMP002)") {
		t.Errorf("FormatUserError() = %q, want code IMP002", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(&StreamError{Err: errors.New("x")}) {
		t.Error("IsUserFacing(StreamError) = false")
	}
	if IsUserFacing(errors.New("mystery")) {
		t.Error("IsUserFacing(unknown) = true")
	}
}
