package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("<?xml version=\"1.0\"?>")...),
			expected: "<?xml version=\"1.0\"?>",
		},
		{
			name:     "file without BOM",
			input:    []byte("<uniprot>"),
			expected: "<uniprot>",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	data := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(data), 1000)

	buf := make([]byte, 250)
	if _, err := reader.Read(buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reader.BytesRead(); got != 250 {
		t.Errorf("BytesRead = %d, want 250", got)
	}
	if got := reader.Progress(); got != 25 {
		t.Errorf("Progress = %d, want 25", got)
	}

	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reader.Progress(); got != 100 {
		t.Errorf("Progress = %d, want 100", got)
	}
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	reader := NewCountingReader(strings.NewReader("abc"), 0)
	_, _ = io.ReadAll(reader)
	if got := reader.Progress(); got != 0 {
		t.Errorf("Progress = %d, want 0 for unknown total", got)
	}
}

func TestWrapForStreaming(t *testing.T) {
	doc := "\xEF\xBB\xBF" + document(humanEntries(2)...)

	tests := []struct {
		name  string
		input func(t *testing.T) io.Reader
	}{
		{"gzip", func(t *testing.T) io.Reader { return gzipped(t, doc) }},
		{"plain", func(t *testing.T) io.Reader { return strings.NewReader(doc) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, counter, err := WrapForStreaming(context.Background(), tt.input(t), 0)
			if err != nil {
				t.Fatalf("WrapForStreaming() error = %v", err)
			}
			out, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(out) != strings.TrimPrefix(doc, "\xEF\xBB\xBF") {
				t.Error("decompressed text differs from the document")
			}
			if counter.BytesRead() == 0 {
				t.Error("counter saw no bytes")
			}
		})
	}
}

func TestWrapForStreaming_BadGzipHeader(t *testing.T) {
	// Magic number followed by garbage.
	_, _, err := WrapForStreaming(context.Background(), bytes.NewReader([]byte{0x1f, 0x8b, 0, 0}), 0)

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
}

func TestContextReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := contextReader{ctx: ctx, reader: strings.NewReader("data")}

	buf := make([]byte, 2)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("unexpected error before cancel: %v", err)
	}

	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
