package core

// streaming.go provides the readers that sit between the input stream and
// the boundary scanner:
//
//   - CountingReader: tracks compressed bytes read for progress reporting
//   - contextReader: fails reads once the import context is done
//   - decompress: transparent gzip decoding (plain XML passes through)
//   - BOMSkippingReader: removes a UTF-8 BOM so the first line classifies
//
// Use WrapForStreaming to apply all of them in the correct order.

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"sync/atomic"
)

var gzipMagic = []byte{0x1f, 0x8b}

// CountingReader wraps an io.Reader to track bytes read. BytesRead may be
// called from any goroutine.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead() * 100 / r.Total)
}

// contextReader stops reading once ctx is done so a blocked pipeline stage
// notices cancellation at the next read.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}

// decompress returns a reader over the decompressed document. Gzip input is
// detected by its magic number; anything else is read as-is.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) < len(gzipMagic) || magic[0] != gzipMagic[0] || magic[1] != gzipMagic[1] {
		return br, nil
	}
	// Concatenated gzip members are read as one stream, as zcat does.
	return gzip.NewReader(br)
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	reader  *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.reader.Peek(3)
		if err != nil && err != io.EOF {
			return 0, err
		}
		if len(head) == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
			if _, err := r.reader.Discard(3); err != nil {
				return 0, err
			}
		}
	}
	return r.reader.Read(p)
}

// WrapForStreaming wraps a compressed input stream for the scanner.
//
// The order matters:
//  1. The context check wraps the raw source so blocked reads stop early
//  2. Counting sees compressed bytes, matching the on-disk size
//  3. Decompression happens next
//  4. The BOM is stripped from the decompressed text
func WrapForStreaming(ctx context.Context, r io.Reader, totalBytes int64) (io.Reader, *CountingReader, error) {
	counter := NewCountingReader(contextReader{ctx: ctx, reader: r}, totalBytes)
	plain, err := decompress(counter)
	if err != nil {
		return nil, counter, &StreamError{Err: err}
	}
	return NewBOMSkippingReader(plain), counter, nil
}
