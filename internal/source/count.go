package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/kbimport/internal/core"
)

const countBufferSize = 256 * 1024

// CountLines returns the number of decompressed lines in the dump at path.
// A final line without a newline counts as a line.
func CountLines(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, _, err := core.WrapForStreaming(ctx, f, 0)
	if err != nil {
		return 0, err
	}
	return countLines(r)
}

func countLines(r io.Reader) (int64, error) {
	buf := make([]byte, countBufferSize)
	var (
		lines int64
		last  byte = '\n'
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, fmt.Errorf("count lines: %w", err)
		}
	}
	if last != '\n' {
		lines++
	}
	return lines, nil
}
