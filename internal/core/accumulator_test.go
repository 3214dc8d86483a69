package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchesOf runs scanner and accumulator over doc.
func batchesOf(t *testing.T, doc string, size int) ([]Batch, *Accumulator) {
	t.Helper()
	s := NewScanner(strings.NewReader(doc))
	acc := NewAccumulator(size)

	var out []Batch
	for {
		line, err := s.Next()
		if errors.Is(err, io.EOF) {
			if b, ok := acc.Flush(); ok {
				out = append(out, b)
			}
			return out, acc
		}
		require.NoError(t, err)
		if b, ok := acc.Feed(line); ok {
			out = append(out, b)
		}
	}
}

func TestAccumulator_BatchShape(t *testing.T) {
	tests := []struct {
		name    string
		records int
		size    int
		want    []int
	}{
		{"25 records of 10", 25, 10, []int{10, 10, 5}},
		{"exact multiple", 20, 10, []int{10, 10}},
		{"single partial", 3, 10, []int{3}},
		{"batch of one", 3, 1, []int{1, 1, 1}},
		{"empty stream", 0, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, _ := batchesOf(t, document(humanEntries(tt.records)...), tt.size)

			var got []int
			for i, b := range batches {
				got = append(got, b.Records)
				assert.Equal(t, i, b.Index, "batches are emitted in stream order")
				assert.True(t, bytes.HasPrefix(b.Text, []byte("<entries>\n")))
				assert.True(t, bytes.HasSuffix(b.Text, []byte("</entries>\n")))
				assert.Equal(t, b.Records, bytes.Count(b.Text, []byte("</entry>")))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccumulator_PreservesOrder(t *testing.T) {
	batches, _ := batchesOf(t, document(humanEntries(12)...), 5)
	require.Len(t, batches, 3)

	assert.Contains(t, string(batches[0].Text), "<accession>P00001</accession>")
	assert.Contains(t, string(batches[1].Text), "<accession>P00006</accession>")
	assert.Contains(t, string(batches[2].Text), "<accession>P00012</accession>")
}

func TestAccumulator_DefaultSize(t *testing.T) {
	acc := NewAccumulator(0)
	assert.Equal(t, DefaultBatchSize, acc.size)
}

func TestAccumulator_PeakIndependentOfStreamSize(t *testing.T) {
	var peaks []int
	for _, n := range []int{100, 1000, 10000} {
		_, acc := batchesOf(t, document(humanEntries(n)...), 10)
		peaks = append(peaks, acc.PeakBytes())
	}

	require.Positive(t, peaks[0])
	assert.Equal(t, peaks[0], peaks[1])
	assert.Equal(t, peaks[0], peaks[2])
}

func TestAccumulator_DoesNotRepairFragments(t *testing.T) {
	acc := NewAccumulator(10)
	acc.Feed(Line{Text: []byte("<entry>\n"), Number: 1, Kind: LineRecordStart})
	acc.Feed(Line{Text: []byte("<accession>P1\n"), Number: 2, Kind: LineRecordBody})
	acc.Feed(Line{Text: []byte("</entry>\n"), Number: 3, Kind: LineRecordEnd})

	b, ok := acc.Flush()
	require.True(t, ok)
	assert.Equal(t, 1, b.Records)
	assert.Equal(t, int64(1), b.FirstLine)
	assert.Contains(t, string(b.Text), "<accession>P1\n</entry>")

	_, err := NewEntryParser().Parse(b)
	var malformed *MalformedBatchError
	assert.ErrorAs(t, err, &malformed)
}
