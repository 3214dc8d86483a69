package core

import (
	"bytes"
)

var (
	batchOpen  = []byte("<entries>\n")
	batchClose = []byte("</entries>\n")
)

// Accumulator groups record lines into batches of whole records.
//
// Only lines produced by a Scanner are fed in, so the buffer never holds more
// than one batch of records plus the wrapper. Fragments are not repaired; a
// broken record surfaces later as a MalformedBatchError.
type Accumulator struct {
	size      int
	buf       bytes.Buffer
	count     int
	index     int
	firstLine int64
	peak      int
}

// NewAccumulator creates an accumulator emitting batches of batchSize records.
// A non-positive size falls back to DefaultBatchSize.
func NewAccumulator(batchSize int) *Accumulator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Accumulator{size: batchSize}
}

// Feed appends a record line. When the line completes the batch-size-th record
// the batch is returned and the buffer is reset.
func (a *Accumulator) Feed(line Line) (Batch, bool) {
	if a.buf.Len() == 0 {
		a.buf.Write(batchOpen)
		a.firstLine = line.Number
	}

	a.buf.Write(line.Text)
	if len(line.Text) == 0 || line.Text[len(line.Text)-1] != '\n' {
		a.buf.WriteByte('\n')
	}

	if line.Kind == LineRecordEnd || line.Kind == LineRecordWhole {
		a.count++
		if a.count >= a.size {
			return a.emit(), true
		}
	}
	return Batch{}, false
}

// Flush emits the partial batch held at end of stream, if any.
func (a *Accumulator) Flush() (Batch, bool) {
	if a.buf.Len() == 0 {
		return Batch{}, false
	}
	return a.emit(), true
}

// PeakBytes returns the largest batch document emitted so far.
func (a *Accumulator) PeakBytes() int {
	return a.peak
}

func (a *Accumulator) emit() Batch {
	a.buf.Write(batchClose)

	text := make([]byte, a.buf.Len())
	copy(text, a.buf.Bytes())

	b := Batch{
		Index:     a.index,
		Text:      text,
		Records:   a.count,
		FirstLine: a.firstLine,
	}

	if len(text) > a.peak {
		a.peak = len(text)
	}

	a.index++
	a.count = 0
	a.firstLine = 0
	a.buf.Reset()
	return b
}
