package core

// scanner.go detects record boundaries in the decompressed line stream.
//
// The grammar is flat: a record opens on a line starting with "<entry" and
// closes on a line starting with "</entry>". Text after a closing tag on the
// same line is scanned again as a line of its own. The scanner is a two-state
// machine; everything outside a record (prolog, root element, copyright) is
// dropped, everything inside is forwarded with namespace declarations removed.
//
//	Outside      --start-->        InsideRecord
//	InsideRecord --end-->          Outside
//	InsideRecord --EOF/doc-close-> Outside   (flush-on-EOF: synthetic "</entry>")

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"
	"sync/atomic"
)

// LineKind classifies a line of the input document.
type LineKind int

const (
	LineOther LineKind = iota
	LineRecordStart
	LineRecordBody
	LineRecordEnd
	// LineRecordWhole is a record that opens and closes on the same line.
	LineRecordWhole
	LineDocumentEnd
)

var (
	recordStartTag = []byte("<entry")
	recordEndTag   = []byte("</entry>")
	documentEndTag = []byte("</uniprot>")

	// syntheticRecordEnd closes a record cut off by the end of the stream.
	syntheticRecordEnd = []byte("</entry>\n")

	namespacePattern = regexp.MustCompile(` xmlns="[^"]+"`)
	namespaceAttr    = []byte("xmlns=")
)

type scanState int

const (
	stateOutside scanState = iota
	stateInsideRecord
)

func (s scanState) String() string {
	if s == stateInsideRecord {
		return "inside_record"
	}
	return "outside"
}

// Line is one line of record text handed to the accumulator.
type Line struct {
	Text   []byte
	Number int64
	Kind   LineKind
	// Synthetic is set on the record-close line appended by flush-on-EOF.
	Synthetic bool
}

// ClassifyLine returns the boundary kind of a raw line. Body lines are
// reported as LineOther since the distinction depends on scanner state.
func ClassifyLine(line []byte) LineKind {
	trimmed := bytes.TrimLeft(line, " \t")
	switch {
	case isRecordStart(trimmed):
		end := bytes.TrimRight(trimmed, " \t\r\n")
		if bytes.HasSuffix(end, recordEndTag) || isSelfClosing(end) {
			return LineRecordWhole
		}
		return LineRecordStart
	case bytes.HasPrefix(trimmed, recordEndTag):
		return LineRecordEnd
	case bytes.HasPrefix(trimmed, documentEndTag):
		return LineDocumentEnd
	default:
		return LineOther
	}
}

// isRecordStart matches "<entry" followed by whitespace, '>' or end of line,
// so "<entries>" and "<entryFoo" are not record starts.
func isRecordStart(trimmed []byte) bool {
	if !bytes.HasPrefix(trimmed, recordStartTag) {
		return false
	}
	if len(trimmed) == len(recordStartTag) {
		return true
	}
	switch trimmed[len(recordStartTag)] {
	case ' ', '\t', '>', '\r', '\n', '/':
		return true
	}
	return false
}

// isSelfClosing reports whether the first tag of line is "<entry .../>" and
// ends the line.
func isSelfClosing(line []byte) bool {
	i := bytes.IndexByte(line, '>')
	return i == len(line)-1 && i > 0 && line[i-1] == '/'
}

// StripNamespace removes xmlns="..." declarations from a record line.
func StripNamespace(line []byte) []byte {
	if !bytes.Contains(line, namespaceAttr) {
		return line
	}
	return namespacePattern.ReplaceAll(line, nil)
}

// Scanner emits the lines belonging to records, in stream order.
type Scanner struct {
	r     *bufio.Reader
	state scanState
	done  bool
	err   error
	lines atomic.Int64

	// pending holds lines split off a raw line that produced more than one.
	pending []Line
}

// NewScanner creates a scanner over decompressed document text.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// LinesRead returns the number of input lines consumed so far.
// Safe to call from another goroutine.
func (s *Scanner) LinesRead() int64 {
	return s.lines.Load()
}

// InsideRecord reports whether the scanner is in the middle of a record.
func (s *Scanner) InsideRecord() bool {
	return s.state == stateInsideRecord
}

// Next returns the next record line. It returns io.EOF once the document is
// exhausted; any other error is a *StreamError.
func (s *Scanner) Next() (Line, error) {
	for {
		if len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			return line, nil
		}
		if s.err != nil {
			return Line{}, s.err
		}
		if s.done {
			return Line{}, io.EOF
		}

		raw, err := s.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			// Deliver what was read; the error surfaces on the next call.
			s.err = &StreamError{Line: s.lines.Load() + 1, Err: err}
		}
		if len(raw) > 0 {
			n := s.lines.Add(1)
			if line, ok := s.step(raw, n); ok {
				if errors.Is(err, io.EOF) && !s.done && s.state == stateOutside {
					s.done = true
				}
				return line, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.finish()
			}
			return Line{}, s.err
		}
	}
}

// step advances the state machine by one raw line.
func (s *Scanner) step(raw []byte, n int64) (Line, bool) {
	kind := ClassifyLine(raw)

	switch s.state {
	case stateOutside:
		switch kind {
		case LineRecordStart:
			s.state = stateInsideRecord
			return Line{Text: StripNamespace(raw), Number: n, Kind: LineRecordStart}, true
		case LineRecordWhole:
			return Line{Text: StripNamespace(raw), Number: n, Kind: LineRecordWhole}, true
		case LineDocumentEnd:
			s.done = true
		}
		return Line{}, false

	default: // stateInsideRecord
		switch kind {
		case LineRecordEnd:
			s.state = stateOutside
			end, rest := splitRecordEnd(raw)
			if len(bytes.TrimSpace(rest)) > 0 {
				if next, ok := s.step(rest, n); ok {
					s.pending = append(s.pending, next)
				}
			}
			return Line{Text: end, Number: n, Kind: LineRecordEnd}, true
		case LineDocumentEnd:
			// Document closed inside a record: flush-on-EOF.
			s.done = true
			return s.flushOnEOF(n), true
		}
		// A nested start marker is body text too; the fragment is not repaired.
		return Line{Text: StripNamespace(raw), Number: n, Kind: LineRecordBody}, true
	}
}

// splitRecordEnd splits a record-end line after its "</entry>" tag.
func splitRecordEnd(raw []byte) (end, rest []byte) {
	i := bytes.Index(raw, recordEndTag) + len(recordEndTag)
	if len(bytes.TrimSpace(raw[i:])) == 0 {
		return raw, nil
	}
	return raw[:i:i], raw[i:]
}

// finish handles exhaustion of the underlying reader.
func (s *Scanner) finish() (Line, error) {
	s.done = true
	if s.state == stateInsideRecord {
		return s.flushOnEOF(s.lines.Load()), nil
	}
	return Line{}, io.EOF
}

func (s *Scanner) flushOnEOF(n int64) Line {
	s.state = stateOutside
	return Line{Text: syntheticRecordEnd, Number: n, Kind: LineRecordEnd, Synthetic: true}
}
