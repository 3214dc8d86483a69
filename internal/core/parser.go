package core

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	errMissingValue   = errors.New("missing value")
	errModifiedBefore = errors.New("modified date precedes created date")
	errNoRootElement  = errors.New("batch has no <entries> root element")
)

// entryNode mirrors the parts of an <entry> element the importer keeps.
// Unlisted children (sequence, features, comments) are skipped by the decoder.
type entryNode struct {
	Dataset    string       `xml:"dataset,attr"`
	Created    string       `xml:"created,attr"`
	Modified   string       `xml:"modified,attr"`
	Version    string       `xml:"version,attr"`
	Accessions []string     `xml:"accession"`
	Names      []string     `xml:"name"`
	Protein    proteinNode  `xml:"protein"`
	Genes      []geneNode   `xml:"gene"`
	Organism   organismNode `xml:"organism"`
}

type proteinNode struct {
	RecommendedFullName string   `xml:"recommendedName>fullName"`
	SubmittedFullNames  []string `xml:"submittedName>fullName"`
}

type typedName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type geneNode struct {
	Names []typedName `xml:"name"`
}

type dbReferenceNode struct {
	Type string `xml:"type,attr"`
	ID   string `xml:"id,attr"`
}

type organismNode struct {
	Names        []typedName       `xml:"name"`
	DBReferences []dbReferenceNode `xml:"dbReference"`
}

// parseContext is the per-batch working state. It is pooled and released
// when the batch has been converted.
type parseContext struct {
	reader bytes.Reader
	node   entryNode
}

var parseContextPool = sync.Pool{
	New: func() any { return new(parseContext) },
}

func acquireParseContext(text []byte) *parseContext {
	pc := parseContextPool.Get().(*parseContext)
	pc.reader.Reset(text)
	return pc
}

func releaseParseContext(pc *parseContext) {
	pc.reader.Reset(nil)
	pc.node = entryNode{}
	parseContextPool.Put(pc)
}

// Conversion is the outcome of converting one entry of a batch.
// Exactly one of Record or Err is meaningful.
type Conversion struct {
	Record Record
	Err    error
}

// EntryParser turns batch documents into records.
type EntryParser struct{}

// NewEntryParser creates an entry parser.
func NewEntryParser() *EntryParser {
	return &EntryParser{}
}

// Parse decodes every <entry> of the batch in document order. Conversion
// failures are reported per entry as *FieldConversionError; an XML syntax
// error fails the whole batch with *MalformedBatchError.
func (p *EntryParser) Parse(b Batch) ([]Conversion, error) {
	pc := acquireParseContext(b.Text)
	defer releaseParseContext(pc)

	malformed := func(err error) error {
		return &MalformedBatchError{Batch: b.Index, FirstLine: b.FirstLine, Err: err}
	}

	dec := xml.NewDecoder(&pc.reader)
	out := make([]Conversion, 0, b.Records)
	sawRoot := false

	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "entries":
			sawRoot = true
		case "entry":
			pc.node = entryNode{}
			if err := dec.DecodeElement(&pc.node, &se); err != nil {
				return nil, malformed(err)
			}
			raw := bytes.TrimSpace(b.Text[start:dec.InputOffset()])
			rec, err := convertEntry(&pc.node, raw)
			out = append(out, Conversion{Record: rec, Err: err})
		default:
			if err := dec.Skip(); err != nil {
				return nil, malformed(err)
			}
		}
	}

	if !sawRoot {
		return nil, malformed(errNoRootElement)
	}
	return out, nil
}

// convertEntry builds a Record from a decoded node.
func convertEntry(n *entryNode, raw []byte) (Record, error) {
	rec := Record{
		Dataset: strings.TrimSpace(n.Dataset),
		Digest:  xxhash.Sum64(raw),
	}

	for _, acc := range n.Accessions {
		if acc = strings.TrimSpace(acc); acc != "" {
			rec.Accessions = append(rec.Accessions, acc)
		}
	}
	if len(rec.Accessions) == 0 {
		return Record{}, &FieldConversionError{Field: "accession", Err: errMissingValue}
	}
	rec.Accession = rec.Accessions[0]

	if len(n.Names) > 0 {
		rec.Name = strings.TrimSpace(n.Names[0])
	}

	var err error
	if rec.Created, err = parseDate(rec.Accession, "created", n.Created); err != nil {
		return Record{}, err
	}
	if rec.Modified, err = parseDate(rec.Accession, "modified", n.Modified); err != nil {
		return Record{}, err
	}
	if rec.Modified.Before(rec.Created) {
		return Record{}, &FieldConversionError{
			Accession: rec.Accession,
			Field:     "modified",
			Value:     n.Modified,
			Err:       errModifiedBefore,
		}
	}

	if v := strings.TrimSpace(n.Version); v != "" {
		rec.Version, err = strconv.Atoi(v)
		if err != nil {
			return Record{}, &FieldConversionError{Accession: rec.Accession, Field: "version", Value: v, Err: err}
		}
	}

	rec.ProteinName = strings.TrimSpace(n.Protein.RecommendedFullName)
	if rec.ProteinName == "" && len(n.Protein.SubmittedFullNames) > 0 {
		rec.ProteinName = strings.TrimSpace(n.Protein.SubmittedFullNames[0])
	}
	rec.GeneName = primaryGeneName(n.Genes)
	rec.Organism = convertOrganism(n.Organism)

	return rec, nil
}

func parseDate(accession, field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &FieldConversionError{Accession: accession, Field: field, Err: errMissingValue}
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &FieldConversionError{
			Accession: accession,
			Field:     field,
			Value:     value,
			Err:       fmt.Errorf("expected %s: %w", DateLayout, err),
		}
	}
	return t, nil
}

func primaryGeneName(genes []geneNode) string {
	var fallback string
	for _, g := range genes {
		for _, name := range g.Names {
			if name.Type == "primary" {
				return strings.TrimSpace(name.Value)
			}
			if fallback == "" {
				fallback = strings.TrimSpace(name.Value)
			}
		}
	}
	return fallback
}

func convertOrganism(n organismNode) Organism {
	var org Organism
	for _, name := range n.Names {
		switch name.Type {
		case "scientific":
			org.ScientificName = strings.TrimSpace(name.Value)
		case "common":
			org.CommonName = strings.TrimSpace(name.Value)
		}
	}
	if len(n.DBReferences) > 0 {
		org.DBReferences = make([]DBReference, len(n.DBReferences))
		for i, ref := range n.DBReferences {
			org.DBReferences[i] = DBReference{Type: ref.Type, ID: strings.TrimSpace(ref.ID)}
		}
	}
	return org
}
