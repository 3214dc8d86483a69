package core

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const documentHeader = `<?xml version="1.0" encoding="UTF-8"?>
<uniprot xmlns="http://uniprot.org/uniprot" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
`

const documentFooter = `<copyright>
Copyrighted by the UniProt Consortium.
</copyright>
</uniprot>
`

// testEntry describes one synthetic entry.
type testEntry struct {
	accession string
	taxids    []string
	created   string
	modified  string
}

func entry(accession string, taxids ...string) testEntry {
	return testEntry{accession: accession, taxids: taxids, created: "2000-05-30", modified: "2021-06-02"}
}

func (e testEntry) xml() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<entry dataset=\"Swiss-Prot\" created=\"%s\" modified=\"%s\" version=\"42\" xmlns=\"http://uniprot.org/uniprot\">\n",
		e.created, e.modified)
	fmt.Fprintf(&b, "  <accession>%s</accession>\n", e.accession)
	fmt.Fprintf(&b, "  <accession>%s-2</accession>\n", e.accession)
	fmt.Fprintf(&b, "  <name>%s_HUMAN</name>\n", e.accession)
	b.WriteString("  <protein>\n    <recommendedName>\n      <fullName>Cellular tumor antigen p53</fullName>\n    </recommendedName>\n  </protein>\n")
	b.WriteString("  <gene>\n    <name type=\"primary\">TP53</name>\n    <name type=\"synonym\">P53</name>\n  </gene>\n")
	b.WriteString("  <organism>\n    <name type=\"scientific\">Homo sapiens</name>\n    <name type=\"common\">Human</name>\n")
	for _, id := range e.taxids {
		fmt.Fprintf(&b, "    <dbReference type=\"NCBI Taxonomy\" id=\"%s\"/>\n", id)
	}
	b.WriteString("    <lineage>\n      <taxon>Eukaryota</taxon>\n    </lineage>\n  </organism>\n")
	b.WriteString("  <dbReference type=\"PDB\" id=\"1A1U\"/>\n")
	b.WriteString("  <sequence length=\"5\" mass=\"600\" checksum=\"AD5C149FD8106131\" modified=\"1995-02-01\" version=\"4\">MEEPQ</sequence>\n")
	b.WriteString("</entry>\n")
	return b.String()
}

// document renders a complete dump containing entries.
func document(entries ...testEntry) string {
	var b strings.Builder
	b.WriteString(documentHeader)
	for _, e := range entries {
		b.WriteString(e.xml())
	}
	b.WriteString(documentFooter)
	return b.String()
}

// humanEntries returns n entries with accessions P00001... and taxid 9606.
func humanEntries(n int) []testEntry {
	out := make([]testEntry, n)
	for i := range out {
		out[i] = entry(fmt.Sprintf("P%05d", i+1), "9606")
	}
	return out
}

func gzipped(t testing.TB, s string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

// batchOf wraps raw entry XML the way the accumulator does.
func batchOf(index int, entries ...testEntry) Batch {
	var b strings.Builder
	b.WriteString("<entries>\n")
	for _, e := range entries {
		b.Write(StripNamespace([]byte(e.xml())))
	}
	b.WriteString("</entries>\n")
	return Batch{Index: index, Text: []byte(b.String()), Records: len(entries), FirstLine: 1}
}
