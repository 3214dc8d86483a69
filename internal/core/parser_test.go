package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryParser_Parse(t *testing.T) {
	convs, err := NewEntryParser().Parse(batchOf(0, entry("P04637", "9606"), entry("P02340", "10090")))
	require.NoError(t, err)
	require.Len(t, convs, 2)

	rec := convs[0].Record
	require.NoError(t, convs[0].Err)
	assert.Equal(t, "P04637", rec.Accession)
	assert.Equal(t, []string{"P04637", "P04637-2"}, rec.Accessions)
	assert.Equal(t, "P04637_HUMAN", rec.Name)
	assert.Equal(t, "Swiss-Prot", rec.Dataset)
	assert.Equal(t, 42, rec.Version)
	assert.Equal(t, time.Date(2000, 5, 30, 0, 0, 0, 0, time.UTC), rec.Created)
	assert.Equal(t, time.Date(2021, 6, 2, 0, 0, 0, 0, time.UTC), rec.Modified)
	assert.Equal(t, "Cellular tumor antigen p53", rec.ProteinName)
	assert.Equal(t, "TP53", rec.GeneName)
	assert.Equal(t, "Homo sapiens", rec.Organism.ScientificName)
	assert.Equal(t, "Human", rec.Organism.CommonName)
	assert.Equal(t, []DBReference{{Type: TaxonomyRefType, ID: "9606"}}, rec.Organism.DBReferences,
		"entry-level dbReferences are not organism references")
	assert.Zero(t, rec.TaxID, "taxid is assigned by Transform")

	assert.Equal(t, "P02340", convs[1].Record.Accession)
}

func TestEntryParser_Digest(t *testing.T) {
	p := NewEntryParser()

	a, err := p.Parse(batchOf(0, entry("P1", "9606"), entry("P2", "9606")))
	require.NoError(t, err)
	b, err := p.Parse(batchOf(7, entry("P1", "9606")))
	require.NoError(t, err)

	assert.NotZero(t, a[0].Record.Digest)
	assert.Equal(t, a[0].Record.Digest, b[0].Record.Digest, "digest depends only on entry text")
	assert.NotEqual(t, a[0].Record.Digest, a[1].Record.Digest)
}

func TestEntryParser_FieldConversion(t *testing.T) {
	tests := []struct {
		name  string
		entry testEntry
		field string
	}{
		{"bad created date", testEntry{accession: "P1", taxids: []string{"9606"}, created: "30-05-2000", modified: "2021-06-02"}, "created"},
		{"missing modified", testEntry{accession: "P1", taxids: []string{"9606"}, created: "2000-05-30"}, "modified"},
		{"modified before created", testEntry{accession: "P1", taxids: []string{"9606"}, created: "2021-06-02", modified: "2000-05-30"}, "modified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convs, err := NewEntryParser().Parse(batchOf(0, tt.entry, entry("P2", "9606")))
			require.NoError(t, err, "conversion errors are record-level")
			require.Len(t, convs, 2)

			var fce *FieldConversionError
			require.ErrorAs(t, convs[0].Err, &fce)
			assert.Equal(t, tt.field, fce.Field)
			assert.Equal(t, "P1", fce.Accession)

			assert.NoError(t, convs[1].Err)
		})
	}
}

func TestEntryParser_MissingAccession(t *testing.T) {
	b := Batch{Text: []byte("<entries>\n<entry created=\"2000-01-01\" modified=\"2000-01-01\">\n</entry>\n</entries>\n"), Records: 1}

	convs, err := NewEntryParser().Parse(b)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	var fce *FieldConversionError
	require.ErrorAs(t, convs[0].Err, &fce)
	assert.Equal(t, "accession", fce.Field)
}

func TestEntryParser_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"mismatched tag", "<entries>\n<entry>\n<accession>P1</name>\n</entry>\n</entries>\n"},
		{"unclosed element", "<entries>\n<entry>\n<organism>\n</entry>\n</entries>\n"},
		{"no root", "<entry><accession>P1</accession></entry>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convs, err := NewEntryParser().Parse(Batch{Index: 4, Text: []byte(tt.text), FirstLine: 40})
			assert.Nil(t, convs)

			var mb *MalformedBatchError
			require.ErrorAs(t, err, &mb)
			assert.Equal(t, 4, mb.Batch)
			assert.Equal(t, int64(40), mb.FirstLine)
		})
	}
}

func TestEntryParser_ReleasesContext(t *testing.T) {
	p := NewEntryParser()
	for i := 0; i < 5; i++ {
		_, err := p.Parse(batchOf(i, humanEntries(3)...))
		require.NoError(t, err)
	}

	pc := acquireParseContext(nil)
	defer releaseParseContext(pc)
	assert.Zero(t, pc.reader.Len(), "pooled context holds no batch text")
	assert.Empty(t, pc.node.Accessions)
}
