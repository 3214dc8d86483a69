package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordWithRefs(refs ...DBReference) Record {
	return Record{Accession: "P1", Organism: Organism{DBReferences: refs}}
}

func TestTransform(t *testing.T) {
	human := DBReference{Type: TaxonomyRefType, ID: "9606"}
	mouse := DBReference{Type: TaxonomyRefType, ID: "10090"}
	other := DBReference{Type: "PubMed", ID: "123"}

	tests := []struct {
		name      string
		rec       Record
		filter    FilterSet
		want      Outcome
		wantTaxID int
		wantErr   bool
	}{
		{"empty filter accepts", recordWithRefs(other, human), FilterSet{}, OutcomeAccepted, 9606, false},
		{"member accepted", recordWithRefs(human), NewFilterSet(9606, 559292), OutcomeAccepted, 9606, false},
		{"non-member filtered", recordWithRefs(mouse), NewFilterSet(9606), OutcomeFilteredOut, 0, false},
		{"missing taxonomy", recordWithRefs(other), FilterSet{}, OutcomeRejected, 0, true},
		{"duplicate taxonomy", recordWithRefs(human, mouse), FilterSet{}, OutcomeRejected, 0, true},
		{"non-numeric taxonomy", recordWithRefs(DBReference{Type: TaxonomyRefType, ID: "human"}), FilterSet{}, OutcomeRejected, 0, true},
		{"missing taxonomy rejected even when filtered", recordWithRefs(), NewFilterSet(9606), OutcomeRejected, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, outcome, err := Transform(tt.rec, tt.filter)
			assert.Equal(t, tt.want, outcome)
			if tt.wantErr {
				var fce *FieldConversionError
				require.ErrorAs(t, err, &fce)
				assert.Equal(t, "taxid", fce.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTaxID, rec.TaxID)
		})
	}
}

func TestTransform_IsPure(t *testing.T) {
	in := recordWithRefs(DBReference{Type: TaxonomyRefType, ID: "9606"})
	_, _, _ = Transform(in, FilterSet{})
	assert.Zero(t, in.TaxID)
}

func TestFilterSet(t *testing.T) {
	var zero FilterSet
	assert.True(t, zero.Empty())
	assert.True(t, zero.Allows(1))
	assert.Equal(t, "all", zero.String())

	f := NewFilterSet(10090, 9606, 9606)
	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Allows(9606))
	assert.False(t, f.Allows(7227))
	assert.Equal(t, []int{9606, 10090}, f.IDs())
	assert.Equal(t, "9606,10090", f.String())
}

func TestParseFilterSet(t *testing.T) {
	f, err := ParseFilterSet(" 9606, ,10090")
	require.NoError(t, err)
	assert.Equal(t, []int{9606, 10090}, f.IDs())

	f, err = ParseFilterSet("")
	require.NoError(t, err)
	assert.True(t, f.Empty())

	_, err = ParseFilterSet("9606,mouse")
	assert.Error(t, err)

	_, err = ParseFilterSet("-1")
	assert.Error(t, err)
}
