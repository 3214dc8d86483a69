package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	errNoTaxonomy        = errors.New("organism has no NCBI Taxonomy reference")
	errDuplicateTaxonomy = errors.New("organism has more than one NCBI Taxonomy reference")
)

// FilterSet is an immutable set of taxonomy ids. The zero value (or a set
// built from no ids) accepts every record.
type FilterSet struct {
	ids map[int]struct{}
}

// NewFilterSet builds a filter accepting only the given taxonomy ids.
func NewFilterSet(ids ...int) FilterSet {
	if len(ids) == 0 {
		return FilterSet{}
	}
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return FilterSet{ids: m}
}

// ParseFilterSet parses a comma-separated list of taxonomy ids.
func ParseFilterSet(s string) (FilterSet, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return FilterSet{}, fmt.Errorf("invalid taxonomy id %q", part)
		}
		ids = append(ids, id)
	}
	return NewFilterSet(ids...), nil
}

// Empty reports whether the set accepts everything.
func (f FilterSet) Empty() bool { return len(f.ids) == 0 }

// Len returns the number of ids in the set.
func (f FilterSet) Len() int { return len(f.ids) }

// Allows reports whether a record with taxid passes the filter.
func (f FilterSet) Allows(taxid int) bool {
	if f.Empty() {
		return true
	}
	_, ok := f.ids[taxid]
	return ok
}

// IDs returns the members in ascending order.
func (f FilterSet) IDs() []int {
	ids := make([]int, 0, len(f.ids))
	for id := range f.ids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (f FilterSet) String() string {
	if f.Empty() {
		return "all"
	}
	parts := make([]string, 0, len(f.ids))
	for _, id := range f.IDs() {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

// LocateTaxID returns the id of the single NCBI Taxonomy reference of the
// record's organism.
func LocateTaxID(rec Record) (int, error) {
	var found []string
	for _, ref := range rec.Organism.DBReferences {
		if ref.Type == TaxonomyRefType {
			found = append(found, ref.ID)
		}
	}

	switch len(found) {
	case 0:
		return 0, &FieldConversionError{Accession: rec.Accession, Field: "taxid", Err: errNoTaxonomy}
	case 1:
	default:
		return 0, &FieldConversionError{
			Accession: rec.Accession,
			Field:     "taxid",
			Value:     strings.Join(found, ","),
			Err:       errDuplicateTaxonomy,
		}
	}

	id, err := strconv.Atoi(found[0])
	if err != nil {
		return 0, &FieldConversionError{Accession: rec.Accession, Field: "taxid", Value: found[0], Err: err}
	}
	return id, nil
}

// Transform decides the fate of a converted record. Accepted records come
// back with TaxID set; filtered records are not an error.
func Transform(rec Record, filter FilterSet) (Record, Outcome, error) {
	taxid, err := LocateTaxID(rec)
	if err != nil {
		return Record{}, OutcomeRejected, err
	}
	if !filter.Allows(taxid) {
		return Record{}, OutcomeFilteredOut, nil
	}
	rec.TaxID = taxid
	return rec, OutcomeAccepted, nil
}
