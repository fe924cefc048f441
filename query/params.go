package query

import (
	"encoding/json"
	"strings"
)

// SortDirection is the wire literal used for the sort direction of a concepts list.
type SortDirection string

const (
	SortAsc  SortDirection = "sortAsc"
	SortDesc SortDirection = "sortDesc"
)

// SortField enumerates the fields a concepts list can be sorted by.
type SortField string

const (
	SortByBestMatch    SortField = "bestMatch"
	SortByLastUpdate   SortField = "lastUpdate"
	SortByName         SortField = "name"
	SortByID           SortField = "id"
	SortByDatatype     SortField = "datatype"
	SortByConceptClass SortField = "conceptClass"
)

const (
	DefaultPage          = 1
	DefaultLimit         = 25
	DefaultSortDirection = SortAsc
	DefaultSortBy        = SortByID

	// MaxPage and MaxLimit keep page*limit well inside an int.
	MaxPage  = 100000
	MaxLimit = 1000
)

var sortFields = map[SortField]struct{}{
	SortByBestMatch:    {},
	SortByLastUpdate:   {},
	SortByName:         {},
	SortByID:           {},
	SortByDatatype:     {},
	SortByConceptClass: {},
}

// Valid reports whether d is one of the known sort directions.
func (d SortDirection) Valid() bool {
	return d == SortAsc || d == SortDesc
}

// Valid reports whether f is one of the known sortable fields.
func (f SortField) Valid() bool {
	_, ok := sortFields[f]
	return ok
}

// Params models the list-view parameters of a concepts page.
// The URL query string is the only persisted copy of these values.
type Params struct {
	Q               string        `json:"q"`
	Page            int           `json:"page"`
	SortDirection   SortDirection `json:"sortDirection"`
	SortBy          SortField     `json:"sortBy"`
	Limit           int           `json:"limit"`
	ClassFilters    []string      `json:"classFilters"`
	DataTypeFilters []string      `json:"dataTypeFilters"`
	Collection      string        `json:"collection,omitempty"`
}

// Defaults returns the parameters used for every field absent from a query string.
func Defaults() Params {
	return Params{
		Page:            DefaultPage,
		SortDirection:   DefaultSortDirection,
		SortBy:          DefaultSortBy,
		Limit:           DefaultLimit,
		ClassFilters:    []string{},
		DataTypeFilters: []string{},
	}
}

// Override is a partial set of parameters. Nil fields are left untouched by Merge.
type Override struct {
	Q               *string
	Page            *int
	SortDirection   *SortDirection
	SortBy          *SortField
	Limit           *int
	ClassFilters    []string
	DataTypeFilters []string
	Collection      *string
}

// Merge applies o on top of p. Unless o sets Page explicitly the result is
// moved back to the first page, since any other change invalidates the offset.
func (p Params) Merge(o Override) Params {
	out := p
	out.ClassFilters = copyStrings(p.ClassFilters)
	out.DataTypeFilters = copyStrings(p.DataTypeFilters)
	out.Page = DefaultPage

	if o.Q != nil {
		out.Q = *o.Q
	}
	if o.Page != nil {
		out.Page = *o.Page
	}
	if o.SortDirection != nil {
		out.SortDirection = *o.SortDirection
	}
	if o.SortBy != nil {
		out.SortBy = *o.SortBy
	}
	if o.Limit != nil {
		out.Limit = *o.Limit
	}
	if o.ClassFilters != nil {
		out.ClassFilters = copyStrings(o.ClassFilters)
	}
	if o.DataTypeFilters != nil {
		out.DataTypeFilters = copyStrings(o.DataTypeFilters)
	}
	if o.Collection != nil {
		out.Collection = *o.Collection
	}
	return out
}

// Fingerprint serializes the fields that affect a retrieval for the given scope.
// List filters are compared by their comma-joined form, so two parameter sets
// with equal fingerprints always produce the same upstream request. Fields are
// encoded as a JSON array so that no field value can spill into its neighbour.
func (p Params) Fingerprint(scope string) string {
	b, _ := json.Marshal([]string{
		scope,
		itoa(p.Page),
		itoa(p.Limit),
		p.Q,
		string(p.SortDirection),
		string(p.SortBy),
		strings.Join(p.DataTypeFilters, ","),
		strings.Join(p.ClassFilters, ","),
	})
	return string(b)
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
