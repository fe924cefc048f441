package concept

const (
	MapTypeQAndA      = "Q-AND-A"
	MapTypeConceptSet = "CONCEPT-SET"

	// SynonymNameType is how a synonym name type is represented in view form.
	// The OCL API sends synonyms with a null name_type.
	SynonymNameType = "null"
)

// APIName is a concept name as returned by the OCL API.
type APIName struct {
	Name            string  `json:"name"`
	Locale          string  `json:"locale"`
	ExternalID      string  `json:"external_id"`
	LocalePreferred bool    `json:"locale_preferred"`
	NameType        *string `json:"name_type"`
}

// Name is a concept name in view form, with name_type always set.
type Name struct {
	Name            string `json:"name"`
	Locale          string `json:"locale"`
	ExternalID      string `json:"external_id"`
	LocalePreferred bool   `json:"locale_preferred"`
	NameType        string `json:"name_type"`
}

type Description struct {
	Description     string `json:"description"`
	Locale          string `json:"locale"`
	ExternalID      string `json:"external_id"`
	LocalePreferred bool   `json:"locale_preferred"`
}

// Mapping is a typed relationship from one concept to another concept (ToConceptURL)
// or to an external code (ToSourceURL + ToConceptCode).
type Mapping struct {
	MapType        string `json:"map_type"`
	ExternalID     string `json:"external_id"`
	FromConceptURL string `json:"from_concept_url"`
	ToConceptURL   string `json:"to_concept_url,omitempty"`
	ToSourceURL    string `json:"to_source_url,omitempty"`
	ToConceptCode  string `json:"to_concept_code,omitempty"`
	ToConceptName  string `json:"to_concept_name,omitempty"`
	URL            string `json:"url,omitempty"`
	Retired        bool   `json:"retired"`
}

// APIConcept is the wire form of a concept.
type APIConcept struct {
	ID           string        `json:"id"`
	ExternalID   string        `json:"external_id"`
	ConceptClass string        `json:"concept_class"`
	Datatype     string        `json:"datatype"`
	Names        []APIName     `json:"names"`
	Descriptions []Description `json:"descriptions"`
	Mappings     []Mapping     `json:"mappings"`
	DisplayName  string        `json:"display_name"`
	URL          string        `json:"url"`
}

// Concept is the view form of a concept: mappings are split by map type.
type Concept struct {
	ID           string        `json:"id"`
	ExternalID   string        `json:"external_id"`
	ConceptClass string        `json:"concept_class"`
	Datatype     string        `json:"datatype"`
	Names        []Name        `json:"names"`
	Descriptions []Description `json:"descriptions"`
	URL          string        `json:"url,omitempty"`
	Answers      []Mapping     `json:"answers"`
	Sets         []Mapping     `json:"sets"`
	Mappings     []Mapping     `json:"mappings"`
}

// Page is one page of a concepts listing. NumFound is the total across all
// pages when the API reported it.
type Page struct {
	Concepts []APIConcept
	NumFound *int
}
