package mapper

import "github.com/openmrs/ocl-concepts-api/concept"

// ToConcept converts the OCL API representation of a concept into its view
// form. A nil input yields nil. Unknown map types land in the generic
// Mappings bucket; nothing here is rejected.
func ToConcept(apiConcept *concept.APIConcept) *concept.Concept {
	if apiConcept == nil {
		return nil
	}

	descriptions := apiConcept.Descriptions
	if descriptions == nil {
		descriptions = []concept.Description{}
	}

	answers, sets, mappings := PartitionMappings(apiConcept.Mappings)

	return &concept.Concept{
		ID:           apiConcept.ID,
		ExternalID:   apiConcept.ExternalID,
		ConceptClass: apiConcept.ConceptClass,
		Datatype:     apiConcept.Datatype,
		Names:        ConvertNames(apiConcept.Names),
		Descriptions: descriptions,
		URL:          apiConcept.URL,
		Answers:      answers,
		Sets:         sets,
		Mappings:     mappings,
	}
}

// ToConcepts converts a list of concepts, preserving order.
func ToConcepts(apiConcepts []concept.APIConcept) []concept.Concept {
	out := make([]concept.Concept, 0, len(apiConcepts))
	for i := range apiConcepts {
		out = append(out, *ToConcept(&apiConcepts[i]))
	}
	return out
}

// ConvertNames replaces a null name type with concept.SynonymNameType.
func ConvertNames(names []concept.APIName) []concept.Name {
	out := make([]concept.Name, 0, len(names))
	for _, n := range names {
		nameType := concept.SynonymNameType
		if n.NameType != nil {
			nameType = *n.NameType
		}
		out = append(out, concept.Name{
			Name:            n.Name,
			Locale:          n.Locale,
			ExternalID:      n.ExternalID,
			LocalePreferred: n.LocalePreferred,
			NameType:        nameType,
		})
	}
	return out
}

// PartitionMappings splits mappings into answers (Q-AND-A), sets (CONCEPT-SET)
// and everything else, keeping the relative order inside each bucket.
func PartitionMappings(in []concept.Mapping) (answers, sets, mappings []concept.Mapping) {
	answers = []concept.Mapping{}
	sets = []concept.Mapping{}
	mappings = []concept.Mapping{}
	for _, m := range in {
		switch m.MapType {
		case concept.MapTypeQAndA:
			answers = append(answers, m)
		case concept.MapTypeConceptSet:
			sets = append(sets, m)
		default:
			mappings = append(mappings, m)
		}
	}
	return answers, sets, mappings
}
