package content

import "sort"

// MergeFields computes the ordered editable field list for one node by
// reconciling three independently loaded sources: the datatype's field
// assignments, the global field definition catalog, and the values already
// persisted on the node.
//
// The merge is a pure function of its inputs: identical inputs produce
// field-by-field identical output, including order. That determinism is what
// dirtiness comparison and save iteration rely on.
func MergeFields(node *Node, assignments []Assignment, definitions []FieldDefinition) []MergedField {
	defsByField := make(map[string]FieldDefinition, len(definitions))
	for _, def := range definitions {
		defsByField[def.ID] = def
	}

	// Assignments not loaded yet: a transient consistency mode. Show what is
	// already persisted, improved by the definition catalog where possible,
	// and recompute once assignments arrive.
	if assignments == nil {
		merged := make([]MergedField, 0, len(node.Fields))
		for i := range node.Fields {
			merged = append(merged, mergedFromValue(&node.Fields[i], defsByField))
		}
		return merged
	}

	ordered := make([]Assignment, len(assignments))
	copy(ordered, assignments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		// Ties break on assignment id so re-sorting never swaps two fields
		// that were previously adjacent.
		return ordered[i].ID < ordered[j].ID
	})

	valuesByField := make(map[string]*FieldValue, len(node.Fields))
	for i := range node.Fields {
		value := &node.Fields[i]
		if _, exists := valuesByField[value.FieldID]; !exists {
			valuesByField[value.FieldID] = value
		}
	}

	merged := make([]MergedField, 0, len(ordered))
	seen := make(map[string]bool, len(ordered))
	for _, assignment := range ordered {
		seen[assignment.FieldID] = true
		if value, exists := valuesByField[assignment.FieldID]; exists {
			merged = append(merged, mergedFromValue(value, defsByField))
			continue
		}
		def, exists := defsByField[assignment.FieldID]
		if !exists {
			// Assignment pointing at a definition that no longer exists:
			// tolerated schema drift, dropped without error.
			continue
		}
		merged = append(merged, MergedField{
			FieldID:    def.ID,
			Label:      def.Label,
			Type:       def.Type,
			Validation: def.Validation,
			UIConfig:   def.UIConfig,
			ExtraData:  def.ExtraData,
			Value:      "",
			Persisted:  nil,
		})
	}

	// Orphaned values: content stored for fields no longer assigned to the
	// datatype. Appended after all schema-ordered fields, in persisted order,
	// so they stay editable without interleaving with canonical fields.
	for i := range node.Fields {
		value := &node.Fields[i]
		if seen[value.FieldID] {
			continue
		}
		if valuesByField[value.FieldID] != value {
			continue
		}
		merged = append(merged, mergedFromValue(value, defsByField))
	}
	return merged
}

// mergedFromValue builds the view for a persisted value: label and type come
// from the value itself, while validation, uiConfig and extraData prefer the
// catalog definition and fall back to the value's own copy.
func mergedFromValue(value *FieldValue, defsByField map[string]FieldDefinition) MergedField {
	merged := MergedField{
		FieldID:    value.FieldID,
		Label:      value.Label,
		Type:       value.Type,
		Validation: value.Validation,
		UIConfig:   value.UIConfig,
		ExtraData:  value.ExtraData,
		Value:      value.Value,
		Persisted:  value,
	}
	if def, exists := defsByField[value.FieldID]; exists {
		if len(def.Validation) > 0 {
			merged.Validation = def.Validation
		}
		if len(def.UIConfig) > 0 {
			merged.UIConfig = def.UIConfig
		}
		if len(def.ExtraData) > 0 {
			merged.ExtraData = def.ExtraData
		}
	}
	return merged
}
