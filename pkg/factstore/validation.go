package factstore

import "fmt"

// validateFact rejects a blank type or blank tag key. Empty tag value is
// allowed.
func validateFact(f Fact, index int) error {
	if f.Type == "" {
		return &ValidationError{
			StoreError: StoreError{Op: "validateFact", Err: fmt.Errorf("fact %d has blank type", index)},
			Field:      "type",
			Value:      fmt.Sprintf("fact[%d]", index),
		}
	}
	for j, t := range f.Tags {
		if t.Key == "" {
			return &ValidationError{
				StoreError: StoreError{Op: "validateFact", Err: fmt.Errorf("fact %d has blank tag key", index)},
				Field:      fmt.Sprintf("fact[%d].tags[%d].key", index, j),
			}
		}
	}
	return nil
}

// validateAppendRequest enforces the edge cases that are checked when the
// request is appended, before any engine I/O: non-empty fact list, unique
// fact ids within the request, and per-fact validation.
func validateAppendRequest(req AppendRequest) error {
	if len(req.Facts) == 0 {
		return &ValidationError{
			StoreError: StoreError{Op: "validateAppendRequest", Err: fmt.Errorf("facts must not be empty")},
			Field:      "facts",
			Value:      "empty",
		}
	}

	seen := make(map[FactID]bool, len(req.Facts))
	var dupes []FactID
	for _, f := range req.Facts {
		if seen[f.ID] {
			dupes = append(dupes, f.ID)
		}
		seen[f.ID] = true
	}
	if len(dupes) > 0 {
		return &DuplicateFactIdError{
			StoreError: StoreError{Op: "validateAppendRequest", Err: fmt.Errorf("duplicate fact ids within request")},
			IDs:        dupes,
		}
	}

	for i, f := range req.Facts {
		if err := validateFact(f, i); err != nil {
			return err
		}
	}

	return validateCondition(req.Condition)
}

// validateCondition validates the embedded TagQuery of a TagQueryBased
// condition, if any.
func validateCondition(cond AppendCondition) error {
	if cond.Kind == ConditionTagQueryBased {
		return validateTagQuery(cond.FailIfEventsMatch)
	}
	return nil
}

// validateTagQuery rejects an empty item list, an item with no types (for
// TagTypeItemKind) or no tags, or a tag with a blank key.
func validateTagQuery(q TagQuery) error {
	if len(q.Items) == 0 {
		return &ValidationError{
			StoreError: StoreError{Op: "validateTagQuery", Err: fmt.Errorf("query must have at least one item")},
			Field:      "items",
			Value:      "empty",
		}
	}
	for i, item := range q.Items {
		if item.Kind == TagTypeItemKind && len(item.Types) == 0 {
			return &ValidationError{
				StoreError: StoreError{Op: "validateTagQuery", Err: fmt.Errorf("item %d has no types", i)},
				Field:      fmt.Sprintf("items[%d].types", i),
				Value:      "empty",
			}
		}
		if len(item.Tags) == 0 {
			return &ValidationError{
				StoreError: StoreError{Op: "validateTagQuery", Err: fmt.Errorf("item %d has no tags", i)},
				Field:      fmt.Sprintf("items[%d].tags", i),
				Value:      "empty",
			}
		}
		for j, t := range item.Tags {
			if t.Key == "" {
				return &ValidationError{
					StoreError: StoreError{Op: "validateTagQuery", Err: fmt.Errorf("item %d has blank tag key", i)},
					Field:      fmt.Sprintf("items[%d].tags[%d].key", i, j),
				}
			}
		}
	}
	return nil
}
