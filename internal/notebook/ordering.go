package notebook

import (
	"cmp"
	"slices"
)

// OrderableField names a note attribute feeds can sort by.
type OrderableField string

const (
	OrderableFieldTitle OrderableField = "title"
	OrderableFieldBody  OrderableField = "body"
	OrderableFieldWhen  OrderableField = "when"
)

// UnmarshalJSON rejects fields that cannot be ordered.
func (f *OrderableField) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, f, OrderableFieldTitle, OrderableFieldBody, OrderableFieldWhen)
}

// Direction is the sort direction of one ordering key.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// UnmarshalJSON rejects unknown directions.
func (d *Direction) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, d, Ascending, Descending)
}

// OrderingComponent is one sort key.
type OrderingComponent struct {
	Field     OrderableField `json:"field"`
	Direction Direction      `json:"direction"`
}

// Ordering is a list of sort keys applied in sequence.
type Ordering []OrderingComponent

// CompareNotes orders two notes by the keys of ordering, then by creation
// time, then by id. A note missing a key's field sorts before one that has
// it, whatever the direction.
func CompareNotes(lhs, rhs Note, ordering Ordering) int {
	for _, component := range ordering {
		lhsValue, lhsOK := orderableValue(lhs, component.Field)
		rhsValue, rhsOK := orderableValue(rhs, component.Field)

		switch {
		case !lhsOK && !rhsOK:
			continue
		case !lhsOK:
			return -1
		case !rhsOK:
			return 1
		}

		result := cmp.Compare(lhsValue, rhsValue)
		if result == 0 {
			continue
		}
		if component.Direction == Descending {
			return -result
		}
		return result
	}

	if result := cmp.Compare(lhs.CreatedAt, rhs.CreatedAt); result != 0 {
		return result
	}
	return cmp.Compare(lhs.ID, rhs.ID)
}

// SortNotes sorts notes in place by ordering.
func SortNotes(notes []Note, ordering Ordering) {
	slices.SortStableFunc(notes, func(lhs, rhs Note) int {
		return CompareNotes(lhs, rhs, ordering)
	})
}

func orderableValue(note Note, field OrderableField) (string, bool) {
	switch field {
	case OrderableFieldTitle:
		if note.Fields.Title == nil {
			return "", false
		}
		return *note.Fields.Title, true
	case OrderableFieldBody:
		if note.Fields.Body == nil {
			return "", false
		}
		return *note.Fields.Body, true
	case OrderableFieldWhen:
		if note.Fields.When == nil {
			return "", false
		}
		return note.Fields.When.Timestamp, true
	default:
		return "", false
	}
}
