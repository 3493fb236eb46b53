package notebook

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

func orderingFixtures() []Note {
	withWhen := func(note Note, timestamp string) Note {
		note.Fields.When = &When{Timestamp: timestamp, Precision: WhenPrecisionDateTime}
		return note
	}
	untitled := Note{ID: 6, CreatedAt: "2026-03-01T12:00:00Z", LastModifiedAt: "2026-03-01T12:00:00Z"}
	older := noteWithTitle(7, "beta")
	older.CreatedAt = "2026-02-20T08:00:00Z"
	return []Note{
		withWhen(noteWithTitle(1, "beta"), "2026-03-05T10:00:00Z"),
		withWhen(noteWithTitle(2, "alpha"), "2026-03-06T10:00:00Z"),
		noteWithTitle(3, "gamma"),
		withWhen(noteWithTitle(4, "alpha"), "2026-03-04T10:00:00Z"),
		noteWithTitle(5, "beta"),
		untitled,
		older,
	}
}

func TestSortNotes(t *testing.T) {
	tests := []struct {
		name     string
		ordering Ordering
		expected []snowflake.ID
	}{
		{
			name:     "no keys falls back to created_at then id",
			ordering: nil,
			expected: []snowflake.ID{7, 1, 2, 3, 4, 5, 6},
		},
		{
			name:     "title ascending with absent first",
			ordering: Ordering{{Field: OrderableFieldTitle, Direction: Ascending}},
			expected: []snowflake.ID{6, 2, 4, 7, 1, 5, 3},
		},
		{
			name:     "title descending keeps absent first",
			ordering: Ordering{{Field: OrderableFieldTitle, Direction: Descending}},
			expected: []snowflake.ID{6, 3, 7, 1, 5, 2, 4},
		},
		{
			name: "when descending then title",
			ordering: Ordering{
				{Field: OrderableFieldWhen, Direction: Descending},
				{Field: OrderableFieldTitle, Direction: Ascending},
			},
			expected: []snowflake.ID{6, 7, 5, 3, 2, 1, 4},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			notes := orderingFixtures()
			SortNotes(notes, testCase.ordering)
			if ids := noteIDs(notes); !slices.Equal(ids, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, ids)
			}
		})
	}
}

func TestCompareNotesIsATotalOrder(t *testing.T) {
	orderings := []Ordering{
		nil,
		{{Field: OrderableFieldTitle, Direction: Ascending}},
		{{Field: OrderableFieldWhen, Direction: Descending}, {Field: OrderableFieldBody, Direction: Ascending}},
	}
	notes := orderingFixtures()

	for _, ordering := range orderings {
		for _, a := range notes {
			if CompareNotes(a, a, ordering) != 0 {
				t.Fatalf("note %s does not compare equal to itself", a.ID)
			}
			for _, b := range notes {
				ab := CompareNotes(a, b, ordering)
				if ab != -CompareNotes(b, a, ordering) {
					t.Fatalf("comparison of %s and %s is not antisymmetric", a.ID, b.ID)
				}
				if a.ID != b.ID && ab == 0 {
					t.Fatalf("distinct notes %s and %s compare equal", a.ID, b.ID)
				}
				for _, c := range notes {
					if ab < 0 && CompareNotes(b, c, ordering) < 0 && CompareNotes(a, c, ordering) >= 0 {
						t.Fatalf("comparison of %s, %s, %s is not transitive", a.ID, b.ID, c.ID)
					}
				}
			}
		}
	}
}

func TestOrderingDecodeRejectsUnknownValues(t *testing.T) {
	var ordering Ordering
	if err := json.Unmarshal([]byte(`[{"field":"tags","direction":"asc"}]`), &ordering); err == nil {
		t.Fatalf("expected error for unorderable field")
	}
	if err := json.Unmarshal([]byte(`[{"field":"title","direction":"up"}]`), &ordering); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
	if err := json.Unmarshal([]byte(`[{"field":"when","direction":"desc"}]`), &ordering); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
}
