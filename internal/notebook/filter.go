package notebook

import (
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FilterOp names a filter variant on the wire.
type FilterOp string

const (
	FilterOpAnything     FilterOp = "anything"
	FilterOpAnd          FilterOp = "and"
	FilterOpOr           FilterOp = "or"
	FilterOpNot          FilterOp = "not"
	FilterOpHasFields    FilterOp = "has_fields"
	FilterOpTagsInclude  FilterOp = "tags_include"
	FilterOpTextMatch    FilterOp = "text_match"
	FilterOpTimeRange    FilterOp = "time_range"
	FilterOpLocationNear FilterOp = "location_near"
)

// Filter is a predicate over notes. The set of implementations is closed:
// every variant lives in this package.
type Filter interface {
	// Matches reports whether the note passes the filter. A variant whose
	// field is absent on the note does not match.
	Matches(note Note) bool
	// Op returns the wire name of the variant.
	Op() FilterOp

	payload() any
}

// Anything always passes.
type Anything struct{}

// And passes when every child passes. An empty And passes. Nil children are
// skipped.
type And struct {
	Filters []Filter
}

// Or passes when any child passes. An empty Or fails. Nil children are
// skipped.
type Or struct {
	Filters []Filter
}

// Not inverts its child.
type Not struct {
	Filter Filter
}

// HasFields passes when every named field is present.
type HasFields struct {
	Fields []NoteField
}

// TagsInclude passes when the note carries every listed tag.
type TagsInclude struct {
	Tags []snowflake.ID
}

// TextField names a text attribute that can be matched.
type TextField string

const (
	TextFieldTitle TextField = "title"
	TextFieldBody  TextField = "body"
)

// UnmarshalJSON rejects fields that are not text.
func (f *TextField) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, f, TextFieldTitle, TextFieldBody)
}

// TextMatchMode selects how TextMatch compares.
type TextMatchMode string

const (
	// TextMatchLeft matches from the start of the field.
	TextMatchLeft TextMatchMode = "left"
	// TextMatchContains matches a contiguous substring anywhere in the field.
	TextMatchContains TextMatchMode = "contains"
)

// UnmarshalJSON rejects unknown modes.
func (m *TextMatchMode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, m, TextMatchLeft, TextMatchContains)
}

// TextMatch compares a text field case-insensitively.
type TextMatch struct {
	Field TextField
	Mode  TextMatchMode
	Text  string
}

// TimeRange passes when the note's when falls strictly between the bounds.
// A nil bound leaves that side open.
type TimeRange struct {
	Before *time.Time
	After  *time.Time
}

// LocationNear passes when the note lies within Km kilometres of Point.
type LocationNear struct {
	Point Location
	Km    float64
}

func (Anything) Matches(Note) bool { return true }

func (f And) Matches(note Note) bool {
	for _, child := range f.Filters {
		if child != nil && !child.Matches(note) {
			return false
		}
	}
	return true
}

func (f Or) Matches(note Note) bool {
	for _, child := range f.Filters {
		if child != nil && child.Matches(note) {
			return true
		}
	}
	return false
}

func (f Not) Matches(note Note) bool {
	if f.Filter == nil {
		return false
	}
	return !f.Filter.Matches(note)
}

func (f HasFields) Matches(note Note) bool {
	for _, field := range f.Fields {
		if !note.Fields.Has(field) {
			return false
		}
	}
	return true
}

func (f TagsInclude) Matches(note Note) bool {
	if note.Fields.Tags == nil {
		return false
	}
	for _, tagID := range f.Tags {
		if !slices.Contains(note.Fields.Tags, tagID) {
			return false
		}
	}
	return true
}

func (f TextMatch) Matches(note Note) bool {
	var value *string
	switch f.Field {
	case TextFieldTitle:
		value = note.Fields.Title
	case TextFieldBody:
		value = note.Fields.Body
	}
	if value == nil {
		return false
	}
	haystack := lowercase(*value)
	needle := lowercase(f.Text)
	switch f.Mode {
	case TextMatchLeft:
		return strings.HasPrefix(haystack, needle)
	case TextMatchContains:
		return strings.Contains(haystack, needle)
	default:
		return false
	}
}

func (f TimeRange) Matches(note Note) bool {
	if note.Fields.When == nil {
		return false
	}
	instant, err := note.Fields.When.Instant()
	if err != nil {
		return false
	}
	if f.Before != nil && !instant.Before(*f.Before) {
		return false
	}
	if f.After != nil && !instant.After(*f.After) {
		return false
	}
	return true
}

func (f LocationNear) Matches(note Note) bool {
	if note.Fields.Location == nil {
		return false
	}
	meters := distanceMeters(*note.Fields.Location, f.Point)
	return meters <= f.Km*1000
}

func (Anything) Op() FilterOp     { return FilterOpAnything }
func (And) Op() FilterOp          { return FilterOpAnd }
func (Or) Op() FilterOp           { return FilterOpOr }
func (Not) Op() FilterOp          { return FilterOpNot }
func (HasFields) Op() FilterOp    { return FilterOpHasFields }
func (TagsInclude) Op() FilterOp  { return FilterOpTagsInclude }
func (TextMatch) Op() FilterOp    { return FilterOpTextMatch }
func (TimeRange) Op() FilterOp    { return FilterOpTimeRange }
func (LocationNear) Op() FilterOp { return FilterOpLocationNear }

// FilterNotes returns the notes that pass filter, in input order.
// A nil filter passes every note.
func FilterNotes(notes []Note, filter Filter) []Note {
	if filter == nil {
		filter = Anything{}
	}
	matched := make([]Note, 0, len(notes))
	for _, note := range notes {
		if filter.Matches(note) {
			matched = append(matched, note)
		}
	}
	return matched
}

func lowercase(value string) string {
	// Casers carry state, so one is built per call.
	return cases.Lower(language.Und).String(value)
}
