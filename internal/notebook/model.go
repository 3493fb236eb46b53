package notebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

// ObjectType enumerates the kinds of objects kept in a notebook.
type ObjectType string

const (
	// ObjectTypeNote identifies notes.
	ObjectTypeNote ObjectType = "note"
	// ObjectTypeTag identifies tags.
	ObjectTypeTag ObjectType = "tag"
	// ObjectTypeFeed identifies feeds.
	ObjectTypeFeed ObjectType = "feed"
	// ObjectTypeAttachment identifies attachment metadata.
	ObjectTypeAttachment ObjectType = "attachment"
)

var (
	// ErrInvalidObjectType indicates an unknown object type name.
	ErrInvalidObjectType = errors.New("notebook: invalid object type")
	// ErrInvalidValue indicates an enumerated field holds an unknown value.
	ErrInvalidValue = errors.New("notebook: invalid value")
)

// ParseObjectType validates raw input and returns an ObjectType.
func ParseObjectType(rawInput string) (ObjectType, error) {
	switch objType := ObjectType(rawInput); objType {
	case ObjectTypeNote, ObjectTypeTag, ObjectTypeFeed, ObjectTypeAttachment:
		return objType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectType, rawInput)
	}
}

// String returns the stored name of the object type.
func (t ObjectType) String() string {
	return string(t)
}

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WhenPrecision describes how precisely a When should be rendered.
type WhenPrecision string

const (
	WhenPrecisionDate            WhenPrecision = "date"
	WhenPrecisionDateTime        WhenPrecision = "date_time"
	WhenPrecisionDateTimeSeconds WhenPrecision = "date_time_seconds"
)

// UnmarshalJSON rejects unknown precisions.
func (p *WhenPrecision) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, p, WhenPrecisionDate, WhenPrecisionDateTime, WhenPrecisionDateTimeSeconds)
}

// When is a timestamp with rendering semantics attached.
// Timestamp is always a UTC ISO-8601 instant; Timezone is a tz database name.
type When struct {
	Timestamp string        `json:"timestamp"`
	Precision WhenPrecision `json:"precision"`
	Timezone  *string       `json:"timezone,omitzero"`
}

// Instant parses the timestamp.
func (w When) Instant() (time.Time, error) {
	return parseTimestamp(w.Timestamp)
}

// NoteField names an optional note attribute.
type NoteField string

const (
	NoteFieldTitle       NoteField = "title"
	NoteFieldBody        NoteField = "body"
	NoteFieldTags        NoteField = "tags"
	NoteFieldWhen        NoteField = "when"
	NoteFieldLocation    NoteField = "location"
	NoteFieldAttachments NoteField = "attachments"
)

// UnmarshalJSON rejects unknown field names.
func (f *NoteField) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, f,
		NoteFieldTitle, NoteFieldBody, NoteFieldTags, NoteFieldWhen, NoteFieldLocation, NoteFieldAttachments)
}

// NoteFields holds the sparse attributes of a note. A nil pointer or nil slice
// means the attribute is absent; an empty string or empty slice is present.
type NoteFields struct {
	Title       *string        `json:"title,omitzero"`
	Body        *string        `json:"body,omitzero"`
	Tags        []snowflake.ID `json:"tags,omitzero"`
	When        *When          `json:"when,omitzero"`
	Location    *Location      `json:"location,omitzero"`
	Attachments []snowflake.ID `json:"attachments,omitzero"`
}

// Has reports whether the named attribute is present.
func (f NoteFields) Has(field NoteField) bool {
	switch field {
	case NoteFieldTitle:
		return f.Title != nil
	case NoteFieldBody:
		return f.Body != nil
	case NoteFieldTags:
		return f.Tags != nil
	case NoteFieldWhen:
		return f.When != nil
	case NoteFieldLocation:
		return f.Location != nil
	case NoteFieldAttachments:
		return f.Attachments != nil
	default:
		return false
	}
}

// Note is a single notebook entry.
type Note struct {
	ID             snowflake.ID `json:"id"`
	Fields         NoteFields   `json:"fields"`
	CreatedAt      string       `json:"created_at"`
	LastModifiedAt string       `json:"last_modified_at"`
}

func (n Note) objectID() snowflake.ID {
	return n.ID
}

func (n Note) clone() Note {
	copied := n
	copied.Fields.Title = clonePointer(n.Fields.Title)
	copied.Fields.Body = clonePointer(n.Fields.Body)
	copied.Fields.Tags = slices.Clone(n.Fields.Tags)
	copied.Fields.Location = clonePointer(n.Fields.Location)
	copied.Fields.Attachments = slices.Clone(n.Fields.Attachments)
	if n.Fields.When != nil {
		when := *n.Fields.When
		when.Timezone = clonePointer(n.Fields.When.Timezone)
		copied.Fields.When = &when
	}
	return copied
}

// Tag labels notes. Names use alphanumerics, dashes, and slashes for components.
type Tag struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}

func (t Tag) objectID() snowflake.ID {
	return t.ID
}

func (t Tag) clone() Tag {
	return t
}

// Attachment describes a file attached to notes. Contents live outside the notebook.
type Attachment struct {
	ID          snowflake.ID `json:"id"`
	Hash        string       `json:"hash"`
	Filename    *string      `json:"filename"`
	ContentType string       `json:"content_type"`
	Width       *int64       `json:"width"`
	Height      *int64       `json:"height"`
	Duration    *float64     `json:"duration"`
}

func (a Attachment) objectID() snowflake.ID {
	return a.ID
}

func (a Attachment) clone() Attachment {
	copied := a
	copied.Filename = clonePointer(a.Filename)
	copied.Width = clonePointer(a.Width)
	copied.Height = clonePointer(a.Height)
	copied.Duration = clonePointer(a.Duration)
	return copied
}

// FeedOrigin selects where a feed opens by default.
type FeedOrigin string

const (
	FeedOriginStart FeedOrigin = "start"
	FeedOriginEnd   FeedOrigin = "end"
)

// UnmarshalJSON rejects unknown origins.
func (o *FeedOrigin) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, o, FeedOriginStart, FeedOriginEnd)
}

// Feed is a saved query over notes.
type Feed struct {
	ID       snowflake.ID `json:"id"`
	Name     string       `json:"name"`
	Filter   Filter       `json:"filter"`
	Origin   FeedOrigin   `json:"origin"`
	Ordering Ordering     `json:"ordering"`
}

type feedWire struct {
	ID       snowflake.ID    `json:"id"`
	Name     string          `json:"name"`
	Filter   json.RawMessage `json:"filter"`
	Origin   FeedOrigin      `json:"origin"`
	Ordering Ordering        `json:"ordering"`
}

// MarshalJSON encodes the filter tree in its tagged form.
func (f Feed) MarshalJSON() ([]byte, error) {
	filter := f.Filter
	if filter == nil {
		filter = Anything{}
	}
	encodedFilter, err := MarshalFilter(filter)
	if err != nil {
		return nil, err
	}
	ordering := f.Ordering
	if ordering == nil {
		ordering = Ordering{}
	}
	return json.Marshal(feedWire{
		ID:       f.ID,
		Name:     f.Name,
		Filter:   encodedFilter,
		Origin:   f.Origin,
		Ordering: ordering,
	})
}

// UnmarshalJSON decodes and validates the filter tree.
func (f *Feed) UnmarshalJSON(data []byte) error {
	var wire feedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	filter, err := UnmarshalFilter(wire.Filter)
	if err != nil {
		return err
	}
	*f = Feed{
		ID:       wire.ID,
		Name:     wire.Name,
		Filter:   filter,
		Origin:   wire.Origin,
		Ordering: wire.Ordering,
	}
	return nil
}

func (f Feed) objectID() snowflake.ID {
	return f.ID
}

func (f Feed) clone() Feed {
	copied := f
	copied.Ordering = slices.Clone(f.Ordering)
	return copied
}

// OplogEntry records one mutation. Nil Data marks a deletion.
type OplogEntry struct {
	ID      snowflake.ID
	ObjID   snowflake.ID
	ObjType ObjectType
	Data    []byte
}

// Deleted reports whether the entry records a deletion.
func (e OplogEntry) Deleted() bool {
	return e.Data == nil
}

// Snapshot is the latest serialized state of one live object.
type Snapshot struct {
	ObjID   snowflake.ID
	ObjType ObjectType
	Data    []byte
}

func clonePointer[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func unmarshalEnum[T ~string](data []byte, target *T, allowed ...T) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value := T(raw)
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	*target = value
	return nil
}

// parseTimestamp accepts RFC 3339 instants and bare dates.
func parseTimestamp(rawInput string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339Nano, rawInput); err == nil {
		return parsed, nil
	}
	return time.Parse(time.DateOnly, rawInput)
}
