package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

// ErrInvalidFilter indicates a filter document could not be decoded.
var ErrInvalidFilter = errors.New("notebook: invalid filter")

type filterEnvelope struct {
	Op FilterOp        `json:"op"`
	D  json.RawMessage `json:"d"`
}

type textMatchPayload struct {
	Field TextField     `json:"field"`
	Mode  TextMatchMode `json:"mode"`
	Text  string        `json:"text"`
}

type timeRangePayload struct {
	Before *string `json:"before,omitempty"`
	After  *string `json:"after,omitempty"`
}

type locationNearPayload struct {
	Loc *Location `json:"loc"`
	Km  *float64  `json:"km"`
}

func (Anything) payload() any { return nil }

func (f And) payload() any { return nonNilFilters(f.Filters) }

func (f Or) payload() any { return nonNilFilters(f.Filters) }

func (f Not) payload() any { return f.Filter }

func (f HasFields) payload() any {
	if f.Fields == nil {
		return []NoteField{}
	}
	return f.Fields
}

func (f TagsInclude) payload() any {
	if f.Tags == nil {
		return []snowflake.ID{}
	}
	return f.Tags
}

func (f TextMatch) payload() any {
	return textMatchPayload{Field: f.Field, Mode: f.Mode, Text: f.Text}
}

func (f TimeRange) payload() any {
	return timeRangePayload{Before: formatBound(f.Before), After: formatBound(f.After)}
}

func (f LocationNear) payload() any {
	point, km := f.Point, f.Km
	return locationNearPayload{Loc: &point, Km: &km}
}

func (f Anything) MarshalJSON() ([]byte, error)     { return MarshalFilter(f) }
func (f And) MarshalJSON() ([]byte, error)          { return MarshalFilter(f) }
func (f Or) MarshalJSON() ([]byte, error)           { return MarshalFilter(f) }
func (f Not) MarshalJSON() ([]byte, error)          { return MarshalFilter(f) }
func (f HasFields) MarshalJSON() ([]byte, error)    { return MarshalFilter(f) }
func (f TagsInclude) MarshalJSON() ([]byte, error)  { return MarshalFilter(f) }
func (f TextMatch) MarshalJSON() ([]byte, error)    { return MarshalFilter(f) }
func (f TimeRange) MarshalJSON() ([]byte, error)    { return MarshalFilter(f) }
func (f LocationNear) MarshalJSON() ([]byte, error) { return MarshalFilter(f) }

// MarshalFilter encodes a filter tree as {"op": ..., "d": ...}.
func MarshalFilter(filter Filter) ([]byte, error) {
	if filter == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}
	payload, err := json.Marshal(filter.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(filterEnvelope{Op: filter.Op(), D: payload})
}

type filterDecoder func(payload json.RawMessage) (Filter, error)

var filterDecoders map[FilterOp]filterDecoder

func init() {
	filterDecoders = map[FilterOp]filterDecoder{
		FilterOpAnything:     decodeAnything,
		FilterOpAnd:          decodeAnd,
		FilterOpOr:           decodeOr,
		FilterOpNot:          decodeNot,
		FilterOpHasFields:    decodeHasFields,
		FilterOpTagsInclude:  decodeTagsInclude,
		FilterOpTextMatch:    decodeTextMatch,
		FilterOpTimeRange:    decodeTimeRange,
		FilterOpLocationNear: decodeLocationNear,
	}
}

// UnmarshalFilter decodes and validates a filter tree.
func UnmarshalFilter(data []byte) (Filter, error) {
	if isNull(data) {
		return nil, fmt.Errorf("%w: missing filter", ErrInvalidFilter)
	}
	var envelope filterEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	decode, ok := filterDecoders[envelope.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidFilter, envelope.Op)
	}
	filter, err := decode(envelope.D)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, envelope.Op, err)
	}
	return filter, nil
}

func decodeAnything(payload json.RawMessage) (Filter, error) {
	if !isNull(payload) {
		return nil, errors.New("payload must be null")
	}
	return Anything{}, nil
}

func decodeAnd(payload json.RawMessage) (Filter, error) {
	children, err := decodeChildren(payload)
	if err != nil {
		return nil, err
	}
	return And{Filters: children}, nil
}

func decodeOr(payload json.RawMessage) (Filter, error) {
	children, err := decodeChildren(payload)
	if err != nil {
		return nil, err
	}
	return Or{Filters: children}, nil
}

func decodeNot(payload json.RawMessage) (Filter, error) {
	child, err := UnmarshalFilter(payload)
	if err != nil {
		return nil, err
	}
	return Not{Filter: child}, nil
}

func decodeHasFields(payload json.RawMessage) (Filter, error) {
	var fields []NoteField
	if err := decodeArray(payload, &fields); err != nil {
		return nil, err
	}
	return HasFields{Fields: fields}, nil
}

func decodeTagsInclude(payload json.RawMessage) (Filter, error) {
	var tags []snowflake.ID
	if err := decodeArray(payload, &tags); err != nil {
		return nil, err
	}
	return TagsInclude{Tags: tags}, nil
}

func decodeTextMatch(payload json.RawMessage) (Filter, error) {
	var decoded struct {
		Field *TextField     `json:"field"`
		Mode  *TextMatchMode `json:"mode"`
		Text  *string        `json:"text"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	if decoded.Field == nil || decoded.Mode == nil || decoded.Text == nil {
		return nil, errors.New("field, mode and text are required")
	}
	return TextMatch{Field: *decoded.Field, Mode: *decoded.Mode, Text: *decoded.Text}, nil
}

func decodeTimeRange(payload json.RawMessage) (Filter, error) {
	var decoded timeRangePayload
	if isNull(payload) {
		return nil, errors.New("payload must be an object")
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	before, err := parseBound(decoded.Before)
	if err != nil {
		return nil, fmt.Errorf("before: %w", err)
	}
	after, err := parseBound(decoded.After)
	if err != nil {
		return nil, fmt.Errorf("after: %w", err)
	}
	return TimeRange{Before: before, After: after}, nil
}

func decodeLocationNear(payload json.RawMessage) (Filter, error) {
	var decoded locationNearPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	if decoded.Loc == nil || decoded.Km == nil {
		return nil, errors.New("loc and km are required")
	}
	return LocationNear{Point: *decoded.Loc, Km: *decoded.Km}, nil
}

func decodeChildren(payload json.RawMessage) ([]Filter, error) {
	var raws []json.RawMessage
	if err := decodeArray(payload, &raws); err != nil {
		return nil, err
	}
	children := make([]Filter, 0, len(raws))
	for _, raw := range raws {
		child, err := UnmarshalFilter(raw)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func decodeArray(payload json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return errors.New("payload must be an array")
	}
	return json.Unmarshal(trimmed, target)
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nonNilFilters(filters []Filter) []Filter {
	kept := make([]Filter, 0, len(filters))
	for _, filter := range filters {
		if filter != nil {
			kept = append(kept, filter)
		}
	}
	return kept
}

func formatBound(bound *time.Time) *string {
	if bound == nil {
		return nil
	}
	formatted := bound.UTC().Format(time.RFC3339Nano)
	return &formatted
}

func parseBound(bound *string) (*time.Time, error) {
	if bound == nil {
		return nil, nil
	}
	parsed, err := parseTimestamp(*bound)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
