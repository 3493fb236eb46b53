// Package snowflake issues time-ordered 64-bit identifiers.
//
// An ID packs a millisecond timestamp relative to Epoch into the upper 42 bits
// and a per-millisecond sequence counter into the lower 10 bits:
//
//	(timestamp << 10) | sequence
//
// IDs issued by one Generator are strictly increasing, so they sort in creation order.
package snowflake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	sequenceBits  = 10
	timestampBits = 42

	// MaxSequence is the largest sequence value within one millisecond.
	MaxSequence = (1 << sequenceBits) - 1
	// MaxTimestamp is the largest relative timestamp representable in an ID.
	MaxTimestamp = (1 << timestampBits) - 1
)

// Epoch is the instant relative timestamps are measured from.
var Epoch = time.Date(2026, time.February, 16, 0, 0, 0, 0, time.UTC)

var (
	// ErrClockRegression indicates the wall clock moved backwards between two calls.
	ErrClockRegression = errors.New("snowflake: clock moved backwards")
	// ErrTimestampOverflow indicates the relative timestamp left the 42-bit range.
	ErrTimestampOverflow = errors.New("snowflake: timestamp overflow")
	// ErrInvalidID indicates a textual identifier could not be parsed.
	ErrInvalidID = errors.New("snowflake: invalid id")
)

// ID is a time-sortable unique identifier.
type ID int64

// ParseID parses the decimal form produced by ID.String.
func ParseID(rawInput string) (ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(rawInput), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, rawInput)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: negative", ErrInvalidID)
	}
	return ID(value), nil
}

// String returns the decimal representation of the identifier.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 exposes the raw identifier value.
func (id ID) Int64() int64 {
	return int64(id)
}

// Time returns the instant the identifier was issued at, to the millisecond.
func (id ID) Time() time.Time {
	return Parse(id).Time()
}

// Parts holds the decoded components of an ID.
type Parts struct {
	Timestamp int64
	Sequence  int64
}

// Time converts the relative timestamp back to an absolute instant.
func (p Parts) Time() time.Time {
	return Epoch.Add(time.Duration(p.Timestamp) * time.Millisecond)
}

// Parse splits an identifier into its timestamp and sequence.
func Parse(id ID) Parts {
	return Parts{
		Timestamp: int64(id) >> sequenceBits,
		Sequence:  int64(id) & MaxSequence,
	}
}

// Config configures a Generator.
type Config struct {
	Clock func() time.Time
}

// Generator issues IDs. A process should route every caller through one Generator.
type Generator struct {
	mu            sync.Mutex
	clock         func() time.Time
	lastTimestamp int64
	sequence      int64
}

// NewGenerator constructs a Generator reading time from cfg.Clock (time.Now by default).
func NewGenerator(cfg Config) *Generator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		clock:         clock,
		lastTimestamp: -1,
	}
}

// Generate returns the next identifier. Errors are fatal: the caller must not retry.
func (g *Generator) Generate() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.currentTimestamp()
	if timestamp < 0 {
		return 0, fmt.Errorf("%w: clock is before epoch", ErrTimestampOverflow)
	}
	if timestamp < g.lastTimestamp {
		return 0, fmt.Errorf("%w: %dms behind last issued id", ErrClockRegression, g.lastTimestamp-timestamp)
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & MaxSequence
		if g.sequence == 0 {
			timestamp = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = timestamp

	if timestamp > MaxTimestamp {
		return 0, fmt.Errorf("%w: %d", ErrTimestampOverflow, timestamp)
	}

	return ID(timestamp<<sequenceBits | g.sequence), nil
}

func (g *Generator) currentTimestamp() int64 {
	return g.clock().UnixMilli() - Epoch.UnixMilli()
}

// waitNextMillis spins until the clock passes lastTimestamp.
func (g *Generator) waitNextMillis(lastTimestamp int64) int64 {
	timestamp := g.currentTimestamp()
	for timestamp <= lastTimestamp {
		timestamp = g.currentTimestamp()
	}
	return timestamp
}
