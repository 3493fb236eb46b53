package notebook

import (
	"context"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

// Backend is the durable store behind a Notebook: a snapshot table keyed by
// object id and an append-only log table.
type Backend interface {
	// PutSnapshot inserts or overwrites the snapshot row for objID.
	PutSnapshot(ctx context.Context, objID snowflake.ID, objType ObjectType, data []byte) error
	// DeleteSnapshot removes the snapshot row for objID if present.
	DeleteSnapshot(ctx context.Context, objID snowflake.ID) error
	// ListSnapshots returns every snapshot row.
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	// AppendLog inserts a log row. Nil data records a deletion. It fails if
	// entryID already exists.
	AppendLog(ctx context.Context, entryID, objID snowflake.ID, objType ObjectType, data []byte) error
}

// Transactor is implemented by backends that can run several calls atomically.
// When the backend of a Notebook implements it, the log append and snapshot
// write of one put or delete commit together.
type Transactor interface {
	Atomically(ctx context.Context, fn func(Backend) error) error
}

// IDGenerator issues oplog entry identifiers.
type IDGenerator interface {
	Generate() (snowflake.ID, error)
}

// HistoryReader is implemented by backends that can return the newest log
// entry for an id. A Notebook consults it before writing an id that is not
// live, so deleted ids stay retired across restarts.
type HistoryReader interface {
	LatestEntry(ctx context.Context, objID snowflake.ID) (OplogEntry, bool, error)
}
