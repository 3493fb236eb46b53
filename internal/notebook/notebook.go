// Package notebook keeps the in-memory view of every live note, tag, feed and
// attachment, persists each mutation through a Backend, and answers filtered
// and ordered queries from memory.
//
// Every put or delete appends an oplog entry and then writes or removes the
// object's snapshot row; memory is updated only after both succeed. At startup
// Initialize rebuilds memory from the snapshot rows.
package notebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates no live object has the requested id.
	ErrNotFound = errors.New("notebook: not found")
	// ErrFeedNotFound indicates a feed lookup missed.
	ErrFeedNotFound = fmt.Errorf("%w: feed", ErrNotFound)
	// ErrDurabilityFailure wraps backend failures inside put and delete.
	ErrDurabilityFailure = errors.New("notebook: durability failure")
	// ErrTypeMismatch indicates an id already belongs to another kind of
	// object, live or deleted.
	ErrTypeMismatch = errors.New("notebook: object type mismatch")
	// ErrDeletedID indicates a put of an id whose object was deleted.
	ErrDeletedID = errors.New("notebook: id was deleted")
	// ErrNotInitialized indicates a write before Initialize.
	ErrNotInitialized = errors.New("notebook: not initialized")
	// ErrAlreadyInitialized indicates Initialize ran twice.
	ErrAlreadyInitialized = errors.New("notebook: already initialized")

	errMissingBackend     = errors.New("backend is required")
	errMissingIDGenerator = errors.New("id generator is required")
	noOpLogger            = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opNew              = "notebook.new"
	opInitialize       = "notebook.initialize"
	opFeedContents     = "notebook.feed_contents"
	opPutNote          = "notebook.put_note"
	opDeleteNote       = "notebook.delete_note"
	opPutTag           = "notebook.put_tag"
	opDeleteTag        = "notebook.delete_tag"
	opPutFeed          = "notebook.put_feed"
	opDeleteFeed       = "notebook.delete_feed"
	opPutAttachment    = "notebook.put_attachment"
	opDeleteAttachment = "notebook.delete_attachment"

	reasonMissingBackend       = "missing_backend"
	reasonMissingIDGenerator   = "missing_id_generator"
	reasonNotInitialized       = "not_initialized"
	reasonAlreadyInitialized   = "already_initialized"
	reasonSnapshotListFailed   = "snapshot_list_failed"
	reasonSnapshotDecodeFailed = "snapshot_decode_failed"
	reasonEncodeFailed         = "encode_failed"
	reasonIDGenerationFailed   = "id_generation_failed"
	reasonLogAppendFailed      = "log_append_failed"
	reasonSnapshotWriteFailed  = "snapshot_write_failed"
	reasonSnapshotDeleteFailed = "snapshot_delete_failed"
	reasonCommitFailed         = "commit_failed"
	reasonNotFound             = "not_found"
	reasonTypeMismatch         = "type_mismatch"
	reasonDeletedID            = "deleted_id"
	reasonHistoryLookupFailed  = "history_lookup_failed"

	fieldObjID   = "obj_id"
	fieldObjType = "obj_type"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type Config struct {
	Backend Backend
	IDs     IDGenerator
	Logger  *zap.Logger
}

// Notebook owns the in-memory object maps. Mutations are serialized; reads
// only wait for the map lock, never for backend I/O.
type Notebook struct {
	backend Backend
	ids     IDGenerator
	logger  *zap.Logger

	writeMu     sync.Mutex
	mu          sync.RWMutex
	initialized bool
	notes       map[snowflake.ID]Note
	tags        map[snowflake.ID]Tag
	feeds       map[snowflake.ID]Feed
	attachments map[snowflake.ID]Attachment

	// retired holds ids deleted by this process, with their kind.
	retired map[snowflake.ID]ObjectType
}

func New(cfg Config) (*Notebook, error) {
	if cfg.Backend == nil {
		return nil, newServiceError(opNew, reasonMissingBackend, errMissingBackend)
	}
	if cfg.IDs == nil {
		return nil, newServiceError(opNew, reasonMissingIDGenerator, errMissingIDGenerator)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Notebook{
		backend:     cfg.Backend,
		ids:         cfg.IDs,
		logger:      logger,
		notes:       make(map[snowflake.ID]Note),
		tags:        make(map[snowflake.ID]Tag),
		feeds:       make(map[snowflake.ID]Feed),
		attachments: make(map[snowflake.ID]Attachment),
		retired:     make(map[snowflake.ID]ObjectType),
	}, nil
}

// Initialize loads every snapshot row into memory. It must run exactly once,
// before any write.
func (n *Notebook) Initialize(ctx context.Context) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if n.isInitialized() {
		return newServiceError(opInitialize, reasonAlreadyInitialized, ErrAlreadyInitialized)
	}

	snapshots, err := n.backend.ListSnapshots(ctx)
	if err != nil {
		n.logError(opInitialize, reasonSnapshotListFailed, err)
		return newServiceError(opInitialize, reasonSnapshotListFailed, err)
	}

	notes := make(map[snowflake.ID]Note)
	tags := make(map[snowflake.ID]Tag)
	feeds := make(map[snowflake.ID]Feed)
	attachments := make(map[snowflake.ID]Attachment)
	for _, snapshot := range snapshots {
		var decodeErr error
		switch snapshot.ObjType {
		case ObjectTypeNote:
			decodeErr = decodeInto(snapshot, notes)
		case ObjectTypeTag:
			decodeErr = decodeInto(snapshot, tags)
		case ObjectTypeFeed:
			decodeErr = decodeInto(snapshot, feeds)
		case ObjectTypeAttachment:
			decodeErr = decodeInto(snapshot, attachments)
		default:
			decodeErr = fmt.Errorf("%w: %q", ErrInvalidObjectType, snapshot.ObjType)
		}
		if decodeErr != nil {
			n.logError(opInitialize, reasonSnapshotDecodeFailed, decodeErr,
				zap.Int64(fieldObjID, snapshot.ObjID.Int64()),
				zap.String(fieldObjType, snapshot.ObjType.String()))
			return newServiceError(opInitialize, reasonSnapshotDecodeFailed, decodeErr)
		}
	}

	n.mu.Lock()
	n.notes, n.tags, n.feeds, n.attachments = notes, tags, feeds, attachments
	n.initialized = true
	n.mu.Unlock()

	n.logger.Info("loaded persisted objects",
		zap.Int("objects", len(snapshots)),
		zap.Int("notes", len(notes)),
		zap.Int("tags", len(tags)),
		zap.Int("feeds", len(feeds)),
		zap.Int("attachments", len(attachments)))
	return nil
}

// Notes returns every live note ordered by id.
func (n *Notebook) Notes() []Note {
	return listObjects(n, n.notesTable)
}

// Note returns the note with the given id.
func (n *Notebook) Note(id snowflake.ID) (Note, bool) {
	return getObject(n, n.notesTable, id)
}

// FilterNotes returns the live notes that pass filter, ordered by id.
func (n *Notebook) FilterNotes(filter Filter) []Note {
	return FilterNotes(n.Notes(), filter)
}

// PutNote creates or replaces a note.
func (n *Notebook) PutNote(ctx context.Context, note Note) error {
	return putObject(ctx, n, opPutNote, ObjectTypeNote, note, n.notesTable)
}

// DeleteNote removes a live note.
func (n *Notebook) DeleteNote(ctx context.Context, id snowflake.ID) error {
	return deleteObject(ctx, n, opDeleteNote, ObjectTypeNote, id, n.notesTable)
}

// Tags returns every live tag ordered by id.
func (n *Notebook) Tags() []Tag {
	return listObjects(n, n.tagsTable)
}

// Tag returns the tag with the given id.
func (n *Notebook) Tag(id snowflake.ID) (Tag, bool) {
	return getObject(n, n.tagsTable, id)
}

// PutTag creates or replaces a tag.
func (n *Notebook) PutTag(ctx context.Context, tag Tag) error {
	return putObject(ctx, n, opPutTag, ObjectTypeTag, tag, n.tagsTable)
}

// DeleteTag removes a live tag.
func (n *Notebook) DeleteTag(ctx context.Context, id snowflake.ID) error {
	return deleteObject(ctx, n, opDeleteTag, ObjectTypeTag, id, n.tagsTable)
}

// Feeds returns every live feed ordered by id.
func (n *Notebook) Feeds() []Feed {
	return listObjects(n, n.feedsTable)
}

// Feed returns the feed with the given id.
func (n *Notebook) Feed(id snowflake.ID) (Feed, bool) {
	return getObject(n, n.feedsTable, id)
}

// FeedContents returns the notes matching the feed's filter, sorted by its
// ordering. The result is recomputed on every call.
func (n *Notebook) FeedContents(feedID snowflake.ID) ([]Note, error) {
	feed, ok := n.Feed(feedID)
	if !ok {
		return nil, newServiceError(opFeedContents, reasonNotFound, fmt.Errorf("%w %s", ErrFeedNotFound, feedID))
	}
	contents := n.FilterNotes(feed.Filter)
	SortNotes(contents, feed.Ordering)
	return contents, nil
}

// PutFeed creates or replaces a feed.
func (n *Notebook) PutFeed(ctx context.Context, feed Feed) error {
	return putObject(ctx, n, opPutFeed, ObjectTypeFeed, feed, n.feedsTable)
}

// DeleteFeed removes a live feed.
func (n *Notebook) DeleteFeed(ctx context.Context, id snowflake.ID) error {
	return deleteObject(ctx, n, opDeleteFeed, ObjectTypeFeed, id, n.feedsTable)
}

// Attachments returns every live attachment ordered by id.
func (n *Notebook) Attachments() []Attachment {
	return listObjects(n, n.attachmentsTable)
}

// Attachment returns the attachment with the given id.
func (n *Notebook) Attachment(id snowflake.ID) (Attachment, bool) {
	return getObject(n, n.attachmentsTable, id)
}

// PutAttachment creates or replaces attachment metadata.
func (n *Notebook) PutAttachment(ctx context.Context, attachment Attachment) error {
	return putObject(ctx, n, opPutAttachment, ObjectTypeAttachment, attachment, n.attachmentsTable)
}

// DeleteAttachment removes live attachment metadata.
func (n *Notebook) DeleteAttachment(ctx context.Context, id snowflake.ID) error {
	return deleteObject(ctx, n, opDeleteAttachment, ObjectTypeAttachment, id, n.attachmentsTable)
}

// The table accessors must be called with n.mu held.
func (n *Notebook) notesTable() map[snowflake.ID]Note             { return n.notes }
func (n *Notebook) tagsTable() map[snowflake.ID]Tag               { return n.tags }
func (n *Notebook) feedsTable() map[snowflake.ID]Feed             { return n.feeds }
func (n *Notebook) attachmentsTable() map[snowflake.ID]Attachment { return n.attachments }

type object[T any] interface {
	objectID() snowflake.ID
	clone() T
}

func listObjects[T object[T]](n *Notebook, table func() map[snowflake.ID]T) []T {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(table()))
	values := make([]T, 0, len(ids))
	for _, id := range ids {
		values = append(values, table()[id].clone())
	}
	return values
}

func getObject[T object[T]](n *Notebook, table func() map[snowflake.ID]T, id snowflake.ID) (T, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	value, ok := table()[id]
	if !ok {
		var zero T
		return zero, false
	}
	return value.clone(), true
}

func putObject[T object[T]](ctx context.Context, n *Notebook, operation string, objType ObjectType, value T, table func() map[snowflake.ID]T) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	objID := value.objectID()
	if err := n.checkWritable(ctx, operation, objType, objID); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		n.logError(operation, reasonEncodeFailed, err, zap.Int64(fieldObjID, objID.Int64()))
		return newServiceError(operation, reasonEncodeFailed, err)
	}

	if err := n.persist(ctx, operation, objType, objID, data); err != nil {
		return err
	}

	n.mu.Lock()
	table()[objID] = value.clone()
	n.mu.Unlock()
	return nil
}

func deleteObject[T object[T]](ctx context.Context, n *Notebook, operation string, objType ObjectType, objID snowflake.ID, table func() map[snowflake.ID]T) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if !n.isInitialized() {
		return newServiceError(operation, reasonNotInitialized, ErrNotInitialized)
	}

	n.mu.RLock()
	_, live := table()[objID]
	n.mu.RUnlock()
	if !live {
		return newServiceError(operation, reasonNotFound, fmt.Errorf("%w: %s %s", ErrNotFound, objType, objID))
	}

	if err := n.persist(ctx, operation, objType, objID, nil); err != nil {
		return err
	}

	n.mu.Lock()
	delete(table(), objID)
	n.retired[objID] = objType
	n.mu.Unlock()
	return nil
}

// persist appends the oplog entry and then writes (data != nil) or removes
// (data == nil) the snapshot row.
func (n *Notebook) persist(ctx context.Context, operation string, objType ObjectType, objID snowflake.ID, data []byte) error {
	fields := []zap.Field{
		zap.Int64(fieldObjID, objID.Int64()),
		zap.String(fieldObjType, objType.String()),
	}

	entryID, err := n.ids.Generate()
	if err != nil {
		n.logError(operation, reasonIDGenerationFailed, err, fields...)
		return newServiceError(operation, reasonIDGenerationFailed, err)
	}

	write := func(backend Backend) error {
		if err := backend.AppendLog(ctx, entryID, objID, objType, data); err != nil {
			return n.durabilityError(operation, reasonLogAppendFailed, err, fields)
		}
		if data == nil {
			if err := backend.DeleteSnapshot(ctx, objID); err != nil {
				return n.durabilityError(operation, reasonSnapshotDeleteFailed, err, fields)
			}
			return nil
		}
		if err := backend.PutSnapshot(ctx, objID, objType, data); err != nil {
			return n.durabilityError(operation, reasonSnapshotWriteFailed, err, fields)
		}
		return nil
	}

	transactor, ok := n.backend.(Transactor)
	if !ok {
		return write(n.backend)
	}
	if err := transactor.Atomically(ctx, write); err != nil {
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return err
		}
		return n.durabilityError(operation, reasonCommitFailed, err, fields)
	}
	return nil
}

func (n *Notebook) durabilityError(operation, reason string, cause error, fields []zap.Field) error {
	n.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrDurabilityFailure, cause))
}

// checkWritable rejects writes before Initialize, ids owned by another kind,
// and ids whose object was deleted. Ids that are not live are looked up in the
// backend history when the backend is a HistoryReader.
func (n *Notebook) checkWritable(ctx context.Context, operation string, objType ObjectType, objID snowflake.ID) error {
	n.mu.RLock()
	initialized := n.initialized
	owner, live := n.ownerOf(objID)
	retiredType, retired := n.retired[objID]
	n.mu.RUnlock()

	if !initialized {
		return newServiceError(operation, reasonNotInitialized, ErrNotInitialized)
	}
	if live {
		if owner != objType {
			return n.typeMismatch(operation, objID, owner)
		}
		return nil
	}

	if !retired {
		reader, ok := n.backend.(HistoryReader)
		if !ok {
			return nil
		}
		entry, found, err := reader.LatestEntry(ctx, objID)
		if err != nil {
			return n.durabilityError(operation, reasonHistoryLookupFailed, err, []zap.Field{
				zap.Int64(fieldObjID, objID.Int64()),
				zap.String(fieldObjType, objType.String()),
			})
		}
		if !found {
			return nil
		}
		retiredType, retired = entry.ObjType, entry.Deleted()
		if !retired && retiredType == objType {
			return nil
		}
	}

	if retiredType != objType {
		return n.typeMismatch(operation, objID, retiredType)
	}
	return newServiceError(operation, reasonDeletedID, fmt.Errorf("%w: %s %s", ErrDeletedID, objType, objID))
}

func (n *Notebook) typeMismatch(operation string, objID snowflake.ID, owner ObjectType) error {
	return newServiceError(operation, reasonTypeMismatch,
		fmt.Errorf("%w: %s belongs to a %s", ErrTypeMismatch, objID, owner))
}

// ownerOf must be called with n.mu held.
func (n *Notebook) ownerOf(objID snowflake.ID) (ObjectType, bool) {
	if _, ok := n.notes[objID]; ok {
		return ObjectTypeNote, true
	}
	if _, ok := n.tags[objID]; ok {
		return ObjectTypeTag, true
	}
	if _, ok := n.feeds[objID]; ok {
		return ObjectTypeFeed, true
	}
	if _, ok := n.attachments[objID]; ok {
		return ObjectTypeAttachment, true
	}
	return "", false
}

func (n *Notebook) isInitialized() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.initialized
}

func decodeInto[T object[T]](snapshot Snapshot, table map[snowflake.ID]T) error {
	var value T
	if err := json.Unmarshal(snapshot.Data, &value); err != nil {
		return err
	}
	if value.objectID() != snapshot.ObjID {
		return fmt.Errorf("payload id %s does not match row id %s", value.objectID(), snapshot.ObjID)
	}
	table[snapshot.ObjID] = value
	return nil
}

func (n *Notebook) loggerOrDefault() *zap.Logger {
	if n == nil {
		return noOpLogger
	}
	if n.logger == nil {
		return noOpLogger
	}
	return n.logger
}

func (n *Notebook) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	n.loggerOrDefault().Error("notebook error", attrs...)
}
