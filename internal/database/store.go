package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnObjID   = "obj_id"
	columnObjType = "obj_type"
	columnObjData = "obj_data"
	columnID      = "id"
	queryObjID    = columnObjID + " = ?"
	orderIDAsc    = columnID + " ASC"
	orderIDDesc   = columnID + " DESC"
	orderObjIDAsc = columnObjID + " ASC"
)

var errMissingDatabase = errors.New("database is required")

var (
	_ notebook.Backend       = (*Store)(nil)
	_ notebook.Transactor    = (*Store)(nil)
	_ notebook.HistoryReader = (*Store)(nil)
)

// Store persists notebook snapshots and oplog entries in SQL tables.
// It implements notebook.Backend, notebook.Transactor and notebook.HistoryReader.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an opened database. The schema must already be migrated.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// PutSnapshot upserts the snapshot row for objID.
func (s *Store) PutSnapshot(ctx context.Context, objID snowflake.ID, objType notebook.ObjectType, data []byte) error {
	row := CurrentObject{
		ObjID:   objID.Int64(),
		ObjType: objType.String(),
		ObjData: string(data),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnObjID}},
			DoUpdates: clause.AssignmentColumns([]string{columnObjType, columnObjData}),
		}).
		Create(&row).Error
}

// DeleteSnapshot removes the snapshot row for objID. A missing row is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, objID snowflake.ID) error {
	return s.db.WithContext(ctx).
		Where(queryObjID, objID.Int64()).
		Delete(&CurrentObject{}).Error
}

// ListSnapshots returns every snapshot row ordered by object id.
func (s *Store) ListSnapshots(ctx context.Context) ([]notebook.Snapshot, error) {
	var rows []CurrentObject
	if err := s.db.WithContext(ctx).Order(orderObjIDAsc).Find(&rows).Error; err != nil {
		return nil, err
	}

	snapshots := make([]notebook.Snapshot, 0, len(rows))
	for _, row := range rows {
		objType, err := notebook.ParseObjectType(row.ObjType)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", row.ObjID, err)
		}
		snapshots = append(snapshots, notebook.Snapshot{
			ObjID:   snowflake.ID(row.ObjID),
			ObjType: objType,
			Data:    []byte(row.ObjData),
		})
	}
	return snapshots, nil
}

// AppendLog inserts an oplog row. Nil data is stored as NULL.
func (s *Store) AppendLog(ctx context.Context, entryID, objID snowflake.ID, objType notebook.ObjectType, data []byte) error {
	row := OplogRecord{
		ID:      entryID.Int64(),
		ObjID:   objID.Int64(),
		ObjType: objType.String(),
	}
	if data != nil {
		payload := string(data)
		row.ObjData = &payload
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Atomically runs fn inside one database transaction. The Backend handed to
// fn is bound to the transaction.
func (s *Store) Atomically(ctx context.Context, fn func(notebook.Backend) error) error {
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(&Store{db: transaction})
	})
}

// LatestEntry returns the newest oplog entry for objID.
func (s *Store) LatestEntry(ctx context.Context, objID snowflake.ID) (notebook.OplogEntry, bool, error) {
	var rows []OplogRecord
	result := s.db.WithContext(ctx).
		Where(queryObjID, objID.Int64()).
		Order(orderIDDesc).
		Limit(1).
		Find(&rows)
	if result.Error != nil {
		return notebook.OplogEntry{}, false, result.Error
	}
	if len(rows) == 0 {
		return notebook.OplogEntry{}, false, nil
	}
	entry, err := oplogEntryFromRecord(rows[0])
	if err != nil {
		return notebook.OplogEntry{}, false, err
	}
	return entry, true, nil
}

// ListLog returns the oplog history of one object ordered by entry id.
func (s *Store) ListLog(ctx context.Context, objID snowflake.ID) ([]notebook.OplogEntry, error) {
	var rows []OplogRecord
	if err := s.db.WithContext(ctx).
		Where(queryObjID, objID.Int64()).
		Order(orderIDAsc).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]notebook.OplogEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := oplogEntryFromRecord(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func oplogEntryFromRecord(row OplogRecord) (notebook.OplogEntry, error) {
	objType, err := notebook.ParseObjectType(row.ObjType)
	if err != nil {
		return notebook.OplogEntry{}, fmt.Errorf("oplog entry %d: %w", row.ID, err)
	}
	entry := notebook.OplogEntry{
		ID:      snowflake.ID(row.ID),
		ObjID:   snowflake.ID(row.ObjID),
		ObjType: objType,
	}
	if row.ObjData != nil {
		entry.Data = []byte(*row.ObjData)
	}
	return entry, nil
}
