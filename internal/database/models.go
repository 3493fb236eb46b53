package database

// CurrentObject stores the latest serialized state of one live object.
type CurrentObject struct {
	ObjID   int64  `gorm:"column:obj_id;primaryKey;autoIncrement:false"`
	ObjType string `gorm:"column:obj_type;size:32;not null"`
	ObjData string `gorm:"column:obj_data;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CurrentObject) TableName() string {
	return "current_objects"
}

// OplogRecord stores one append-only mutation. A NULL ObjData marks a deletion.
type OplogRecord struct {
	ID      int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	ObjID   int64   `gorm:"column:obj_id;not null;index:idx_oplog_obj_id"`
	ObjType string  `gorm:"column:obj_type;size:32;not null"`
	ObjData *string `gorm:"column:obj_data;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (OplogRecord) TableName() string {
	return "oplog"
}
