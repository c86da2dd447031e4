package pgsnapshot

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

const defaultTable = "snapshot_records"

// Row is one stored record. RecordKey and Data hold the JSON form of the
// channel's record key and payload.
type Row struct {
	ID        uint64    `gorm:"primaryKey"`
	Channel   string    `gorm:"size:32;index:idx_snapshot_item,priority:1"`
	ItemKey   string    `gorm:"size:128;index:idx_snapshot_item,priority:2"`
	RecordKey string    `gorm:"type:jsonb"`
	Data      string    `gorm:"type:jsonb"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Source loads the rows of one data item.
type Source interface {
	Load(ctx context.Context, channel, itemKey string) ([]Row, error)
}

type gormSource struct {
	db    *gorm.DB
	table string
}

// NewGormSource reads rows from table. An empty table name selects the default.
func NewGormSource(db *gorm.DB, table string) Source {
	if table == "" {
		table = defaultTable
	}
	return gormSource{db: db, table: table}
}

// Migrate creates or updates the snapshot table.
func Migrate(db *gorm.DB, table string) error {
	if table == "" {
		table = defaultTable
	}
	if err := db.Table(table).AutoMigrate(&Row{}); err != nil {
		return errors.Wrap(err, "migrate snapshot table").With("table", table)
	}
	return nil
}

func (s gormSource) Load(ctx context.Context, channel, itemKey string) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("channel = ? AND item_key = ?", channel, itemKey).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot rows").With("channel", channel).With("key", itemKey)
	}
	return rows, nil
}
