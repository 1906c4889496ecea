// Package catalog persists the device catalog (what devices exist, on
// what port) and their lifecycle/fault history. Grounded on the
// teacher's internal/db/orm.go + internal/model/modbus.go GORM usage
// (gorm.Open/AutoMigrate/Save-based upsert, gorm:"column:...;primaryKey"
// tags), switched from gorm.io/driver/sqlite (cgo, via mattn/go-sqlite3)
// to github.com/glebarez/sqlite so the whole module stays cgo-free like
// the teacher's modernc.org/sqlite usage elsewhere.
//
// This package never stores live point values: spec.md's Non-goals
// explicitly exclude "Persistence of live point values across
// restarts", and §6 states runtime fields are always re-initialized at
// load. What it does persist — the device's identity/port and its
// lifecycle/fault history — is ambient operational bookkeeping, not a
// live point value, so it stays in scope.
package catalog

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DeviceRecord is one catalog row: a device's identity and last-known
// configuration, independent of any in-memory runtime state.
type DeviceRecord struct {
	DeviceID string `gorm:"column:device_id;primaryKey"`
	Name     string `gorm:"column:name"`
	BindIP   string `gorm:"column:bind_ip"`
	Port     int    `gorm:"column:port"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceRecord) TableName() string { return "devices" }

// LifecycleEvent is an append-only record of a state transition or
// fault, keyed by device.
type LifecycleEvent struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	DeviceID  string    `gorm:"column:device_id;index"`
	Status    string    `gorm:"column:status"`
	Message   string    `gorm:"column:message"`
	Timestamp time.Time `gorm:"column:timestamp;autoCreateTime"`
}

func (LifecycleEvent) TableName() string { return "lifecycle_events" }

// Store wraps a GORM connection scoped to the device catalog.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a sqlite-backed catalog at path and
// migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DeviceRecord{}, &LifecycleEvent{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying SQL connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertDevice records or updates a device's identity/port in the catalog.
func (s *Store) UpsertDevice(ctx context.Context, rec DeviceRecord) error {
	return s.db.WithContext(ctx).Save(&rec).Error
}

// DeleteDevice removes a device's catalog row. Its lifecycle history is
// left intact for later audit.
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&DeviceRecord{}).Error
}

// ListDevices returns every catalog device.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	var out []DeviceRecord
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

// RecordEvent appends a lifecycle transition or fault to a device's history.
func (s *Store) RecordEvent(ctx context.Context, deviceID, status, message string) error {
	return s.db.WithContext(ctx).Create(&LifecycleEvent{
		DeviceID: deviceID,
		Status:   status,
		Message:  message,
	}).Error
}

// RecentEvents returns a device's most recent lifecycle events, newest first.
func (s *Store) RecentEvents(ctx context.Context, deviceID string, limit int) ([]LifecycleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []LifecycleEvent
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
