package registry

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GensetRow maps the gensets table maintained by the dashboard.
type GensetRow struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DeviceID  string    `gorm:"column:device_id;type:text;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;type:text"`
	UnitID    int16     `gorm:"column:unit_id;not null"`
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (GensetRow) TableName() string { return "gensets" }

// OpenDB opens a gorm handle on the dashboard database.
func OpenDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// LoadDB builds the registry from the enabled rows of the gensets table.
func LoadDB(ctx context.Context, db *gorm.DB) (*Registry, error) {
	var rows []GensetRow
	if err := db.WithContext(ctx).Where("enabled = ?", true).Order("device_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load gensets: %w", err)
	}
	devices, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	return New(devices)
}

// fromRows converts rows to devices. Unit ids are range-checked on the
// column type so out-of-range values are never narrowed into a valid byte.
func fromRows(rows []GensetRow) ([]Device, error) {
	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		if row.UnitID < 1 || row.UnitID > 247 {
			return nil, fmt.Errorf("registry: device %q has invalid unit id %d", row.DeviceID, row.UnitID)
		}
		devices = append(devices, Device{ID: row.DeviceID, Name: row.Name, UnitID: byte(row.UnitID)})
	}
	return devices, nil
}
