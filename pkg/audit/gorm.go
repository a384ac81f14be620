package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// auditRow is the throttle_audit table layout.
type auditRow struct {
	ID            uint      `gorm:"primaryKey"`
	TS            time.Time `gorm:"index:idx_audit_ts,sort:desc;index:idx_audit_identity_route_ts,priority:3,sort:desc"`
	Route         string    `gorm:"size:512;index:idx_audit_identity_route_ts,priority:2"`
	IdentityID    string    `gorm:"size:512;index:idx_audit_identity_route_ts,priority:1"`
	Tier          string    `gorm:"size:64"`
	Remaining     float64
	ResetMs       int64
	CorrelationID string         `gorm:"size:128"`
	Headers       HeaderSnapshot `gorm:"embedded;embeddedPrefix:header_"`
}

func (auditRow) TableName() string { return "throttle_audit" }

// GormSink writes records to a SQL table through gorm.
type GormSink struct {
	db *gorm.DB
}

// OpenGorm connects with the named driver ("postgres" or "sqlite") and
// migrates the audit table.
func OpenGorm(driver, dsn string) (*GormSink, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect to database: %w", err)
	}
	return NewGormSink(db)
}

func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&auditRow{}); err != nil {
		return nil, fmt.Errorf("audit: migrate throttle_audit: %w", err)
	}
	return &GormSink{db: db}, nil
}

func (s *GormSink) Write(ctx context.Context, rec Record) error {
	row := auditRow{
		TS:            rec.TS,
		Route:         rec.Route,
		IdentityID:    rec.IdentityID,
		Tier:          rec.Tier,
		Remaining:     rec.Remaining,
		ResetMs:       rec.ResetMs,
		CorrelationID: rec.CorrelationID,
		Headers:       rec.Headers,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
