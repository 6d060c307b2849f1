package repository

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/rally/pkg/logger"
)

// gormWriter forwards gorm's printf-style output to the service logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

// OpenPostgres connects to dsn with error translation enabled so unique
// violations surface as gorm.ErrDuplicatedKey.
func OpenPostgres(dsn string, opts ...Option) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	o := applyOptions(opts)
	gl := gormlogger.New(gormWriter{log: o.log}, gormlogger.Config{
		SlowThreshold:             o.slowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gl,
		NowFunc:        o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&eventRow{},
		&userRow{},
		&teamRow{},
		&membershipRow{},
		&checkinRow{},
		&scoreRow{},
		&scoreOpRow{},
	)
}
