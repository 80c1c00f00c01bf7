package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
	"github.com/suPer8Hu/pharmacy-platform/internal/diagnosis"
)

// Connect opens a gorm handle for driver: "mysql" (default), "postgres" or "sqlite".
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver != "sqlite" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Migrate creates the tables this service reads and writes. The catalog
// tables are normally owned by the admin panel; migrating them here keeps
// sqlite dev databases usable.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&catalog.Manufacturer{},
		&catalog.Drug{},
		&diagnosis.Diagnosis{},
		&diagnosis.RecommendedDrug{},
		&diagnosis.Job{},
	)
}
