// Package testutil wires an in-memory database for package tests.
package testutil

import (
	"testing"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB opens a private in-memory database, migrates every table and
// installs it as the process database until the test ends.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := config.NewGormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)

	db, err := gorm.Open(sqlite.Open(":memory:"), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// every connection to ":memory:" is a new database
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.AdSpend{},
		&models.EmailOutbox{},
		&models.IdempotencyKey{},
		&models.LandingTour{},
		&models.Order{},
		&models.SyncRun{}, &models.SyncError{},
		&models.User{},
		&models.WooCommerceCredential{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}
