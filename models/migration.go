package models

import (
	"log"

	"github.com/tourdesk/backoffice/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AdSpend{},
		&EmailOutbox{},
		&IdempotencyKey{},
		&LandingTour{},
		&Order{},
		&SyncRun{}, &SyncError{},
		&User{},
		&WooCommerceCredential{},
	)
	if err != nil {
		log.Fatal(err)
	}

	if err := EnsureOrderIdUniqueIndex(db); err != nil {
		config.GetLogger().WithField("field", "MigrateTable").
			Warnf("orders.order_id is not unique yet, run cmd/dedupe-orders: %v", err)
	}
}

const orderIdUniqueIndex = "uniq_orders_order_id"

// EnsureOrderIdUniqueIndex creates the unique index on orders.order_id.
// It fails while duplicate rows remain.
func EnsureOrderIdUniqueIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&Order{}, orderIdUniqueIndex) {
		return nil
	}
	return db.Exec("CREATE UNIQUE INDEX " + orderIdUniqueIndex + " ON orders (order_id)").Error
}
