package database

import (
	"fmt"

	"github.com/ksred/ledger-api/internal/database/migrations"
	"github.com/ksred/ledger-api/internal/events"
	"github.com/ksred/ledger-api/internal/ledger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The DSN should carry _txlock=immediate so concurrent write transactions
// serialize at BEGIN instead of failing mid-transaction on SQLITE_BUSY.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&ledger.Portfolio{},
		&ledger.Entry{},
		&events.OrderEvent{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddEventIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
