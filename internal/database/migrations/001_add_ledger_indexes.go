package migrations

import (
	"gorm.io/gorm"
)

// AddLedgerIndexes creates the indexes the capital queries depend on
func AddLedgerIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the balance aggregation (portfolio, status, type)
		`CREATE INDEX IF NOT EXISTS idx_entries_portfolio_status_type
		 ON entries(portfolio_id, status, transaction_type)`,

		// Index for order-scoped lookups (allocation validation, cancel)
		`CREATE INDEX IF NOT EXISTS idx_entries_order_id
		 ON entries(order_id)`,

		// Index for the reconciliation worklist
		`CREATE INDEX IF NOT EXISTS idx_entries_status
		 ON entries(status)`,

		// Index for paginated history by time
		`CREATE INDEX IF NOT EXISTS idx_entries_portfolio_created_at
		 ON entries(portfolio_id, created_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
