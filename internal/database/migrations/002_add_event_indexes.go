package migrations

import (
	"gorm.io/gorm"
)

// AddEventIndexes creates the indexes the audit trail and compliance
// reports depend on
func AddEventIndexes(db *gorm.DB) error {
	indexes := []string{
		// Composite index for per-order trail reads in insertion order
		`CREATE INDEX IF NOT EXISTS idx_order_events_order_created
		 ON order_events(order_id, created_at, id)`,

		// Index for windowed compliance counts by type
		`CREATE INDEX IF NOT EXISTS idx_order_events_type_created
		 ON order_events(event_type, created_at)`,

		// Index for the pending publish backlog
		`CREATE INDEX IF NOT EXISTS idx_order_events_status
		 ON order_events(status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
