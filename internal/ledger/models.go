package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction types recorded in the capital ledger
const (
	TypeReserve  = "RESERVE"
	TypeAllocate = "ALLOCATE"
	TypeRelease  = "RELEASE"
	TypeFail     = "FAIL"
)

// Entry statuses
const (
	StatusPending     = "PENDING"
	StatusCommitted   = "COMMITTED"
	StatusFailed      = "FAILED"
	StatusReconciling = "RECONCILING"
)

// Portfolio is the aggregate row transactions lock on. Total capital is
// the only stored balance; everything else is derived from the ledger.
type Portfolio struct {
	gorm.Model   `json:"-"`
	PortfolioID  string          `gorm:"uniqueIndex" json:"portfolio_id"`
	TotalCapital decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_capital"`
	Currency     string          `json:"currency"`
	Active       bool            `json:"active"`
}

// Entry is a single append-only capital ledger record. Entries are never
// deleted; state changes go through the transition table only.
type Entry struct {
	gorm.Model      `json:"-"`
	EntryID         string          `gorm:"uniqueIndex" json:"entry_id"`
	PortfolioID     string          `gorm:"index" json:"portfolio_id"`
	OrderID         *string         `gorm:"index" json:"order_id,omitempty"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Status          string          `gorm:"index" json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CommittedAt     *time.Time      `json:"committed_at,omitempty"`
	Metadata        string          `gorm:"type:text" json:"metadata,omitempty"`
}

// Summary is the derived capital position for one portfolio.
type Summary struct {
	PortfolioID      string          `json:"portfolio_id"`
	TotalCapital     decimal.Decimal `json:"total_capital"`
	AvailableCapital decimal.Decimal `json:"available_capital"`
	Reserved         decimal.Decimal `json:"reserved"`
	Allocated        decimal.Decimal `json:"allocated"`
	Released         decimal.Decimal `json:"released"`
	PendingHolds     decimal.Decimal `json:"pending_holds"`
}
