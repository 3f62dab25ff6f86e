package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Event types in the order lifecycle taxonomy
const (
	TypeOrderCreated    = "ORDER_CREATED"
	TypeOrderPlaced     = "ORDER_PLACED"
	TypeOrderModified   = "ORDER_MODIFIED"
	TypeOrderCancelled  = "ORDER_CANCELLED"
	TypeOrderFilled     = "ORDER_FILLED"
	TypeOrderRejected   = "ORDER_REJECTED"
	TypeOrderExpired    = "ORDER_EXPIRED"
	TypeOrderReconciled = "ORDER_RECONCILED"
)

// Event statuses
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

// OrderEvent is one immutable audit record. Once created, only Status and
// ProcessedAt may change; EventType and EventData never do.
type OrderEvent struct {
	gorm.Model  `json:"-"`
	EventID     string     `gorm:"uniqueIndex" json:"event_id"`
	OrderID     string     `gorm:"index" json:"order_id"`
	EventType   string     `gorm:"index" json:"event_type"`
	EventData   string     `gorm:"type:text" json:"event_data"`
	Status      string     `gorm:"index" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Event payloads form a discriminated union keyed by event type. Each
// variant is validated before the event is written; event_data is never
// an arbitrary blob.

type CreatedPayload struct {
	ClientID    string          `json:"client_id"`
	PortfolioID string          `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	OrderType   string          `json:"order_type"`
	Quantity    decimal.Decimal `json:"quantity"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
}

type PlacedPayload struct {
	BrokerRef string          `json:"broker_ref"`
	EntryID   string          `json:"entry_id"`
	Reserved  decimal.Decimal `json:"reserved"`
}

type ModifiedPayload struct {
	Field    string `json:"field"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

type CancelledPayload struct {
	Reason   string          `json:"reason"`
	Released decimal.Decimal `json:"released"`
}

type FilledPayload struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Notional  decimal.Decimal `json:"notional"`
	EntryID   string          `json:"entry_id"`
	BrokerRef string          `json:"broker_ref"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
	Stage  string `json:"stage"`
}

type ExpiredPayload struct {
	ExpiredAt time.Time `json:"expired_at"`
}

type ReconciledPayload struct {
	EntryID string `json:"entry_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

// AuditTrail is the regulatory presentation of one order's event history.
type AuditTrail struct {
	OrderID     string           `json:"order_id"`
	EventCount  int              `json:"event_count"`
	GeneratedAt time.Time        `json:"generated_at"`
	Lineage     []AuditTrailStep `json:"lineage"`
}

// AuditTrailStep is one entry in an order's lineage.
type AuditTrailStep struct {
	Sequence  int             `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details"`
}

// ComplianceReport aggregates event activity over a window for regulators.
type ComplianceReport struct {
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	TotalEvents    int64            `json:"total_events"`
	CountsByType   map[string]int64 `json:"counts_by_type"`
	UniqueOrders   int64            `json:"unique_orders"`
	RetentionYears int              `json:"retention_years"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// Statistics holds operational event counts for monitoring.
type Statistics struct {
	Total         int64            `json:"total"`
	CountsByType  map[string]int64 `json:"counts_by_type"`
	PendingCount  int64            `json:"pending_count"`
	ProcessedRate float64          `json:"processed_rate"`
}
