package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn inside a database transaction.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

func (d *Database) CreatePortfolio(portfolio *Portfolio) error {
	return d.db.Create(portfolio).Error
}

func (d *Database) GetPortfolio(portfolioID string) (*Portfolio, error) {
	var portfolio Portfolio
	if err := d.db.Where("portfolio_id = ?", portfolioID).First(&portfolio).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &portfolio, nil
}

// LockPortfolio loads the portfolio row for update inside tx, serializing
// concurrent capital checks on the same portfolio. SQLite has no FOR
// UPDATE; there the immediate-lock transaction mode covers serialization.
func (d *Database) LockPortfolio(tx *gorm.DB, portfolioID string) (*Portfolio, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var portfolio Portfolio
	if err := q.Where("portfolio_id = ?", portfolioID).First(&portfolio).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &portfolio, nil
}

func (d *Database) CreateEntry(tx *gorm.DB, entry *Entry) error {
	return tx.Create(entry).Error
}

func (d *Database) GetEntry(entryID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("entry_id = ?", entryID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpdateEntryStatus persists a transition resolved by the state machine.
func (d *Database) UpdateEntryStatus(tx *gorm.DB, entry *Entry, status string, committedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if committedAt != nil {
		updates["committed_at"] = committedAt
	}
	if err := tx.Model(&Entry{}).Where("entry_id = ?", entry.EntryID).Updates(updates).Error; err != nil {
		return err
	}
	entry.Status = status
	if committedAt != nil {
		entry.CommittedAt = committedAt
	}
	return nil
}

// sumEntries totals entry amounts for a portfolio filtered by transaction
// type and status set.
func (d *Database) sumEntries(tx *gorm.DB, portfolioID, txType string, statuses []string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&Entry{}).
		Select("SUM(amount)").
		Where("portfolio_id = ? AND transaction_type = ? AND status IN ?", portfolioID, txType, statuses).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// CommittedCapital is the reporting balance:
// total - committed(RESERVE, ALLOCATE) + committed(RELEASE).
func (d *Database) CommittedCapital(tx *gorm.DB, portfolio *Portfolio) (decimal.Decimal, error) {
	committed := []string{StatusCommitted}
	reserved, err := d.sumEntries(tx, portfolio.PortfolioID, TypeReserve, committed)
	if err != nil {
		return decimal.Zero, err
	}
	allocated, err := d.sumEntries(tx, portfolio.PortfolioID, TypeAllocate, committed)
	if err != nil {
		return decimal.Zero, err
	}
	released, err := d.sumEntries(tx, portfolio.PortfolioID, TypeRelease, committed)
	if err != nil {
		return decimal.Zero, err
	}
	return portfolio.TotalCapital.Sub(reserved).Sub(allocated).Add(released), nil
}

// ReservableCapital is the balance a new reservation checks against. It
// also counts PENDING holds so two in-flight reservations cannot both
// pass the check and later commit the portfolio negative.
func (d *Database) ReservableCapital(tx *gorm.DB, portfolio *Portfolio) (decimal.Decimal, error) {
	held := []string{StatusPending, StatusCommitted, StatusReconciling}
	reserved, err := d.sumEntries(tx, portfolio.PortfolioID, TypeReserve, held)
	if err != nil {
		return decimal.Zero, err
	}
	allocated, err := d.sumEntries(tx, portfolio.PortfolioID, TypeAllocate, held)
	if err != nil {
		return decimal.Zero, err
	}
	released, err := d.sumEntries(tx, portfolio.PortfolioID, TypeRelease, []string{StatusCommitted})
	if err != nil {
		return decimal.Zero, err
	}
	return portfolio.TotalCapital.Sub(reserved).Sub(allocated).Add(released), nil
}

// OutstandingReservation computes how much reserved capital remains
// unconsumed for one order: held reserves minus allocations and releases.
func (d *Database) OutstandingReservation(tx *gorm.DB, portfolioID, orderID string) (decimal.Decimal, error) {
	type row struct {
		TransactionType string
		Total           decimal.NullDecimal
	}
	var rows []row
	err := tx.Model(&Entry{}).
		Select("transaction_type, SUM(amount) AS total").
		Where("portfolio_id = ? AND order_id = ? AND status IN ?",
			portfolioID, orderID, []string{StatusPending, StatusCommitted, StatusReconciling}).
		Group("transaction_type").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	outstanding := decimal.Zero
	for _, r := range rows {
		if !r.Total.Valid {
			continue
		}
		switch r.TransactionType {
		case TypeReserve:
			outstanding = outstanding.Add(r.Total.Decimal)
		case TypeAllocate, TypeRelease:
			outstanding = outstanding.Sub(r.Total.Decimal)
		}
	}
	return outstanding, nil
}

// GetHistory returns ledger entries for a portfolio, newest first.
func (d *Database) GetHistory(portfolioID string, limit, offset int) ([]Entry, int64, error) {
	var total int64
	if err := d.db.Model(&Entry{}).Where("portfolio_id = ?", portfolioID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []Entry
	err := d.db.Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetReconciling returns all entries currently parked in RECONCILING.
func (d *Database) GetReconciling() ([]Entry, error) {
	var entries []Entry
	err := d.db.Where("status = ?", StatusReconciling).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
