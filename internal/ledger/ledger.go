package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/ledger-api/internal/types"
	"github.com/ksred/ledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the capital ledger engine. All capital arithmetic is decimal
// and all balance checks run inside a portfolio-serialized transaction.
type Service struct {
	db    *Database
	cache *capitalCache
}

// NewService creates a ledger service backed by the given database
// connection with an available-capital cache of the given TTL.
func NewService(gormDB *gorm.DB, cacheTTL time.Duration) (*Service, error) {
	cache, err := newCapitalCache(cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capital cache: %w", err)
	}
	return &Service{
		db:    NewDatabase(gormDB),
		cache: cache,
	}, nil
}

// RegisterPortfolio creates the aggregate row reservations lock on.
func (s *Service) RegisterPortfolio(portfolioID string, totalCapital decimal.Decimal, currency string) (*Portfolio, error) {
	if totalCapital.IsNegative() {
		return nil, types.NewValidationError("total_capital", "must not be negative")
	}
	existing, err := s.db.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, types.NewValidationError("portfolio_id", "portfolio already registered")
	}

	portfolio := &Portfolio{
		PortfolioID:  portfolioID,
		TotalCapital: totalCapital,
		Currency:     currency,
		Active:       true,
	}
	if err := s.db.CreatePortfolio(portfolio); err != nil {
		return nil, err
	}

	log.Info().
		Str("portfolio_id", portfolioID).
		Str("total_capital", totalCapital.String()).
		Msg("portfolio registered")

	return portfolio, nil
}

// Reserve earmarks capital for a pending order. The availability check and
// the insert run in one transaction holding the portfolio lock, so two
// concurrent reservations on the same portfolio cannot both pass.
func (s *Service) Reserve(portfolioID string, orderID *string, amount decimal.Decimal) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, types.NewValidationError("amount", "must be greater than zero")
	}

	logger := log.With().
		Str("portfolio_id", portfolioID).
		Str("amount", amount.String()).
		Str("service", "ledger").
		Logger()

	var entry *Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.LockPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}

		available, err := s.db.ReservableCapital(tx, portfolio)
		if err != nil {
			return err
		}
		if available.LessThan(amount) {
			logger.Warn().
				Str("available", available.String()).
				Msg("reservation rejected, insufficient capital")
			return &types.InsufficientCapitalError{
				PortfolioID: portfolioID,
				Requested:   amount,
				Available:   available,
			}
		}

		entry = newEntry(portfolioID, orderID, TypeReserve, amount)
		return s.db.CreateEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Msg("capital reserved")

	return entry, nil
}

// Allocate records capital actually consumed by a fill. The amount is
// validated against the order's outstanding reservation, not the
// portfolio total; exceeding it is drift, not a spending decision.
func (s *Service) Allocate(portfolioID string, orderID string, amount decimal.Decimal) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, types.NewValidationError("amount", "must be greater than zero")
	}
	if orderID == "" {
		return nil, types.NewValidationError("order_id", "is required")
	}

	var entry *Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.LockPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}

		outstanding, err := s.db.OutstandingReservation(tx, portfolioID, orderID)
		if err != nil {
			return err
		}
		if outstanding.LessThan(amount) {
			return &types.ReconciliationDriftError{
				OrderID: orderID,
				Reason: fmt.Sprintf("allocation %s exceeds outstanding reservation %s",
					amount.String(), outstanding.String()),
			}
		}

		entry = newEntry(portfolioID, &orderID, TypeAllocate, amount)
		return s.db.CreateEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("portfolio_id", portfolioID).
		Str("order_id", orderID).
		Str("entry_id", entry.EntryID).
		Str("amount", amount.String()).
		Msg("capital allocated")

	return entry, nil
}

// Release returns previously reserved capital to the available pool.
// Releasing capital that was never reserved for the order is a bug in the
// caller and fails validation without touching the ledger.
func (s *Service) Release(portfolioID string, orderID string, amount decimal.Decimal) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, types.NewValidationError("amount", "must be greater than zero")
	}
	if orderID == "" {
		return nil, types.NewValidationError("order_id", "is required")
	}

	var entry *Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.LockPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}

		outstanding, err := s.db.OutstandingReservation(tx, portfolioID, orderID)
		if err != nil {
			return err
		}
		if outstanding.LessThan(amount) {
			return types.NewValidationError("amount",
				fmt.Sprintf("release %s exceeds outstanding reservation %s",
					amount.String(), outstanding.String()))
		}

		entry = newEntry(portfolioID, &orderID, TypeRelease, amount)
		return s.db.CreateEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("portfolio_id", portfolioID).
		Str("order_id", orderID).
		Str("entry_id", entry.EntryID).
		Str("amount", amount.String()).
		Msg("capital released")

	return entry, nil
}

// ReleaseOutstanding releases whatever reservation remains unconsumed for
// an order. Returns nil entry when nothing is outstanding.
func (s *Service) ReleaseOutstanding(portfolioID string, orderID string) (*Entry, error) {
	var outstanding decimal.Decimal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.LockPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}
		outstanding, err = s.db.OutstandingReservation(tx, portfolioID, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !outstanding.IsPositive() {
		return nil, nil
	}
	return s.Release(portfolioID, orderID, outstanding)
}

// Commit transitions an entry PENDING -> COMMITTED. Committing an already
// committed entry is a no-op.
func (s *Service) Commit(entryID string) (*Entry, error) {
	return s.transition(entryID, ActionCommit)
}

// Fail transitions an entry PENDING -> FAILED. Terminal.
func (s *Service) Fail(entryID string) (*Entry, error) {
	return s.transition(entryID, ActionFail)
}

// StartReconciliation parks a committed entry for drift resolution
// against broker-confirmed truth.
func (s *Service) StartReconciliation(entryID string) (*Entry, error) {
	return s.transition(entryID, ActionStartReconcile)
}

// CompleteReconciliation resolves a RECONCILING entry back to COMMITTED
// or out to FAILED depending on the confirmed outcome.
func (s *Service) CompleteReconciliation(entryID string, outcome string) (*Entry, error) {
	switch outcome {
	case StatusCommitted:
		return s.transition(entryID, ActionResolveOK)
	case StatusFailed:
		return s.transition(entryID, ActionResolveFailed)
	default:
		return nil, types.NewValidationError("outcome", "must be COMMITTED or FAILED")
	}
}

// ListReconciliations returns entries awaiting reconciliation.
func (s *Service) ListReconciliations() ([]Entry, error) {
	return s.db.GetReconciling()
}

// FlagDrift appends an entry directly in RECONCILING to record a fill or
// broker outcome the ledger could not absorb. The drift is preserved for
// resolution instead of being dropped.
func (s *Service) FlagDrift(portfolioID string, orderID string, txType string, amount decimal.Decimal, reason string) (*Entry, error) {
	var entry *Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry = newEntry(portfolioID, &orderID, txType, amount)
		entry.Status = StatusReconciling
		entry.Metadata = fmt.Sprintf(`{"drift_reason":%q}`, reason)
		return s.db.CreateEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	log.Warn().
		Str("portfolio_id", portfolioID).
		Str("order_id", orderID).
		Str("entry_id", entry.EntryID).
		Str("reason", reason).
		Msg("ledger drift flagged for reconciliation")

	return entry, nil
}

// transition applies a state machine action to an entry and invalidates
// the portfolio's capital projection in the same call path.
func (s *Service) transition(entryID string, action string) (*Entry, error) {
	var entry *Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.db.GetEntry(entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return types.NewValidationError("entry_id", "unknown ledger entry")
		}

		next, err := nextStatus(entry, action)
		if err != nil {
			return err
		}
		if next == entry.Status {
			return nil
		}

		var committedAt *time.Time
		if next == StatusCommitted && entry.CommittedAt == nil {
			now := time.Now()
			committedAt = &now
		}
		return s.db.UpdateEntryStatus(tx, entry, next, committedAt)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(entry.PortfolioID)

	log.Info().
		Str("entry_id", entry.EntryID).
		Str("portfolio_id", entry.PortfolioID).
		Str("action", action).
		Str("status", entry.Status).
		Msg("ledger entry transitioned")

	return entry, nil
}

// AvailableCapital returns the derived committed balance for a portfolio.
// The cache is a short-TTL projection only; it is deleted synchronously
// whenever a transition changes the committed view.
func (s *Service) AvailableCapital(portfolioID string) (decimal.Decimal, error) {
	if cached, ok := s.cache.Get(portfolioID); ok {
		return cached, nil
	}

	var available decimal.Decimal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.GetPortfolio(portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}
		available, err = s.db.CommittedCapital(tx, portfolio)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.cache.Set(portfolioID, available)
	return available, nil
}

// GetSummary computes the full derived capital position for a portfolio.
func (s *Service) GetSummary(portfolioID string) (*Summary, error) {
	portfolio, err := s.db.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio == nil {
		return nil, types.NewValidationError("portfolio_id", "unknown portfolio")
	}

	summary := &Summary{
		PortfolioID:  portfolioID,
		TotalCapital: portfolio.TotalCapital,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		committed := []string{StatusCommitted}
		if summary.Reserved, err = s.db.sumEntries(tx, portfolioID, TypeReserve, committed); err != nil {
			return err
		}
		if summary.Allocated, err = s.db.sumEntries(tx, portfolioID, TypeAllocate, committed); err != nil {
			return err
		}
		if summary.Released, err = s.db.sumEntries(tx, portfolioID, TypeRelease, committed); err != nil {
			return err
		}
		pendingReserve, err := s.db.sumEntries(tx, portfolioID, TypeReserve, []string{StatusPending})
		if err != nil {
			return err
		}
		pendingAllocate, err := s.db.sumEntries(tx, portfolioID, TypeAllocate, []string{StatusPending})
		if err != nil {
			return err
		}
		summary.PendingHolds = pendingReserve.Add(pendingAllocate)
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary.AvailableCapital = portfolio.TotalCapital.
		Sub(summary.Reserved).
		Sub(summary.Allocated).
		Add(summary.Released)
	return summary, nil
}

// GetHistory returns a page of ledger entries for a portfolio.
func (s *Service) GetHistory(portfolioID string, limit, offset int) ([]Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.db.GetHistory(portfolioID, limit, offset)
}

// ValidateOperation checks whether an operation of the given type and
// amount would succeed, without mutating anything.
func (s *Service) ValidateOperation(portfolioID string, orderID string, txType string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.NewValidationError("amount", "must be greater than zero")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		portfolio, err := s.db.LockPortfolio(tx, portfolioID)
		if err != nil {
			return err
		}
		if portfolio == nil {
			return types.NewValidationError("portfolio_id", "unknown portfolio")
		}

		switch txType {
		case TypeReserve:
			available, err := s.db.ReservableCapital(tx, portfolio)
			if err != nil {
				return err
			}
			if available.LessThan(amount) {
				return &types.InsufficientCapitalError{
					PortfolioID: portfolioID,
					Requested:   amount,
					Available:   available,
				}
			}
			return nil
		case TypeAllocate, TypeRelease:
			if orderID == "" {
				return types.NewValidationError("order_id", "is required")
			}
			outstanding, err := s.db.OutstandingReservation(tx, portfolioID, orderID)
			if err != nil {
				return err
			}
			if outstanding.LessThan(amount) {
				return types.NewValidationError("amount",
					fmt.Sprintf("exceeds outstanding reservation %s", outstanding.String()))
			}
			return nil
		default:
			return types.NewValidationError("operation_type", "must be RESERVE, ALLOCATE or RELEASE")
		}
	})
}

// GetEntry retrieves a single ledger entry by ID.
func (s *Service) GetEntry(entryID string) (*Entry, error) {
	return s.db.GetEntry(entryID)
}

func newEntry(portfolioID string, orderID *string, txType string, amount decimal.Decimal) *Entry {
	return &Entry{
		EntryID:         "ENT_" + uuid.New().String(),
		PortfolioID:     portfolioID,
		OrderID:         orderID,
		TransactionType: txType,
		Amount:          amount,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
}

// GinHandlers contains HTTP handlers for capital ledger endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for ledger endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type capitalRequest struct {
	PortfolioID string          `json:"portfolio_id" binding:"required"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// RegisterPortfolioHandler handles POST requests to register portfolios
func (h *GinHandlers) RegisterPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PortfolioID  string          `json:"portfolio_id" binding:"required"`
			TotalCapital decimal.Decimal `json:"total_capital"`
			Currency     string          `json:"currency"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.Currency == "" {
			req.Currency = "USD"
		}

		portfolio, err := h.service.RegisterPortfolio(req.PortfolioID, req.TotalCapital, req.Currency)
		response.Handle(c, portfolio, err)
	}
}

// ReserveHandler handles POST requests to reserve capital
func (h *GinHandlers) ReserveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req capitalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		var orderID *string
		if req.OrderID != "" {
			orderID = &req.OrderID
		}
		entry, err := h.service.Reserve(req.PortfolioID, orderID, req.Amount)
		response.Handle(c, entry, err)
	}
}

// AllocateHandler handles POST requests to allocate reserved capital
func (h *GinHandlers) AllocateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req capitalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.Allocate(req.PortfolioID, req.OrderID, req.Amount)
		response.Handle(c, entry, err)
	}
}

// ReleaseHandler handles POST requests to release reserved capital
func (h *GinHandlers) ReleaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req capitalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.Release(req.PortfolioID, req.OrderID, req.Amount)
		response.Handle(c, entry, err)
	}
}

// AvailableHandler handles GET requests for a portfolio's available capital
func (h *GinHandlers) AvailableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolioID := c.Param("portfolio_id")

		available, err := h.service.AvailableCapital(portfolioID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"portfolio_id":      portfolioID,
			"available_capital": available,
		})
	}
}

// SummaryHandler handles GET requests for a portfolio's capital summary
func (h *GinHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolioID := c.Param("portfolio_id")

		summary, err := h.service.GetSummary(portfolioID)
		response.Handle(c, summary, err)
	}
}

// HistoryHandler handles GET requests for paginated ledger history
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolioID := c.Param("portfolio_id")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		entries, total, err := h.service.GetHistory(portfolioID, limit, offset)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"entries": entries,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// ValidateHandler handles POST requests to dry-run a capital operation
func (h *GinHandlers) ValidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PortfolioID   string          `json:"portfolio_id" binding:"required"`
			OrderID       string          `json:"order_id"`
			OperationType string          `json:"operation_type" binding:"required"`
			Amount        decimal.Decimal `json:"amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.ValidateOperation(req.PortfolioID, req.OrderID, req.OperationType, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"valid": true})
	}
}

// StartReconciliationHandler handles POST requests to open reconciliation
func (h *GinHandlers) StartReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("entry_id")

		entry, err := h.service.StartReconciliation(entryID)
		response.Handle(c, entry, err)
	}
}

// CompleteReconciliationHandler handles POST requests to resolve reconciliation
func (h *GinHandlers) CompleteReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("entry_id")
		var req struct {
			Outcome string `json:"outcome" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.CompleteReconciliation(entryID, req.Outcome)
		response.Handle(c, entry, err)
	}
}

// ListReconciliationsHandler handles GET requests for open reconciliations
func (h *GinHandlers) ListReconciliationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.ListReconciliations()
		response.Handle(c, entries, err)
	}
}
