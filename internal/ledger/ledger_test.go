package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000",
		filepath.Join(t.TempDir(), "ledger.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Portfolio{}, &Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(db, time.Minute)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func registerTestPortfolio(t *testing.T, s *Service, portfolioID string, total int64) {
	t.Helper()
	if _, err := s.RegisterPortfolio(portfolioID, decimal.NewFromInt(total), "USD"); err != nil {
		t.Fatalf("failed to register portfolio: %v", err)
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestRegisterPortfolioRejectsDuplicate(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	_, err := s.RegisterPortfolio("P1", decimal.NewFromInt(500), "USD")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for duplicate portfolio, got %v", err)
	}
}

func TestReserveThenCommit(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	entry, err := s.Reserve("P1", nil, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if entry.Status != StatusPending {
		t.Fatalf("expected PENDING entry, got %s", entry.Status)
	}

	// Pending holds do not change the committed balance.
	available, err := s.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected available 100000 before commit, got %s", available)
	}

	if _, err := s.Commit(entry.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	available, err = s.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("expected available 90000 after commit, got %s", available)
	}

	committed, err := s.GetEntry(entry.EntryID)
	if err != nil {
		t.Fatalf("get entry failed: %v", err)
	}
	if committed.Status != StatusCommitted || committed.CommittedAt == nil {
		t.Fatalf("expected committed entry with timestamp, got %+v", committed)
	}
}

func TestReserveInsufficientCapital(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 1000)

	_, err := s.Reserve("P1", nil, decimal.NewFromInt(1001))
	var ice *types.InsufficientCapitalError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCapitalError, got %v", err)
	}
	if !ice.Available.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected available 1000 in error, got %s", ice.Available)
	}

	entries, total, err := s.GetHistory("P1", 10, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 0 || len(entries) != 0 {
		t.Fatalf("expected no ledger mutation on rejected reserve, got %d entries", total)
	}
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 1000)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		_, err := s.Reserve("P1", nil, amount)
		var ve *types.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for amount %s, got %v", amount, err)
		}
	}
}

func TestReleaseWithoutReservation(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	_, err := s.Release("P1", "ORD_42", decimal.NewFromInt(5000))
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for release without reservation, got %v", err)
	}

	_, total, err := s.GetHistory("P1", 10, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no ledger mutation, got %d entries", total)
	}
}

func TestReserveReleaseRoundTripIsExact(t *testing.T) {
	s := newTestService(t)
	orderID := "ORD_1"

	if _, err := s.RegisterPortfolio("P1", mustDecimal(t, "100000.0001"), "USD"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	amount := mustDecimal(t, "12345.6789")
	reserve, err := s.Reserve("P1", &orderID, amount)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(reserve.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	release, err := s.Release("P1", orderID, amount)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := s.Commit(release.EntryID); err != nil {
		t.Fatalf("commit release failed: %v", err)
	}

	available, err := s.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(mustDecimal(t, "100000.0001")) {
		t.Fatalf("round trip drifted: expected 100000.0001, got %s", available)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	entry, err := s.Reserve("P1", nil, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(entry.EntryID); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	again, err := s.Commit(entry.EntryID)
	if err != nil {
		t.Fatalf("second commit should be a no-op, got %v", err)
	}
	if again.Status != StatusCommitted {
		t.Fatalf("expected COMMITTED after re-commit, got %s", again.Status)
	}
}

func TestFailAfterCommitIsRejected(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	entry, err := s.Reserve("P1", nil, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(entry.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	_, err = s.Fail(entry.EntryID)
	var ite *types.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestAllocateValidatedAgainstOutstandingReservation(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)
	orderID := "ORD_1"

	reserve, err := s.Reserve("P1", &orderID, decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(reserve.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Over-allocation is drift, even though the portfolio has funds.
	_, err = s.Allocate("P1", orderID, decimal.NewFromInt(5001))
	var drift *types.ReconciliationDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected ReconciliationDriftError, got %v", err)
	}

	alloc, err := s.Allocate("P1", orderID, decimal.NewFromInt(3000))
	if err != nil {
		t.Fatalf("allocate within reservation failed: %v", err)
	}
	if _, err := s.Commit(alloc.EntryID); err != nil {
		t.Fatalf("commit allocate failed: %v", err)
	}

	// Remaining reservation is 2000 now.
	if _, err := s.Allocate("P1", orderID, decimal.NewFromInt(2001)); !errors.As(err, &drift) {
		t.Fatalf("expected drift on second over-allocation, got %v", err)
	}
}

func TestReleaseOutstandingReleasesRemainder(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)
	orderID := "ORD_1"

	reserve, err := s.Reserve("P1", &orderID, decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(reserve.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	alloc, err := s.Allocate("P1", orderID, decimal.NewFromInt(3000))
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if _, err := s.Commit(alloc.EntryID); err != nil {
		t.Fatalf("commit allocate failed: %v", err)
	}

	rel, err := s.ReleaseOutstanding("P1", orderID)
	if err != nil {
		t.Fatalf("release outstanding failed: %v", err)
	}
	if rel == nil || !rel.Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected release of 2000, got %+v", rel)
	}

	// Nothing left to release.
	if _, err := s.Commit(rel.EntryID); err != nil {
		t.Fatalf("commit release failed: %v", err)
	}
	again, err := s.ReleaseOutstanding("P1", orderID)
	if err != nil {
		t.Fatalf("second release outstanding failed: %v", err)
	}
	if again != nil {
		t.Fatalf("expected nil when nothing outstanding, got %+v", again)
	}
}

func TestReconciliationResolvedFailed(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	entry, err := s.Reserve("P1", nil, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(entry.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := s.StartReconciliation(entry.EntryID); err != nil {
		t.Fatalf("start reconciliation failed: %v", err)
	}

	open, err := s.ListReconciliations()
	if err != nil {
		t.Fatalf("list reconciliations failed: %v", err)
	}
	if len(open) != 1 || open[0].EntryID != entry.EntryID {
		t.Fatalf("expected entry in reconciliation worklist, got %+v", open)
	}

	resolved, err := s.CompleteReconciliation(entry.EntryID, StatusFailed)
	if err != nil {
		t.Fatalf("complete reconciliation failed: %v", err)
	}
	if resolved.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", resolved.Status)
	}

	// The failed hold no longer counts against committed capital.
	available, err := s.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected available 100000 after failed resolution, got %s", available)
	}
}

func TestCompleteReconciliationRejectsBadOutcome(t *testing.T) {
	s := newTestService(t)

	_, err := s.CompleteReconciliation("ENT_x", "MAYBE")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestConcurrentReservationsCannotOverdraw(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	amount := decimal.NewFromInt(60000)
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Reserve("P1", nil, amount)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var ice *types.InsufficientCapitalError
		if errors.As(err, &ice) {
			insufficient++
			continue
		}
		t.Fatalf("unexpected reserve error: %v", err)
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d rejections", succeeded, insufficient)
	}
}

func TestValidateOperationDoesNotMutate(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	if err := s.ValidateOperation("P1", "", TypeReserve, decimal.NewFromInt(50000)); err != nil {
		t.Fatalf("expected reserve validation to pass: %v", err)
	}
	err := s.ValidateOperation("P1", "", TypeReserve, decimal.NewFromInt(100001))
	var ice *types.InsufficientCapitalError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCapitalError, got %v", err)
	}

	_, total, err := s.GetHistory("P1", 10, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("validation must not write entries, found %d", total)
	}
}

func TestSummaryReflectsCommittedViews(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)
	orderID := "ORD_1"

	reserve, err := s.Reserve("P1", &orderID, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := s.Commit(reserve.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := s.Reserve("P1", nil, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("pending reserve failed: %v", err)
	}

	summary, err := s.GetSummary("P1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.Reserved.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected reserved 10000, got %s", summary.Reserved)
	}
	if !summary.PendingHolds.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected pending holds 500, got %s", summary.PendingHolds)
	}
	if !summary.AvailableCapital.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("expected available 90000, got %s", summary.AvailableCapital)
	}
}

func TestHistoryPagination(t *testing.T) {
	s := newTestService(t)
	registerTestPortfolio(t, s, "P1", 100000)

	for i := 0; i < 5; i++ {
		if _, err := s.Reserve("P1", nil, decimal.NewFromInt(10)); err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
	}

	page, total, err := s.GetHistory("P1", 2, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected total 5 and page of 2, got %d and %d", total, len(page))
	}

	rest, _, err := s.GetHistory("P1", 10, 4)
	if err != nil {
		t.Fatalf("history offset failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 entry at offset 4, got %d", len(rest))
	}
}
