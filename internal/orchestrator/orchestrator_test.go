package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/ledger-api/internal/broker"
	"github.com/ksred/ledger-api/internal/events"
	"github.com/ksred/ledger-api/internal/idempotency"
	"github.com/ksred/ledger-api/internal/ledger"
	"github.com/ksred/ledger-api/internal/portfolio"
	"github.com/ksred/ledger-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubBroker is a deterministic broker.Client for workflow tests.
type stubBroker struct {
	placeRef    string
	placeErr    error
	cancelErr   error
	placeCalls  int
	cancelCalls int
}

func (b *stubBroker) Place(_ context.Context, _ *types.OrderIntent) (string, error) {
	b.placeCalls++
	if b.placeErr != nil {
		return "", b.placeErr
	}
	return b.placeRef, nil
}

func (b *stubBroker) Cancel(_ context.Context, _ string) error {
	b.cancelCalls++
	return b.cancelErr
}

// downGuard simulates an unreachable idempotency backend.
type downGuard struct{}

func (downGuard) Acquire(_ context.Context, _ string, _ time.Duration) (*idempotency.Acquisition, error) {
	return nil, &types.DependencyUnavailableError{Dependency: "idempotency store", Err: errors.New("connection refused")}
}

func (downGuard) Complete(_ context.Context, _ string, _ idempotency.Result, _ time.Duration) error {
	return &types.DependencyUnavailableError{Dependency: "idempotency store", Err: errors.New("connection refused")}
}

func (downGuard) ReleaseFailed(_ context.Context, _ string) error {
	return &types.DependencyUnavailableError{Dependency: "idempotency store", Err: errors.New("connection refused")}
}

type testEnv struct {
	service *Service
	ledger  *ledger.Service
	events  *events.Service
	broker  *stubBroker
}

func newTestEnv(t *testing.T, guard idempotency.Guard) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000",
		filepath.Join(t.TempDir(), "orchestrator.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&ledger.Portfolio{}, &ledger.Entry{}, &events.OrderEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ledgerService, err := ledger.NewService(db, time.Minute)
	if err != nil {
		t.Fatalf("failed to create ledger service: %v", err)
	}
	eventService := events.NewService(db, nil, 7)
	stub := &stubBroker{placeRef: "BRK-1"}

	if guard == nil {
		guard = idempotency.NewMemoryGuard()
	}

	return &testEnv{
		service: NewService(ledgerService, eventService, guard, stub, portfolio.AllowAll{}, time.Minute),
		ledger:  ledgerService,
		events:  eventService,
		broker:  stub,
	}
}

func registerPortfolio(t *testing.T, env *testEnv, portfolioID string, total int64) {
	t.Helper()
	if _, err := env.ledger.RegisterPortfolio(portfolioID, decimal.NewFromInt(total), "USD"); err != nil {
		t.Fatalf("failed to register portfolio: %v", err)
	}
}

func testIntent(portfolioID string) *types.OrderIntent {
	return &types.OrderIntent{
		ClientID:    "CLIENT_1",
		PortfolioID: portfolioID,
		Symbol:      "AAPL",
		Side:        "BUY",
		OrderType:   "LIMIT",
		Quantity:    decimal.NewFromInt(10),
		LimitPrice:  decimal.NewFromInt(100),
	}
}

func eventTypes(t *testing.T, env *testEnv, orderID string) []string {
	t.Helper()
	history, err := env.events.GetOrderEvents(orderID)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	result := make([]string, 0, len(history))
	for _, event := range history {
		result = append(result, event.EventType)
	}
	return result
}

func TestPlaceOrderHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	result, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if result.OrderID == "" || result.BrokerRef != "BRK-1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Reservation of quantity * limit price is committed.
	available, err := env.ledger.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(99000)) {
		t.Fatalf("expected available 99000, got %s", available)
	}

	got := eventTypes(t, env, result.OrderID)
	want := []string{events.TypeOrderCreated, events.TypeOrderPlaced}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestPlaceOrderReplaysCachedResult(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	first, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("first place failed: %v", err)
	}

	second, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed || second.OrderID != first.OrderID {
		t.Fatalf("expected replay of %s, got %+v", first.OrderID, second)
	}
	if env.broker.placeCalls != 1 {
		t.Fatalf("broker must not be called on replay, got %d calls", env.broker.placeCalls)
	}

	// No second reservation.
	available, err := env.ledger.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(99000)) {
		t.Fatalf("expected available 99000 after replay, got %s", available)
	}
}

func TestPlaceOrderDuplicateInFlight(t *testing.T) {
	guard := idempotency.NewMemoryGuard()
	env := newTestEnv(t, guard)
	registerPortfolio(t, env, "P1", 100000)

	// Simulate another holder mid-flight.
	if _, err := guard.Acquire(context.Background(), "key-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	var conflict *types.IdempotencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected IdempotencyConflictError, got %v", err)
	}
	if env.broker.placeCalls != 0 {
		t.Fatalf("broker must not be called on conflict")
	}
}

func TestPlaceOrderFailsClosedWhenGuardDown(t *testing.T) {
	env := newTestEnv(t, downGuard{})
	registerPortfolio(t, env, "P1", 100000)

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	var unavailable *types.DependencyUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected DependencyUnavailableError, got %v", err)
	}

	// Nothing was written anywhere.
	if env.broker.placeCalls != 0 {
		t.Fatalf("broker must not be called when the guard is down")
	}
	_, total, err := env.ledger.GetHistory("P1", 10, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no ledger entries, got %d", total)
	}
	stats, err := env.events.GetStatistics()
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected no events, got %d", stats.Total)
	}
}

func TestPlaceOrderInsufficientCapitalClearsGuard(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 500)

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	var ice *types.InsufficientCapitalError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCapitalError, got %v", err)
	}

	// The guard was released, so an immediate retry re-runs the workflow
	// instead of conflicting or replaying.
	_, err = env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCapitalError on retry, got %v", err)
	}
}

func TestPlaceOrderBrokerRejection(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)
	env.broker.placeErr = fmt.Errorf("%w: venue refused", broker.ErrRejected)

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if !errors.Is(err, broker.ErrRejected) {
		t.Fatalf("expected broker rejection, got %v", err)
	}

	// The reservation died with the order.
	available, err := env.ledger.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected available 100000 after rejection, got %s", available)
	}

	// The rejection is cached: a duplicate does not re-place.
	_, err = env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err == nil {
		t.Fatal("expected cached failure on replay")
	}
	if env.broker.placeCalls != 1 {
		t.Fatalf("broker must not be re-called, got %d calls", env.broker.placeCalls)
	}
}

func TestPlaceOrderUnknownOutcomeParksCapital(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)
	env.broker.placeErr = &types.DependencyUnavailableError{Dependency: "broker", Err: errors.New("timeout")}

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	var unconfirmed *types.OrderUnconfirmedError
	if !errors.As(err, &unconfirmed) {
		t.Fatalf("expected OrderUnconfirmedError, got %v", err)
	}

	// The reservation is parked for reconciliation, not released.
	open, listErr := env.ledger.ListReconciliations()
	if listErr != nil {
		t.Fatalf("list reconciliations failed: %v", listErr)
	}
	if len(open) != 1 || open[0].EntryID != unconfirmed.EntryID {
		t.Fatalf("expected parked entry %s, got %+v", unconfirmed.EntryID, open)
	}

	got := eventTypes(t, env, unconfirmed.OrderID)
	if len(got) != 1 || got[0] != events.TypeOrderReconciled {
		t.Fatalf("expected single ORDER_RECONCILED event, got %v", got)
	}

	// A duplicate replays the unconfirmed state without touching the broker.
	_, err = env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if !errors.As(err, &unconfirmed) {
		t.Fatalf("expected replayed OrderUnconfirmedError, got %v", err)
	}
	if env.broker.placeCalls != 1 {
		t.Fatalf("broker must not be re-called on replay, got %d calls", env.broker.placeCalls)
	}
}

func TestRecordExecution(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	placed, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	fill := &types.Fill{
		PortfolioID: "P1",
		Quantity:    decimal.NewFromInt(4),
		Price:       decimal.NewFromInt(100),
		BrokerRef:   placed.BrokerRef,
	}
	event, err := env.service.RecordExecution(context.Background(), placed.OrderID, fill)
	if err != nil {
		t.Fatalf("record execution failed: %v", err)
	}
	if event.EventType != events.TypeOrderFilled {
		t.Fatalf("expected ORDER_FILLED, got %s", event.EventType)
	}

	// Reservation 1000 plus allocation 400 both count as committed.
	available, err := env.ledger.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(98600)) {
		t.Fatalf("expected available 98600, got %s", available)
	}
}

func TestRecordExecutionDriftEscalates(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	placed, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	// Fill notional exceeds the 1000 reserved for the order.
	fill := &types.Fill{
		PortfolioID: "P1",
		Quantity:    decimal.NewFromInt(20),
		Price:       decimal.NewFromInt(100),
		BrokerRef:   placed.BrokerRef,
	}
	_, err = env.service.RecordExecution(context.Background(), placed.OrderID, fill)
	var drift *types.ReconciliationDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected ReconciliationDriftError, got %v", err)
	}

	// The fill was not dropped: it is parked in RECONCILING and audited.
	open, listErr := env.ledger.ListReconciliations()
	if listErr != nil {
		t.Fatalf("list reconciliations failed: %v", listErr)
	}
	if len(open) != 1 || !open[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected parked drift entry of 2000, got %+v", open)
	}

	got := eventTypes(t, env, placed.OrderID)
	last := got[len(got)-1]
	if last != events.TypeOrderReconciled {
		t.Fatalf("expected trailing ORDER_RECONCILED event, got %v", got)
	}
}

func TestCancelOrderReleasesUnfilledCapital(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	placed, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	event, err := env.service.CancelOrder(context.Background(), placed.OrderID, "client requested")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if event.EventType != events.TypeOrderCancelled {
		t.Fatalf("expected ORDER_CANCELLED, got %s", event.EventType)
	}
	if env.broker.cancelCalls != 1 {
		t.Fatalf("expected one broker cancel, got %d", env.broker.cancelCalls)
	}

	// The full reservation came back.
	available, err := env.ledger.AvailableCapital("P1")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected available 100000 after cancel, got %s", available)
	}

	// The order is terminal; a second cancel is a validation failure.
	_, err = env.service.CancelOrder(context.Background(), placed.OrderID, "again")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for terminal order, got %v", err)
	}
}

func TestCancelOrderBrokerRefusalLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	placed, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	env.broker.cancelErr = fmt.Errorf("%w: already executing", broker.ErrRejected)

	_, err = env.service.CancelOrder(context.Background(), placed.OrderID, "too late")
	if !errors.Is(err, broker.ErrRejected) {
		t.Fatalf("expected broker refusal, got %v", err)
	}

	// Capital stays reserved and no cancel event was written.
	available, availErr := env.ledger.AvailableCapital("P1")
	if availErr != nil {
		t.Fatalf("available failed: %v", availErr)
	}
	if !available.Equal(decimal.NewFromInt(99000)) {
		t.Fatalf("expected available 99000, got %s", available)
	}
	for _, eventType := range eventTypes(t, env, placed.OrderID) {
		if eventType == events.TypeOrderCancelled {
			t.Fatal("no cancel event should exist after a refused cancel")
		}
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.CancelOrder(context.Background(), "ORD_missing", "test")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPlaceOrderValidatesOwnership(t *testing.T) {
	registry := portfolio.NewLocalRegistry()
	registry.Register("CLIENT_OTHER", "P1")

	env := newTestEnv(t, nil)
	env.service.owners = registry
	registerPortfolio(t, env, "P1", 100000)

	_, err := env.service.PlaceOrder(context.Background(), testIntent("P1"), "key-1")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ownership ValidationError, got %v", err)
	}
	if env.broker.placeCalls != 0 {
		t.Fatal("broker must not be called for unauthorized portfolio")
	}
}

func TestPlaceOrderRejectsZeroNotional(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPortfolio(t, env, "P1", 100000)

	intent := testIntent("P1")
	intent.Quantity = decimal.Zero

	_, err := env.service.PlaceOrder(context.Background(), intent, "key-1")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
