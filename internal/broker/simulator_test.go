package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/shopspring/decimal"
)

func testIntent() *types.OrderIntent {
	return &types.OrderIntent{
		PortfolioID: "P1",
		Symbol:      "AAPL",
		Side:        "BUY",
		OrderType:   "LIMIT",
		Quantity:    decimal.NewFromInt(10),
		LimitPrice:  decimal.NewFromInt(100),
	}
}

func newFastSimulator() *Simulator {
	sim := NewSimulator()
	sim.MinLatency = 0
	sim.MaxLatency = time.Millisecond
	sim.SuccessRate = 1.0
	return sim
}

func TestSimulatorPlaceAndCancel(t *testing.T) {
	sim := newFastSimulator()
	ctx := context.Background()

	ref, err := sim.Place(ctx, testIntent())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a broker reference")
	}

	if err := sim.Cancel(ctx, ref); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// Cancelling a terminal order is a definitive rejection.
	if err := sim.Cancel(ctx, ref); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected on double cancel, got %v", err)
	}
}

func TestSimulatorRejectsWhenConfigured(t *testing.T) {
	sim := newFastSimulator()
	sim.SuccessRate = 0.0

	_, err := sim.Place(context.Background(), testIntent())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSimulatorHonorsContext(t *testing.T) {
	sim := newFastSimulator()
	sim.MinLatency = time.Second
	sim.MaxLatency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := sim.Place(ctx, testIntent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBreakerClientClassifiesOutcomes(t *testing.T) {
	sim := newFastSimulator()
	client := NewBreakerClient(sim, time.Second)
	ctx := context.Background()

	ref, err := client.Place(ctx, testIntent())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	if err := client.Cancel(ctx, ref); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// Rejections pass through unchanged.
	sim.SuccessRate = 0.0
	if _, err := client.Place(ctx, testIntent()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected through the breaker, got %v", err)
	}
}

func TestBreakerClientTimeoutIsDependencyFailure(t *testing.T) {
	sim := newFastSimulator()
	sim.MinLatency = time.Second
	sim.MaxLatency = time.Second
	client := NewBreakerClient(sim, 5*time.Millisecond)

	_, err := client.Place(context.Background(), testIntent())
	var unavailable *types.DependencyUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected DependencyUnavailableError on timeout, got %v", err)
	}
}
