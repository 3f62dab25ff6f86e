package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/ledger-api/internal/types"
)

func TestLocalRegistryOwnership(t *testing.T) {
	registry := NewLocalRegistry()
	registry.Register("CLIENT_1", "P1")
	ctx := context.Background()

	if err := registry.ValidateOwner(ctx, "CLIENT_1", "P1"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}

	var ve *types.ValidationError
	if err := registry.ValidateOwner(ctx, "CLIENT_2", "P1"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for wrong client, got %v", err)
	}
	if err := registry.ValidateOwner(ctx, "CLIENT_1", "P_missing"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown portfolio, got %v", err)
	}
}

// countingClient records how often validation crosses the boundary.
type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) ValidateOwner(_ context.Context, _, _ string) error {
	c.calls++
	return c.err
}

func TestCachingClientCachesPositiveAnswersOnly(t *testing.T) {
	inner := &countingClient{}
	client := NewCachingClient(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := client.ValidateOwner(ctx, "CLIENT_1", "P1"); err != nil {
			t.Fatalf("validate failed: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}

	// Denials are re-checked every time.
	inner.err = types.NewValidationError("portfolio_id", "denied")
	for i := 0; i < 2; i++ {
		if err := client.ValidateOwner(ctx, "CLIENT_2", "P2"); err == nil {
			t.Fatal("expected denial")
		}
	}
	if inner.calls != 3 {
		t.Fatalf("expected denials to bypass the cache, got %d calls", inner.calls)
	}
}

func TestCachingClientExpiry(t *testing.T) {
	inner := &countingClient{}
	client := NewCachingClient(inner, 10*time.Millisecond)
	ctx := context.Background()

	if err := client.ValidateOwner(ctx, "CLIENT_1", "P1"); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := client.ValidateOwner(ctx, "CLIENT_1", "P1"); err != nil {
		t.Fatalf("validate after expiry failed: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected revalidation after TTL, got %d calls", inner.calls)
	}
}
