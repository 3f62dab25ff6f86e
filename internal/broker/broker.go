// Package broker defines the external brokerage boundary the order
// workflows cross, plus a simulated implementation for local runs.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/sony/gobreaker"
)

// ErrRejected is returned when the broker definitively refuses an order
// or a cancellation. It is a business outcome, not an outage.
var ErrRejected = errors.New("rejected by broker")

// Client is the brokerage contract consumed by the orchestrator.
type Client interface {
	// Place submits an order and returns the broker's reference for it.
	Place(ctx context.Context, intent *types.OrderIntent) (string, error)
	// Cancel requests cancellation of a live order by broker reference.
	Cancel(ctx context.Context, brokerRef string) error
}

// BreakerClient wraps a Client with a bounded per-call timeout and a
// circuit breaker. A timeout or open circuit surfaces as
// DependencyUnavailableError, which the orchestrator treats as an
// unknown outcome, never as success or failure.
type BreakerClient struct {
	client  Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerClient(client Client, timeout time.Duration) *BreakerClient {
	return &BreakerClient{
		client:  client,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "broker",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// A definitive broker rejection is a healthy answer.
				return err == nil || errors.Is(err, ErrRejected)
			},
		}),
	}
}

func (b *BreakerClient) Place(ctx context.Context, intent *types.OrderIntent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ref, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.Place(ctx, intent)
	})
	if err != nil {
		return "", b.classify(err)
	}
	return ref.(string), nil
}

func (b *BreakerClient) Cancel(ctx context.Context, brokerRef string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.client.Cancel(ctx, brokerRef)
	})
	if err != nil {
		return b.classify(err)
	}
	return nil
}

// classify separates definitive rejections from unknown outcomes.
func (b *BreakerClient) classify(err error) error {
	if errors.Is(err, ErrRejected) {
		return err
	}
	return &types.DependencyUnavailableError{Dependency: "broker", Err: err}
}
