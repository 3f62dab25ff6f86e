package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Simulator is a mock brokerage for local runs and the simulation binary.
// It applies random latency and a configurable rejection rate, mirroring
// how a real venue behaves at the boundary.
type Simulator struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64

	mu   sync.Mutex
	live map[string]bool
}

func NewSimulator() *Simulator {
	return &Simulator{
		MinLatency:  5 * time.Millisecond,
		MaxLatency:  30 * time.Millisecond,
		SuccessRate: 0.95,
		live:        make(map[string]bool),
	}
}

func (s *Simulator) Place(ctx context.Context, intent *types.OrderIntent) (string, error) {
	logger := log.With().
		Str("symbol", intent.Symbol).
		Str("side", intent.Side).
		Str("quantity", intent.Quantity.String()).
		Str("component", "broker_simulator").
		Logger()

	if err := s.sleep(ctx); err != nil {
		return "", err
	}

	if rand.Float64() > s.SuccessRate {
		logger.Warn().Msg("simulated broker rejection")
		return "", fmt.Errorf("%w: venue refused %s order", ErrRejected, intent.OrderType)
	}

	ref := fmt.Sprintf("BRK-%d", rand.Int63())
	s.mu.Lock()
	s.live[ref] = true
	s.mu.Unlock()

	logger.Info().Str("broker_ref", ref).Msg("order accepted by simulated broker")
	return ref, nil
}

func (s *Simulator) Cancel(ctx context.Context, brokerRef string) error {
	if err := s.sleep(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[brokerRef] {
		return fmt.Errorf("%w: unknown or already terminal order %s", ErrRejected, brokerRef)
	}
	delete(s.live, brokerRef)

	log.Info().
		Str("broker_ref", brokerRef).
		Str("component", "broker_simulator").
		Msg("order cancelled at simulated broker")
	return nil
}

// sleep simulates venue latency while honoring the caller's deadline.
func (s *Simulator) sleep(ctx context.Context) error {
	latency := s.MinLatency
	if span := s.MaxLatency - s.MinLatency; span > 0 {
		latency += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
