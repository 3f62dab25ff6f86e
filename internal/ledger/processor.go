package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically sweeps entries parked in RECONCILING. Resolution
// is a human or scheduled decision, so the sweep escalates rather than
// resolves: entries stuck beyond maxAge are logged for the operations
// worklist.
type Processor struct {
	service    *Service
	sweepDelay time.Duration // Time between reconciliation sweeps
	maxAge     time.Duration // Age at which a stuck entry is escalated
}

func NewProcessor(service *Service) *Processor {
	return &Processor{
		service:    service,
		sweepDelay: 5 * time.Minute,
		maxAge:     time.Hour,
	}
}

// Start begins the reconciliation sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciliation_processor").Logger()
	logger.Info().Msg("starting reconciliation processor")

	ticker := time.NewTicker(p.sweepDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			if err := p.sweep(); err != nil {
				logger.Error().Err(err).Msg("failed to sweep reconciling entries")
			}
		}
	}
}

func (p *Processor) sweep() error {
	logger := log.With().Str("component", "reconciliation_processor").Logger()

	entries, err := p.service.ListReconciliations()
	if err != nil {
		return err
	}

	logger.Info().Int("reconciling_count", len(entries)).Msg("sweeping reconciling entries")

	now := time.Now()
	for _, entry := range entries {
		age := now.Sub(entry.CreatedAt)
		if age < p.maxAge {
			continue
		}

		logger.Warn().
			Str("entry_id", entry.EntryID).
			Str("portfolio_id", entry.PortfolioID).
			Str("amount", entry.Amount.String()).
			Dur("age", age).
			Msg("entry stuck in reconciliation, needs manual resolution")
	}

	return nil
}
