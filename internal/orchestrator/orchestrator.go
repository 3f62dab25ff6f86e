// Package orchestrator composes the capital ledger, the audit trail and
// the idempotency guard into the three order workflows. Every capital
// change leaves a matching audit event; an order with debited capital and
// no audit trail is the failure mode this package exists to prevent.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/ledger-api/internal/broker"
	"github.com/ksred/ledger-api/internal/events"
	"github.com/ksred/ledger-api/internal/idempotency"
	"github.com/ksred/ledger-api/internal/ledger"
	"github.com/ksred/ledger-api/internal/portfolio"
	"github.com/ksred/ledger-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Error codes cached in the idempotency store and surfaced to clients so
// they can tell "capital never touched" from "capital reserved, order not
// confirmed".
const (
	CodeCapitalNotReserved = "CAPITAL_NOT_RESERVED"
	CodeBrokerRejected     = "BROKER_REJECTED"
	CodeOrderUnconfirmed   = "CAPITAL_RESERVED_UNCONFIRMED"
)

const auditWriteAttempts = 3

// Service drives the place, fill and cancel workflows.
type Service struct {
	ledger   *ledger.Service
	events   *events.Service
	guard    idempotency.Guard
	broker   broker.Client
	owners   portfolio.OwnerClient
	guardTTL time.Duration
}

// NewService wires the orchestrator. The broker client is expected to
// carry its own bounded timeout.
func NewService(
	ledgerService *ledger.Service,
	eventService *events.Service,
	guard idempotency.Guard,
	brokerClient broker.Client,
	owners portfolio.OwnerClient,
	guardTTL time.Duration,
) *Service {
	return &Service{
		ledger:   ledgerService,
		events:   eventService,
		guard:    guard,
		broker:   brokerClient,
		owners:   owners,
		guardTTL: guardTTL,
	}
}

// PlaceOrder runs the placement workflow under the idempotency guard:
// reserve capital, cross the broker boundary, then record the outcome as
// a ledger transition plus audit events. The guard is completed with the
// terminal result on every path; guard outage fails the request closed.
func (s *Service) PlaceOrder(ctx context.Context, intent *types.OrderIntent, idempotencyKey string) (*types.PlacementResult, error) {
	logger := log.With().
		Str("portfolio_id", intent.PortfolioID).
		Str("idempotency_key", idempotencyKey).
		Str("service", "orchestrator").
		Logger()

	cost := intent.EstimatedCost()
	if !cost.IsPositive() {
		return nil, types.NewValidationError("amount", "order notional must be greater than zero")
	}
	if err := s.owners.ValidateOwner(ctx, intent.ClientID, intent.PortfolioID); err != nil {
		return nil, err
	}

	acq, err := s.guard.Acquire(ctx, idempotencyKey, s.guardTTL)
	if err != nil {
		logger.Error().Err(err).Msg("failing closed, idempotency guard unavailable")
		return nil, err
	}
	switch acq.State {
	case idempotency.StateInProgress:
		return nil, &types.IdempotencyConflictError{Key: idempotencyKey}
	case idempotency.StateCompleted:
		return s.replay(acq.Result, logger)
	}

	orderID := "ORD_" + uuid.New().String()
	logger = logger.With().Str("order_id", orderID).Logger()

	entry, err := s.ledger.Reserve(intent.PortfolioID, &orderID, cost)
	if err != nil {
		// Capital never touched; clear the guard so an immediate retry
		// is possible.
		s.releaseGuard(ctx, idempotencyKey)
		return nil, err
	}

	brokerRef, err := s.broker.Place(ctx, intent)
	if err != nil {
		return s.compensatePlacement(ctx, intent, orderID, entry, idempotencyKey, err, logger)
	}

	if _, err := s.ledger.Commit(entry.EntryID); err != nil {
		logger.Error().Err(err).Str("entry_id", entry.EntryID).Msg("failed to commit reservation after broker accept")
		return s.parkUnconfirmed(ctx, orderID, entry.EntryID, idempotencyKey, err)
	}

	created := events.CreatedPayload{
		ClientID:    intent.ClientID,
		PortfolioID: intent.PortfolioID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		OrderType:   intent.OrderType,
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
	}
	placed := events.PlacedPayload{
		BrokerRef: brokerRef,
		EntryID:   entry.EntryID,
		Reserved:  cost,
	}
	if err := s.writeAudit(orderID, events.TypeOrderCreated, created); err != nil {
		return s.parkUnconfirmed(ctx, orderID, entry.EntryID, idempotencyKey, err)
	}
	if err := s.writeAudit(orderID, events.TypeOrderPlaced, placed); err != nil {
		return s.parkUnconfirmed(ctx, orderID, entry.EntryID, idempotencyKey, err)
	}

	s.completeGuard(ctx, idempotencyKey, idempotency.Result{
		Succeeded: true,
		OrderID:   orderID,
	})

	logger.Info().
		Str("entry_id", entry.EntryID).
		Str("broker_ref", brokerRef).
		Msg("order placed")

	return &types.PlacementResult{
		OrderID:   orderID,
		EntryID:   entry.EntryID,
		BrokerRef: brokerRef,
	}, nil
}

// compensatePlacement applies the matching ledger action and audit event
// for a broker failure during placement.
func (s *Service) compensatePlacement(
	ctx context.Context,
	intent *types.OrderIntent,
	orderID string,
	entry *ledger.Entry,
	idempotencyKey string,
	brokerErr error,
	logger zerolog.Logger,
) (*types.PlacementResult, error) {
	if errors.Is(brokerErr, broker.ErrRejected) {
		// Definitive rejection: the reservation dies with the order and
		// the rejection is recorded.
		if _, err := s.ledger.Fail(entry.EntryID); err != nil {
			logger.Error().Err(err).Str("entry_id", entry.EntryID).Msg("failed to fail reservation after rejection")
		}
		rejected := events.RejectedPayload{
			Reason: brokerErr.Error(),
			Stage:  "placement",
		}
		if err := s.writeAudit(orderID, events.TypeOrderRejected, rejected); err != nil {
			logger.Error().Err(err).Msg("failed to record rejection event")
		}
		s.completeGuard(ctx, idempotencyKey, idempotency.Result{
			ErrorCode: CodeBrokerRejected,
			Message:   brokerErr.Error(),
		})
		logger.Warn().Err(brokerErr).Msg("order rejected by broker, reservation failed")
		return nil, brokerErr
	}

	// Unknown outcome: the order may be live at the broker, so reserved
	// capital must not be released until reconciliation confirms truth.
	logger.Warn().Err(brokerErr).Msg("broker outcome unknown, parking reservation for reconciliation")
	return s.parkUnconfirmed(ctx, orderID, entry.EntryID, idempotencyKey, brokerErr)
}

// parkUnconfirmed commits the reservation so it keeps counting against
// available capital, moves it to RECONCILING, records the escalation, and
// reports the partial state distinctly from a clean failure.
func (s *Service) parkUnconfirmed(ctx context.Context, orderID, entryID, idempotencyKey string, cause error) (*types.PlacementResult, error) {
	if _, err := s.ledger.Commit(entryID); err != nil {
		log.Error().Err(err).Str("entry_id", entryID).Msg("failed to commit reservation before reconciliation")
	}
	if _, err := s.ledger.StartReconciliation(entryID); err != nil {
		log.Error().Err(err).Str("entry_id", entryID).Msg("failed to open reconciliation on reservation")
	}

	reconciled := events.ReconciledPayload{
		EntryID: entryID,
		Outcome: ledger.StatusReconciling,
		Reason:  cause.Error(),
	}
	if err := s.writeAudit(orderID, events.TypeOrderReconciled, reconciled); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to record reconciliation event")
	}

	s.completeGuard(ctx, idempotencyKey, idempotency.Result{
		OrderID:   orderID,
		ErrorCode: CodeOrderUnconfirmed,
		Message:   cause.Error(),
	})

	return nil, &types.OrderUnconfirmedError{OrderID: orderID, EntryID: entryID, Err: cause}
}

// RecordExecution books the capital consumed by a broker-confirmed fill
// against the order's outstanding reservation and appends the FILLED
// event. Allocation drift escalates to reconciliation; the fill is never
// silently dropped.
func (s *Service) RecordExecution(ctx context.Context, orderID string, fill *types.Fill) (*events.OrderEvent, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("portfolio_id", fill.PortfolioID).
		Str("service", "orchestrator").
		Logger()

	notional := fill.Notional()
	entry, err := s.ledger.Allocate(fill.PortfolioID, orderID, notional)
	if err != nil {
		var drift *types.ReconciliationDriftError
		if errors.As(err, &drift) {
			if _, flagErr := s.ledger.FlagDrift(fill.PortfolioID, orderID, ledger.TypeAllocate, notional, drift.Reason); flagErr != nil {
				logger.Error().Err(flagErr).Msg("failed to flag allocation drift")
			}
			reconciled := events.ReconciledPayload{
				Outcome: ledger.StatusReconciling,
				Reason:  drift.Reason,
			}
			if auditErr := s.writeAudit(orderID, events.TypeOrderReconciled, reconciled); auditErr != nil {
				logger.Error().Err(auditErr).Msg("failed to record drift event")
			}
			logger.Warn().Str("reason", drift.Reason).Msg("fill escalated to reconciliation")
		}
		return nil, err
	}

	if _, err := s.ledger.Commit(entry.EntryID); err != nil {
		return nil, err
	}

	filled := events.FilledPayload{
		Quantity:  fill.Quantity,
		Price:     fill.Price,
		Notional:  notional,
		EntryID:   entry.EntryID,
		BrokerRef: fill.BrokerRef,
	}
	// Capital moved; the audit record must follow before this returns.
	event, err := s.durableAudit(orderID, events.TypeOrderFilled, filled)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Str("notional", notional.String()).
		Msg("execution recorded")

	return event, nil
}

// CancelOrder crosses the broker boundary first; only a confirmed cancel
// releases reserved capital. A broker refusal leaves the ledger untouched
// and records nothing, because the order is still live.
func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (*events.OrderEvent, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("service", "orchestrator").
		Logger()

	placedRef, portfolioID, err := s.orderContext(orderID)
	if err != nil {
		return nil, err
	}

	if err := s.broker.Cancel(ctx, placedRef); err != nil {
		if errors.Is(err, broker.ErrRejected) {
			logger.Warn().Err(err).Msg("broker refused cancel, order remains live")
			return nil, err
		}
		// Unknown outcome: the order may or may not be live. Capital
		// stays reserved until reconciliation confirms.
		logger.Error().Err(err).Msg("broker unreachable during cancel, ledger untouched")
		return nil, err
	}

	released := events.CancelledPayload{Reason: reason}
	rel, err := s.ledger.ReleaseOutstanding(portfolioID, orderID)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		if _, err := s.ledger.Commit(rel.EntryID); err != nil {
			return nil, err
		}
		released.Released = rel.Amount
	}

	event, err := s.durableAudit(orderID, events.TypeOrderCancelled, released)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("order cancelled, unfilled capital released")
	return event, nil
}

// orderContext resolves the broker reference and owning portfolio for an
// order from its audit trail, the single source of lifecycle truth.
func (s *Service) orderContext(orderID string) (brokerRef, portfolioID string, err error) {
	history, err := s.events.GetOrderEvents(orderID)
	if err != nil {
		return "", "", err
	}
	if len(history) == 0 {
		return "", "", types.NewValidationError("order_id", "unknown order")
	}

	for _, event := range history {
		switch event.EventType {
		case events.TypeOrderCreated:
			var payload events.CreatedPayload
			if err := json.Unmarshal([]byte(event.EventData), &payload); err == nil {
				portfolioID = payload.PortfolioID
			}
		case events.TypeOrderPlaced:
			var payload events.PlacedPayload
			if err := json.Unmarshal([]byte(event.EventData), &payload); err == nil {
				brokerRef = payload.BrokerRef
			}
		case events.TypeOrderCancelled, events.TypeOrderFilled, events.TypeOrderRejected, events.TypeOrderExpired:
			return "", "", types.NewValidationError("order_id",
				fmt.Sprintf("order already terminal (%s)", event.EventType))
		}
	}
	if brokerRef == "" || portfolioID == "" {
		return "", "", types.NewValidationError("order_id", "order was never placed")
	}
	return brokerRef, portfolioID, nil
}

// replay resurfaces a prior holder's cached result to a duplicate caller.
func (s *Service) replay(result *idempotency.Result, logger zerolog.Logger) (*types.PlacementResult, error) {
	logger.Info().
		Bool("succeeded", result.Succeeded).
		Str("cached_order_id", result.OrderID).
		Msg("replaying cached idempotent result")

	if result.Succeeded {
		return &types.PlacementResult{OrderID: result.OrderID, Replayed: true}, nil
	}
	if result.ErrorCode == CodeOrderUnconfirmed {
		return nil, &types.OrderUnconfirmedError{
			OrderID: result.OrderID,
			Err:     errors.New(result.Message),
		}
	}
	return nil, fmt.Errorf("placement previously failed (%s): %s", result.ErrorCode, result.Message)
}

// writeAudit retries the audit write until durable. Capital state and the
// audit record must not diverge; the broker call is never retried here.
func (s *Service) writeAudit(orderID, eventType string, payload interface{}) error {
	_, err := s.durableAudit(orderID, eventType, payload)
	return err
}

func (s *Service) durableAudit(orderID, eventType string, payload interface{}) (*events.OrderEvent, error) {
	var lastErr error
	for attempt := 0; attempt < auditWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		event, err := s.events.CreateEvent(orderID, eventType, payload)
		if err != nil {
			if types.IsClientError(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return event, nil
	}
	log.Error().
		Err(lastErr).
		Str("order_id", orderID).
		Str("event_type", eventType).
		Msg("audit write failed after retries")
	return nil, &types.DependencyUnavailableError{Dependency: "event store", Err: lastErr}
}

func (s *Service) completeGuard(ctx context.Context, key string, result idempotency.Result) {
	if err := s.guard.Complete(ctx, key, result, s.guardTTL); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to complete idempotency record")
	}
}

func (s *Service) releaseGuard(ctx context.Context, key string) {
	if err := s.guard.ReleaseFailed(ctx, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to release idempotency record")
	}
}
