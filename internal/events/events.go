package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/ledger-api/internal/types"
	"github.com/ksred/ledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the audit trail engine. CreateEvent is the only way events
// come into existence; the engine guarantees immutability and ordered
// retrieval, while causal sequencing between event types is the
// orchestrator's responsibility at creation time.
type Service struct {
	db             *Database
	publisher      Publisher
	retentionYears int
}

// NewService creates an audit trail service. publisher may be nil when no
// stream is configured; events then stay pending until an external
// consumer marks them processed.
func NewService(gormDB *gorm.DB, publisher Publisher, retentionYears int) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		publisher:      publisher,
		retentionYears: retentionYears,
	}
}

// CreateEvent validates the payload against the event type's schema,
// appends the event, and best-effort publishes a notification. The write
// is durable whether or not the publish succeeds.
func (s *Service) CreateEvent(orderID string, eventType string, payload interface{}) (*OrderEvent, error) {
	if orderID == "" {
		return nil, types.NewValidationError("order_id", "is required")
	}
	data, err := marshalPayload(eventType, payload)
	if err != nil {
		return nil, err
	}

	event := &OrderEvent{
		EventID:   "EVT_" + uuid.New().String(),
		OrderID:   orderID,
		EventType: eventType,
		EventData: data,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.db.CreateEvent(event); err != nil {
		return nil, err
	}

	log.Info().
		Str("event_id", event.EventID).
		Str("order_id", orderID).
		Str("event_type", eventType).
		Str("service", "events").
		Msg("audit event recorded")

	s.publish(event)
	return event, nil
}

// publish forwards the event to the stream and flips it to processed on
// success. Failures are logged and left for later delivery.
func (s *Service) publish(event *OrderEvent) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notification := Notification{
		EventID:   event.EventID,
		OrderID:   event.OrderID,
		EventType: event.EventType,
		Timestamp: event.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, notification); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", event.EventID).
			Msg("failed to publish event notification, event left pending")
		return
	}

	if err := s.MarkProcessed(event.EventID); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", event.EventID).
			Msg("event published but could not be marked processed")
	}
}

// MarkProcessed transitions an event pending -> processed. Observability
// only; it never affects ledger correctness.
func (s *Service) MarkProcessed(eventID string) error {
	return s.db.MarkProcessed(eventID, time.Now())
}

// GetOrderEvents returns the canonical audit trail for one order, in
// creation order.
func (s *Service) GetOrderEvents(orderID string) ([]OrderEvent, error) {
	return s.db.GetOrderEvents(orderID)
}

// GetLatestEvent returns the newest event for an order, or nil when the
// order has no history.
func (s *Service) GetLatestEvent(orderID string) (*OrderEvent, error) {
	return s.db.GetLatestEvent(orderID)
}

// GetAuditTrail formats an order's events for regulatory presentation.
func (s *Service) GetAuditTrail(orderID string) (*AuditTrail, error) {
	events, err := s.db.GetOrderEvents(orderID)
	if err != nil {
		return nil, err
	}

	trail := &AuditTrail{
		OrderID:     orderID,
		EventCount:  len(events),
		GeneratedAt: time.Now(),
		Lineage:     make([]AuditTrailStep, 0, len(events)),
	}
	for i, event := range events {
		trail.Lineage = append(trail.Lineage, AuditTrailStep{
			Sequence:  i + 1,
			EventID:   event.EventID,
			EventType: event.EventType,
			Timestamp: event.CreatedAt,
			Details:   json.RawMessage(event.EventData),
		})
	}
	return trail, nil
}

// GetComplianceReport aggregates event activity over a window. Read-only;
// event data is never mutated by reporting.
func (s *Service) GetComplianceReport(from, to time.Time, orderID, eventType string) (*ComplianceReport, error) {
	if !to.After(from) {
		return nil, types.NewValidationError("date_range", "end must be after start")
	}

	counts, total, err := s.db.CountByType(from, to, orderID, eventType)
	if err != nil {
		return nil, err
	}
	uniqueOrders, err := s.db.CountUniqueOrders(from, to)
	if err != nil {
		return nil, err
	}

	return &ComplianceReport{
		From:           from,
		To:             to,
		TotalEvents:    total,
		CountsByType:   counts,
		UniqueOrders:   uniqueOrders,
		RetentionYears: s.retentionYears,
		GeneratedAt:    time.Now(),
	}, nil
}

// GetStatistics returns operational counts by type and status.
func (s *Service) GetStatistics() (*Statistics, error) {
	return s.db.Statistics()
}

// ListEventTypes returns the closed event taxonomy.
func (s *Service) ListEventTypes() []string {
	return []string{
		TypeOrderCreated,
		TypeOrderPlaced,
		TypeOrderModified,
		TypeOrderCancelled,
		TypeOrderFilled,
		TypeOrderRejected,
		TypeOrderExpired,
		TypeOrderReconciled,
	}
}

// marshalPayload enforces the payload schema for each event type. The
// payload must be the exact variant for the type; anything else fails
// validation before a row is written.
func marshalPayload(eventType string, payload interface{}) (string, error) {
	var ok bool
	switch eventType {
	case TypeOrderCreated:
		_, ok = payload.(CreatedPayload)
	case TypeOrderPlaced:
		_, ok = payload.(PlacedPayload)
	case TypeOrderModified:
		_, ok = payload.(ModifiedPayload)
	case TypeOrderCancelled:
		_, ok = payload.(CancelledPayload)
	case TypeOrderFilled:
		_, ok = payload.(FilledPayload)
	case TypeOrderRejected:
		_, ok = payload.(RejectedPayload)
	case TypeOrderExpired:
		_, ok = payload.(ExpiredPayload)
	case TypeOrderReconciled:
		_, ok = payload.(ReconciledPayload)
	default:
		return "", types.NewValidationError("event_type", fmt.Sprintf("unknown event type %q", eventType))
	}
	if !ok {
		return "", types.NewValidationError("event_data",
			fmt.Sprintf("payload does not match schema for %s", eventType))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return string(data), nil
}

// GinHandlers contains HTTP handlers for audit trail endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for event endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateEventHandler handles POST requests to record lifecycle events.
// The payload is re-validated against the event type's schema.
func (h *GinHandlers) CreateEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID   string          `json:"order_id" binding:"required"`
			EventType string          `json:"event_type" binding:"required"`
			EventData json.RawMessage `json:"event_data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payload, err := decodePayload(req.EventType, req.EventData)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		event, err := h.service.CreateEvent(req.OrderID, req.EventType, payload)
		response.Handle(c, event, err)
	}
}

// MarkProcessedHandler handles POST requests to flag delivered events
func (h *GinHandlers) MarkProcessedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := c.Param("event_id")

		if err := h.service.MarkProcessed(eventID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"event_id": eventID, "status": StatusProcessed})
	}
}

// GetOrderEventsHandler handles GET requests for an order's events
func (h *GinHandlers) GetOrderEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		events, err := h.service.GetOrderEvents(orderID)
		response.Handle(c, events, err)
	}
}

// GetAuditTrailHandler handles GET requests for the regulatory lineage
func (h *GinHandlers) GetAuditTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		trail, err := h.service.GetAuditTrail(orderID)
		response.Handle(c, trail, err)
	}
}

// ComplianceReportHandler handles GET requests for windowed reporting
func (h *GinHandlers) ComplianceReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			response.BadRequest(c, "from must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			response.BadRequest(c, "to must be RFC3339")
			return
		}

		report, err := h.service.GetComplianceReport(from, to, c.Query("order_id"), c.Query("event_type"))
		response.Handle(c, report, err)
	}
}

// StatisticsHandler handles GET requests for operational event counts
func (h *GinHandlers) StatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStatistics()
		response.Handle(c, stats, err)
	}
}

// ListEventTypesHandler handles GET requests for the event taxonomy
func (h *GinHandlers) ListEventTypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"event_types": h.service.ListEventTypes()})
	}
}

// decodePayload unmarshals raw JSON into the typed variant for eventType
// so handler input passes through the same schema gate as internal calls.
func decodePayload(eventType string, raw json.RawMessage) (interface{}, error) {
	decode := func(target interface{}) (interface{}, error) {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, types.NewValidationError("event_data", err.Error())
		}
		return target, nil
	}

	switch eventType {
	case TypeOrderCreated:
		var p CreatedPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderPlaced:
		var p PlacedPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderModified:
		var p ModifiedPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderCancelled:
		var p CancelledPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderFilled:
		var p FilledPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderRejected:
		var p RejectedPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderExpired:
		var p ExpiredPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeOrderReconciled:
		var p ReconciledPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, types.NewValidationError("event_type", fmt.Sprintf("unknown event type %q", eventType))
	}
}
