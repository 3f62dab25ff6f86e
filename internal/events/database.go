package events

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateEvent(event *OrderEvent) error {
	return d.db.Create(event).Error
}

func (d *Database) GetEvent(eventID string) (*OrderEvent, error) {
	var event OrderEvent
	if err := d.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkProcessed updates only status and processed_at; event_type and
// event_data stay immutable.
func (d *Database) MarkProcessed(eventID string, at time.Time) error {
	return d.db.Model(&OrderEvent{}).
		Where("event_id = ? AND status = ?", eventID, StatusPending).
		Updates(map[string]interface{}{
			"status":       StatusProcessed,
			"processed_at": at,
		}).Error
}

// GetOrderEvents returns all events for an order in creation order.
func (d *Database) GetOrderEvents(orderID string) ([]OrderEvent, error) {
	var events []OrderEvent
	err := d.db.Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetLatestEvent returns the most recent event for an order, or nil.
func (d *Database) GetLatestEvent(orderID string) (*OrderEvent, error) {
	var event OrderEvent
	err := d.db.Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

type typeCount struct {
	EventType string
	Count     int64
}

// CountByType aggregates event counts per type within a window, with
// optional order and type filters.
func (d *Database) CountByType(from, to time.Time, orderID, eventType string) (map[string]int64, int64, error) {
	query := d.db.Model(&OrderEvent{}).
		Where("created_at >= ? AND created_at < ?", from, to)
	if orderID != "" {
		query = query.Where("order_id = ?", orderID)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	var rows []typeCount
	if err := query.Select("event_type, COUNT(*) AS count").
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.EventType] = row.Count
		total += row.Count
	}
	return counts, total, nil
}

// CountUniqueOrders counts distinct orders with events in a window.
func (d *Database) CountUniqueOrders(from, to time.Time) (int64, error) {
	var count int64
	err := d.db.Model(&OrderEvent{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Distinct("order_id").
		Count(&count).Error
	return count, err
}

// Statistics aggregates counts by type and status across all retained events.
func (d *Database) Statistics() (*Statistics, error) {
	var rows []typeCount
	if err := d.db.Model(&OrderEvent{}).
		Select("event_type, COUNT(*) AS count").
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Statistics{CountsByType: make(map[string]int64, len(rows))}
	for _, row := range rows {
		stats.CountsByType[row.EventType] = row.Count
		stats.Total += row.Count
	}

	if err := d.db.Model(&OrderEvent{}).
		Where("status = ?", StatusPending).
		Count(&stats.PendingCount).Error; err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.ProcessedRate = float64(stats.Total-stats.PendingCount) / float64(stats.Total)
	}
	return stats, nil
}
