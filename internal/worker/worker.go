package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"reservation-service/internal/broker"
	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"github.com/segmentio/kafka-go"
)

// NotificationWorker consumes booking lifecycle events and drives the
// customer-facing notification side effects. Delivery itself is an
// external concern; this worker logs the intent and keeps the event
// stream drained.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnBookingCreated(func(ctx context.Context, event *models.BookingCreatedEvent) error {
		log.Printf("Notify: booking %d confirmed for user %d (%d seats on flight %d)",
			event.BookingID, event.UserID, event.SeatCount, event.FlightID)
		return nil
	})
	eventHandler.OnBookingCancelled(func(ctx context.Context, event *models.BookingCancelledEvent) error {
		log.Printf("Notify: booking %d cancelled for user %d (%d seats back on flight %d)",
			event.BookingID, event.UserID, event.SeatCount, event.FlightID)
		return nil
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// CompensationWorker consumes seat compensation alerts and retries the
// failed release until the flight's inventory is whole again. Seats
// must never stay stranded: an alert that cannot be resolved within
// the retry budget is left uncommitted for redelivery.
type CompensationWorker struct {
	consumer   *broker.Consumer
	inventory  *service.InventoryReconciler
	maxRetries int
	retryDelay time.Duration
}

// NewCompensationWorker creates a new compensation worker
func NewCompensationWorker(
	consumer *broker.Consumer,
	inventory *service.InventoryReconciler,
	maxRetries int,
	retryDelay time.Duration,
) *CompensationWorker {
	return &CompensationWorker{
		consumer:   consumer,
		inventory:  inventory,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Start starts the compensation worker
func (w *CompensationWorker) Start(ctx context.Context) error {
	log.Println("Starting compensation worker...")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var event models.SeatCompensationFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("Failed to unmarshal compensation alert: %v", err)
			return nil // malformed alerts cannot be retried, drop them
		}
		return w.resolve(ctx, &event)
	})
}

// resolve retries the stranded release with a fixed delay between
// attempts.
func (w *CompensationWorker) resolve(ctx context.Context, event *models.SeatCompensationFailedEvent) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		util.SeatCompensationRetries.Inc()
		lastErr = w.inventory.Release(ctx, event.FlightID, event.SeatCount)
		if lastErr == nil {
			log.Printf("Compensation resolved: released %d seats on flight %d (attempt %d)",
				event.SeatCount, event.FlightID, attempt)
			return nil
		}

		log.Printf("Compensation retry %d/%d failed for flight %d: %v",
			attempt, w.maxRetries, event.FlightID, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelay):
		}
	}

	return fmt.Errorf("%w: flight %d not resolved after %d attempts: %w",
		service.ErrCompensationFailed, event.FlightID, w.maxRetries, lastErr)
}

// Stop stops the compensation worker
func (w *CompensationWorker) Stop() error {
	log.Println("Stopping compensation worker...")
	return w.consumer.Close()
}
