package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"reservation-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing booking domain events. Lifecycle
// events go to the booking topic; compensation alerts go to the
// operator alert topic consumed by the reconciler worker.
type EventPublisher struct {
	bookingProducer *Producer
	alertProducer   *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(bookingProducer, alertProducer *Producer) *EventPublisher {
	return &EventPublisher{
		bookingProducer: bookingProducer,
		alertProducer:   alertProducer,
	}
}

// PublishBookingCreated publishes a BookingCreated event
func (ep *EventPublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.bookingProducer.PublishEvent(ctx, key, event)
}

// PublishBookingCancelled publishes a BookingCancelled event
func (ep *EventPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.bookingProducer.PublishEvent(ctx, key, event)
}

// PublishBookingUpdated publishes a BookingUpdated event
func (ep *EventPublisher) PublishBookingUpdated(ctx context.Context, event *models.BookingUpdatedEvent) error {
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.bookingProducer.PublishEvent(ctx, key, event)
}

// PublishCompensationFailed publishes a SeatCompensationFailed alert.
// Keyed by flight so retries for one flight stay ordered.
func (ep *EventPublisher) PublishCompensationFailed(ctx context.Context, event *models.SeatCompensationFailedEvent) error {
	key := fmt.Sprintf("flight-%d", event.FlightID)
	return ep.alertProducer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onBookingCreated     func(context.Context, *models.BookingCreatedEvent) error
	onBookingCancelled   func(context.Context, *models.BookingCancelledEvent) error
	onCompensationFailed func(context.Context, *models.SeatCompensationFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnBookingCreated registers a handler for BookingCreated events
func (eh *EventHandler) OnBookingCreated(handler func(context.Context, *models.BookingCreatedEvent) error) {
	eh.onBookingCreated = handler
}

// OnBookingCancelled registers a handler for BookingCancelled events
func (eh *EventHandler) OnBookingCancelled(handler func(context.Context, *models.BookingCancelledEvent) error) {
	eh.onBookingCancelled = handler
}

// OnCompensationFailed registers a handler for SeatCompensationFailed alerts
func (eh *EventHandler) OnCompensationFailed(handler func(context.Context, *models.SeatCompensationFailedEvent) error) {
	eh.onCompensationFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeBookingCreated:
		if eh.onBookingCreated != nil {
			var event models.BookingCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BookingCreated event: %w", err)
			}
			return eh.onBookingCreated(ctx, &event)
		}

	case models.EventTypeBookingCancelled:
		if eh.onBookingCancelled != nil {
			var event models.BookingCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BookingCancelled event: %w", err)
			}
			return eh.onBookingCancelled(ctx, &event)
		}

	case models.EventTypeSeatCompensationFailed:
		if eh.onCompensationFailed != nil {
			var event models.SeatCompensationFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SeatCompensationFailed event: %w", err)
			}
			return eh.onCompensationFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
