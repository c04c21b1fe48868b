package models

import "time"

// Event types
const (
	EventTypeBookingCreated         = "BOOKING_CREATED"
	EventTypeBookingCancelled       = "BOOKING_CANCELLED"
	EventTypeBookingUpdated         = "BOOKING_UPDATED"
	EventTypeSeatCompensationFailed = "SEAT_COMPENSATION_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a booking is confirmed and its
// seats are reserved
type BookingCreatedEvent struct {
	BaseEvent
	BookingID  int64 `json:"booking_id"`
	FlightID   int64 `json:"flight_id"`
	UserID     int64 `json:"user_id"`
	SeatCount  int   `json:"seat_count"`
	TotalPrice int64 `json:"total_price"`
}

// BookingCancelledEvent published when a booking is cancelled and its
// seats are released
type BookingCancelledEvent struct {
	BaseEvent
	BookingID int64  `json:"booking_id"`
	FlightID  int64  `json:"flight_id"`
	UserID    int64  `json:"user_id"`
	SeatCount int    `json:"seat_count"`
	Reason    string `json:"reason"`
}

// BookingUpdatedEvent published when non-lifecycle booking fields change
type BookingUpdatedEvent struct {
	BaseEvent
	BookingID int64 `json:"booking_id"`
	UserID    int64 `json:"user_id"`
}

// SeatCompensationFailedEvent is the operator-facing integrity alert
// raised when a compensating seat release could not be completed. The
// reconciler worker consumes it and retries the release until the
// flight's inventory is whole again.
type SeatCompensationFailedEvent struct {
	BaseEvent
	FlightID  int64  `json:"flight_id"`
	SeatCount int    `json:"seat_count"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
}
