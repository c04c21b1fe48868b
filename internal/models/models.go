package models

import (
	"time"
)

// Flight statuses
const (
	FlightStatusScheduled = "Scheduled"
	FlightStatusBoarding  = "Boarding"
	FlightStatusDeparted  = "Departed"
	FlightStatusInAir     = "InAir"
	FlightStatusLanded    = "Landed"
	FlightStatusArrived   = "Arrived"
	FlightStatusDelayed   = "Delayed"
	FlightStatusCancelled = "Cancelled"
	FlightStatusDiverted  = "Diverted"
)

// FlightStatuses lists every valid flight status.
var FlightStatuses = []string{
	FlightStatusScheduled,
	FlightStatusBoarding,
	FlightStatusDeparted,
	FlightStatusInAir,
	FlightStatusLanded,
	FlightStatusArrived,
	FlightStatusDelayed,
	FlightStatusCancelled,
	FlightStatusDiverted,
}

// Booking statuses
const (
	BookingStatusPending   = "Pending"
	BookingStatusConfirmed = "Confirmed"
	BookingStatusCheckedIn = "CheckedIn"
	BookingStatusBoarded   = "Boarded"
	BookingStatusCompleted = "Completed"
	BookingStatusCancelled = "Cancelled"
	BookingStatusNoShow    = "NoShow"
)

// Seat classes
const (
	SeatClassEconomy  = "Economy"
	SeatClassBusiness = "Business"
	SeatClassFirst    = "First"
)

// Principal roles supplied by the upstream auth layer
const (
	RoleAdministrator = "Administrator"
	RoleStaff         = "Staff"
	RoleCustomer      = "Customer"
)

// bookingTransitions is the booking lifecycle state machine. A status
// missing from the map is terminal.
var bookingTransitions = map[string][]string{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCheckedIn, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusCheckedIn: {BookingStatusBoarded, BookingStatusCancelled},
	BookingStatusBoarded:   {BookingStatusCompleted},
}

// TerminalBookingStatuses are the statuses with no outgoing transitions.
var TerminalBookingStatuses = []string{
	BookingStatusCancelled,
	BookingStatusCompleted,
	BookingStatusNoShow,
}

// IsTerminalBookingStatus reports whether no further transition is
// permitted from the given status.
func IsTerminalBookingStatus(status string) bool {
	_, ok := bookingTransitions[status]
	return !ok
}

// CanTransitionBooking reports whether the booking lifecycle permits
// moving from one status to another.
func CanTransitionBooking(from, to string) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Flight represents a scheduled service between two points with a fixed
// seat capacity. AvailableSeats is mutated only through the store's
// conditional increment; Capacity is immutable after creation.
type Flight struct {
	ID             int64     `db:"id" json:"id"`
	FlightNumber   string    `db:"flight_number" json:"flightNumber"`
	Origin         string    `db:"origin" json:"origin"`
	Destination    string    `db:"destination" json:"destination"`
	DepartureTime  time.Time `db:"departure_time" json:"departureTime"`
	ArrivalTime    time.Time `db:"arrival_time" json:"arrivalTime"`
	AircraftType   string    `db:"aircraft_type" json:"aircraftType"`
	Status         string    `db:"status" json:"status"`
	Capacity       int       `db:"capacity" json:"capacity"`
	AvailableSeats int       `db:"available_seats" json:"availableSeats"`
	PriceEconomy   int64     `db:"price_economy" json:"priceEconomy"`
	PriceBusiness  int64     `db:"price_business" json:"priceBusiness"`
	PriceFirst     int64     `db:"price_first" json:"priceFirstClass"`
	Notes          string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Duration returns the scheduled flight time.
func (f *Flight) Duration() time.Duration {
	return f.ArrivalTime.Sub(f.DepartureTime)
}

// Passenger is one member of a booking's roster.
type Passenger struct {
	ID             int64     `db:"id" json:"id"`
	BookingID      int64     `db:"booking_id" json:"-"`
	FirstName      string    `db:"first_name" json:"firstName"`
	LastName       string    `db:"last_name" json:"lastName"`
	DateOfBirth    time.Time `db:"date_of_birth" json:"dateOfBirth"`
	PassportNumber string    `db:"passport_number" json:"passportNumber"`
	SeatNumber     string    `db:"seat_number" json:"seatNumber,omitempty"`
	SeatClass      string    `db:"seat_class" json:"seatClass"`
}

// Booking is a reservation of seats on a flight for a named passenger
// roster. FlightID and UserID are immutable after creation. SeatCount
// always equals len(Passengers) and is what the inventory arithmetic
// runs on.
type Booking struct {
	ID             int64     `db:"id" json:"id"`
	FlightID       int64     `db:"flight_id" json:"flight"`
	UserID         int64     `db:"user_id" json:"user"`
	SeatCount      int       `db:"seat_count" json:"seatCount"`
	BookingDate    time.Time `db:"booking_date" json:"bookingDate"`
	TotalPrice     int64     `db:"total_price" json:"totalPrice"`
	Status         string    `db:"status" json:"status"`
	PaymentStatus  string    `db:"payment_status" json:"paymentStatus"`
	PaymentMethod  string    `db:"payment_method" json:"paymentMethod"`
	ContactEmail   string    `db:"contact_email" json:"contactEmail"`
	ContactPhone   string    `db:"contact_phone" json:"contactPhone"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`

	Passengers []Passenger `db:"-" json:"passengers"`
}

// BookingMonthStat is one row of the bookings-by-month report.
type BookingMonthStat struct {
	Month        int   `db:"month" json:"month"`
	NumBookings  int64 `db:"num_bookings" json:"numBookings"`
	TotalRevenue int64 `db:"total_revenue" json:"totalRevenue"`
	AvgPrice     int64 `db:"avg_price" json:"avgPrice"`
}

// BookingStatusStat is one row of the bookings-by-status report.
type BookingStatusStat struct {
	Status       string `db:"status" json:"status"`
	Count        int64  `db:"count" json:"count"`
	TotalRevenue int64  `db:"total_revenue" json:"totalRevenue"`
}

// FlightStatusStat is one row of the flights-by-status report.
type FlightStatusStat struct {
	Status         string  `db:"status" json:"status"`
	Count          int64   `db:"count" json:"count"`
	TotalCapacity  int64   `db:"total_capacity" json:"totalCapacity"`
	AvailableSeats int64   `db:"available_seats" json:"availableSeats"`
	AvgEconomy     float64 `db:"avg_economy" json:"avgEconomyPrice"`
}
