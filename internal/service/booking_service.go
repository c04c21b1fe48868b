package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/query"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingStore is the booking persistence surface the controller needs.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	ListBookings(ctx context.Context, feats *query.Features, ownerID *int64) ([]models.Booking, error)
	CountBookings(ctx context.Context, feats *query.Features, ownerID *int64) (int64, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	TransitionBookingStatus(ctx context.Context, bookingID int64, from, to string) error
	GetBookingStatsByMonth(ctx context.Context) ([]models.BookingMonthStat, error)
	GetBookingStatsByStatus(ctx context.Context) ([]models.BookingStatusStat, error)
}

// FlightReader is the read-only flight access the controller needs.
type FlightReader interface {
	GetFlightByID(ctx context.Context, id int64) (*models.Flight, error)
}

// EventPublisher publishes booking lifecycle events. A nil publisher
// disables publishing.
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error
	PublishBookingUpdated(ctx context.Context, event *models.BookingUpdatedEvent) error
	PublishCompensationFailed(ctx context.Context, event *models.SeatCompensationFailedEvent) error
}

// BookingService drives the booking lifecycle: it validates requests
// against current inventory, delegates all seat accounting to the
// reconciler as an explicit step, and owns the status state machine.
type BookingService struct {
	bookings  BookingStore
	flights   FlightReader
	inventory *InventoryReconciler
	publisher EventPublisher
	logger    *zap.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(
	bookings BookingStore,
	flights FlightReader,
	inventory *InventoryReconciler,
	publisher EventPublisher,
) *BookingService {
	return &BookingService{
		bookings:  bookings,
		flights:   flights,
		inventory: inventory,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// PassengerRequest is one roster entry in a booking request
type PassengerRequest struct {
	FirstName      string    `json:"firstName" binding:"required"`
	LastName       string    `json:"lastName" binding:"required"`
	DateOfBirth    time.Time `json:"dateOfBirth" binding:"required"`
	PassportNumber string    `json:"passportNumber" binding:"required"`
	SeatNumber     string    `json:"seatNumber"`
	SeatClass      string    `json:"seatClass"`
}

// CreateBookingRequest represents a request to create a booking
type CreateBookingRequest struct {
	FlightID       int64              `json:"flight" binding:"required"`
	Passengers     []PassengerRequest `json:"passengers" binding:"required,min=1"`
	TotalPrice     int64              `json:"totalPrice"`
	PaymentStatus  string             `json:"paymentStatus"`
	PaymentMethod  string             `json:"paymentMethod"`
	ContactEmail   string             `json:"contactEmail" binding:"required"`
	ContactPhone   string             `json:"contactPhone" binding:"required"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// UpdateBookingRequest patches the mutable booking fields. Flight,
// user, status, and the roster size cannot be changed through this
// path; a passenger-count change would need inventory arithmetic and
// must go through create/cancel instead.
type UpdateBookingRequest struct {
	TotalPrice    *int64             `json:"totalPrice"`
	PaymentStatus *string            `json:"paymentStatus"`
	PaymentMethod *string            `json:"paymentMethod"`
	ContactEmail  *string            `json:"contactEmail"`
	ContactPhone  *string            `json:"contactPhone"`
	Passengers    []PassengerRequest `json:"passengers"`
}

func (r *CreateBookingRequest) validate() error {
	if len(r.Passengers) == 0 {
		return fmt.Errorf("%w: passenger roster must not be empty", ErrValidation)
	}
	if r.TotalPrice < 0 {
		return fmt.Errorf("%w: total price cannot be negative", ErrValidation)
	}
	if strings.TrimSpace(r.ContactEmail) == "" || !strings.Contains(r.ContactEmail, "@") {
		return fmt.Errorf("%w: contact email is required", ErrValidation)
	}
	if strings.TrimSpace(r.ContactPhone) == "" {
		return fmt.Errorf("%w: contact phone is required", ErrValidation)
	}
	for i := range r.Passengers {
		if err := validatePassenger(&r.Passengers[i]); err != nil {
			return err
		}
	}
	return nil
}

func validatePassenger(p *PassengerRequest) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: passenger name is required", ErrValidation)
	}
	if p.DateOfBirth.IsZero() {
		return fmt.Errorf("%w: passenger date of birth is required", ErrValidation)
	}
	if strings.TrimSpace(p.PassportNumber) == "" {
		return fmt.Errorf("%w: passenger passport number is required", ErrValidation)
	}
	switch p.SeatClass {
	case "":
		p.SeatClass = models.SeatClassEconomy
	case models.SeatClassEconomy, models.SeatClassBusiness, models.SeatClassFirst:
	default:
		return fmt.Errorf("%w: unknown seat class %q", ErrValidation, p.SeatClass)
	}
	return nil
}

func rosterFromRequest(passengers []PassengerRequest) []models.Passenger {
	roster := make([]models.Passenger, len(passengers))
	for i, p := range passengers {
		roster[i] = models.Passenger{
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			DateOfBirth:    p.DateOfBirth,
			PassportNumber: p.PassportNumber,
			SeatNumber:     p.SeatNumber,
			SeatClass:      p.SeatClass,
		}
	}
	return roster
}

// Create reserves seats for the roster, then persists the booking as
// Confirmed. The reservation happens first; if persistence then fails,
// the reserved seats are released again so no inventory is stranded.
// A compensation failure is the one non-recoverable path: it is logged,
// counted, and published as an operator alert for the reconciler
// worker to retry.
func (s *BookingService) Create(ctx context.Context, p Principal, req *CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer span.End()

	if err := req.validate(); err != nil {
		util.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.bookings.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate booking request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("booking_id", existing.ID))
			return existing, nil
		}
	}

	if _, err := s.flights.GetFlightByID(ctx, req.FlightID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.BookingsFailedTotal.WithLabelValues("flight_not_found").Inc()
			return nil, ErrFlightNotFound
		}
		return nil, err
	}

	seats := len(req.Passengers)
	if err := s.inventory.Reserve(ctx, req.FlightID, seats); err != nil {
		if errors.Is(err, ErrInsufficientSeats) {
			util.BookingsFailedTotal.WithLabelValues("insufficient_seats").Inc()
		}
		return nil, err
	}

	booking := &models.Booking{
		FlightID:       req.FlightID,
		UserID:         p.UserID,
		SeatCount:      seats,
		TotalPrice:     req.TotalPrice,
		Status:         models.BookingStatusConfirmed,
		PaymentStatus:  defaultString(req.PaymentStatus, "Paid"),
		PaymentMethod:  defaultString(req.PaymentMethod, "Credit Card"),
		ContactEmail:   strings.ToLower(strings.TrimSpace(req.ContactEmail)),
		ContactPhone:   strings.TrimSpace(req.ContactPhone),
		IdempotencyKey: req.IdempotencyKey,
		Passengers:     rosterFromRequest(req.Passengers),
	}

	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		s.compensateReservation(ctx, req.FlightID, seats, err)
		util.BookingsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to persist booking: %w", err)
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("flight_id", booking.FlightID),
		zap.Int("seats", seats))

	s.publishCreated(ctx, booking)
	return booking, nil
}

// compensateReservation releases seats reserved for a booking that was
// never persisted. Failure here means inventory is stranded: raise the
// operator alert and let the reconciler worker retry.
func (s *BookingService) compensateReservation(ctx context.Context, flightID int64, seats int, cause error) {
	if err := s.inventory.Release(ctx, flightID, seats); err != nil {
		util.SeatCompensationFailures.Inc()
		s.logger.Error("Compensating seat release failed, inventory stranded",
			zap.Int64("flight_id", flightID),
			zap.Int("seats", seats),
			zap.NamedError("cause", cause),
			zap.Error(err))

		if s.publisher != nil {
			alert := &models.SeatCompensationFailedEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeSeatCompensationFailed,
					Timestamp: time.Now(),
				},
				FlightID:  flightID,
				SeatCount: seats,
				Reason:    err.Error(),
			}
			if pubErr := s.publisher.PublishCompensationFailed(ctx, alert); pubErr != nil {
				s.logger.Error("Failed to publish compensation alert", zap.Error(pubErr))
			}
		}
	}
}

// Get returns one booking, enforcing ownership for ordinary principals.
func (s *BookingService) Get(ctx context.Context, p Principal, id int64) (*models.Booking, error) {
	booking, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if !p.Elevated() && booking.UserID != p.UserID {
		return nil, ErrForbidden
	}
	return booking, nil
}

// List returns a page of bookings shaped by the request parameters.
// Ordinary principals only ever see their own bookings.
func (s *BookingService) List(ctx context.Context, p Principal, params url.Values) ([]models.Booking, int64, error) {
	feats, err := query.Parse(params, store.BookingSchema)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var ownerID *int64
	if !p.Elevated() {
		ownerID = &p.UserID
	}

	bookings, err := s.bookings.ListBookings(ctx, feats, ownerID)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.bookings.CountBookings(ctx, feats, ownerID)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// Cancel transitions a booking to Cancelled and releases its seats.
// The status flip and the seat credit commit together; a booking
// already in a terminal status is rejected without touching inventory.
func (s *BookingService) Cancel(ctx context.Context, p Principal, id int64) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel")
	defer span.End()

	booking, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalBookingStatus(booking.Status) {
		return nil, ErrAlreadyTerminal
	}

	if err := s.inventory.ReleaseOnCancel(ctx, booking.ID, booking.FlightID, booking.SeatCount); err != nil {
		return nil, err
	}
	booking.Status = models.BookingStatusCancelled

	util.BookingsCancelledTotal.Inc()
	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("flight_id", booking.FlightID),
		zap.Int("seats_released", booking.SeatCount))

	if s.publisher != nil {
		event := &models.BookingCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeBookingCancelled,
				Timestamp: time.Now(),
			},
			BookingID: booking.ID,
			FlightID:  booking.FlightID,
			UserID:    booking.UserID,
			SeatCount: booking.SeatCount,
			Reason:    "cancelled by " + p.Role,
		}
		if err := s.publisher.PublishBookingCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish BookingCancelled event", zap.Error(err))
		}
	}

	return booking, nil
}

// Update patches the mutable fields of a booking. Passenger details may
// change, but the roster size may not: that would change the seat count
// behind the reconciler's back.
func (s *BookingService) Update(ctx context.Context, p Principal, id int64, req *UpdateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Update")
	defer span.End()

	booking, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalBookingStatus(booking.Status) {
		return nil, ErrAlreadyTerminal
	}

	if req.TotalPrice != nil {
		if *req.TotalPrice < 0 {
			return nil, fmt.Errorf("%w: total price cannot be negative", ErrValidation)
		}
		booking.TotalPrice = *req.TotalPrice
	}
	if req.PaymentStatus != nil {
		booking.PaymentStatus = *req.PaymentStatus
	}
	if req.PaymentMethod != nil {
		booking.PaymentMethod = *req.PaymentMethod
	}
	if req.ContactEmail != nil {
		if !strings.Contains(*req.ContactEmail, "@") {
			return nil, fmt.Errorf("%w: contact email is malformed", ErrValidation)
		}
		booking.ContactEmail = strings.ToLower(strings.TrimSpace(*req.ContactEmail))
	}
	if req.ContactPhone != nil {
		booking.ContactPhone = strings.TrimSpace(*req.ContactPhone)
	}
	if req.Passengers != nil {
		if len(req.Passengers) != booking.SeatCount {
			return nil, fmt.Errorf("%w: passenger count cannot change on update", ErrValidation)
		}
		for i := range req.Passengers {
			if err := validatePassenger(&req.Passengers[i]); err != nil {
				return nil, err
			}
		}
		booking.Passengers = rosterFromRequest(req.Passengers)
	}

	if err := s.bookings.UpdateBooking(ctx, booking); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if s.publisher != nil {
		event := &models.BookingUpdatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeBookingUpdated,
				Timestamp: time.Now(),
			},
			BookingID: booking.ID,
			UserID:    booking.UserID,
		}
		if err := s.publisher.PublishBookingUpdated(ctx, event); err != nil {
			s.logger.Error("Failed to publish BookingUpdated event", zap.Error(err))
		}
	}

	return booking, nil
}

// Transition moves a booking along the non-cancel lifecycle edges
// (check-in, boarding, completion, no-show). Cancellation must go
// through Cancel so the seats are released. Check-in is open to the
// booking's owner; the later operational transitions are staff-side.
func (s *BookingService) Transition(ctx context.Context, p Principal, id int64, to string) (*models.Booking, error) {
	if to == models.BookingStatusCancelled {
		return nil, fmt.Errorf("%w: use the cancel operation", ErrInvalidTransition)
	}

	booking, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if to != models.BookingStatusCheckedIn && !p.Elevated() {
		return nil, ErrForbidden
	}
	if models.IsTerminalBookingStatus(booking.Status) {
		return nil, ErrAlreadyTerminal
	}
	if !models.CanTransitionBooking(booking.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, to)
	}

	if err := s.bookings.TransitionBookingStatus(ctx, id, booking.Status, to); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrBookingNotFound
		case errors.Is(err, store.ErrTerminalStatus):
			return nil, ErrAlreadyTerminal
		default:
			return nil, err
		}
	}
	booking.Status = to
	return booking, nil
}

// StatsByMonth reports non-cancelled booking volume and revenue per
// month. Elevated principals only.
func (s *BookingService) StatsByMonth(ctx context.Context, p Principal) ([]models.BookingMonthStat, error) {
	if !p.Elevated() {
		return nil, ErrForbidden
	}
	return s.bookings.GetBookingStatsByMonth(ctx)
}

// StatsByStatus reports booking counts and revenue per status.
// Elevated principals only.
func (s *BookingService) StatsByStatus(ctx context.Context, p Principal) ([]models.BookingStatusStat, error) {
	if !p.Elevated() {
		return nil, ErrForbidden
	}
	return s.bookings.GetBookingStatsByStatus(ctx)
}

func (s *BookingService) publishCreated(ctx context.Context, booking *models.Booking) {
	if s.publisher == nil {
		return
	}
	event := &models.BookingCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBookingCreated,
			Timestamp: time.Now(),
		},
		BookingID:  booking.ID,
		FlightID:   booking.FlightID,
		UserID:     booking.UserID,
		SeatCount:  booking.SeatCount,
		TotalPrice: booking.TotalPrice,
	}
	if err := s.publisher.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
