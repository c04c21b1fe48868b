package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reservation-service/internal/models"
	"reservation-service/internal/query"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BookingSchema is the closed query vocabulary for the booking
// collection.
var BookingSchema = query.NewSchema("createdAt", false,
	query.Field{Param: "id", Column: "id", Type: query.TypeNumber},
	query.Field{Param: "flight", Column: "flight_id", Type: query.TypeNumber},
	query.Field{Param: "user", Column: "user_id", Type: query.TypeNumber},
	query.Field{Param: "seatCount", Column: "seat_count", Type: query.TypeNumber},
	query.Field{Param: "bookingDate", Column: "booking_date", Type: query.TypeTime},
	query.Field{Param: "totalPrice", Column: "total_price", Type: query.TypeNumber},
	query.Field{Param: "status", Column: "status", Type: query.TypeEnum, Enum: []string{
		models.BookingStatusPending,
		models.BookingStatusConfirmed,
		models.BookingStatusCheckedIn,
		models.BookingStatusBoarded,
		models.BookingStatusCompleted,
		models.BookingStatusCancelled,
		models.BookingStatusNoShow,
	}},
	query.Field{Param: "paymentStatus", Column: "payment_status", Type: query.TypeString},
	query.Field{Param: "paymentMethod", Column: "payment_method", Type: query.TypeString},
	query.Field{Param: "contactEmail", Column: "contact_email", Type: query.TypeString, Searchable: true},
	query.Field{Param: "contactPhone", Column: "contact_phone", Type: query.TypeString, Searchable: true},
	query.Field{Param: "createdAt", Column: "created_at", Type: query.TypeTime},
)

// CreateBooking persists a booking and its passenger roster in one
// transaction. The seat reservation has already happened by the time
// this runs; a failure here triggers the caller's compensating release.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `
		INSERT INTO bookings (flight_id, user_id, seat_count, booking_date, total_price, status,
			payment_status, payment_method, contact_email, contact_phone, idempotency_key)
		VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, booking_date, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, q,
		b.FlightID, b.UserID, b.SeatCount, b.TotalPrice, b.Status,
		b.PaymentStatus, b.PaymentMethod, b.ContactEmail, b.ContactPhone, b.IdempotencyKey).
		Scan(&b.ID, &b.BookingDate, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := insertPassengersTx(ctx, tx, b.ID, b.Passengers); err != nil {
		return err
	}
	for i := range b.Passengers {
		b.Passengers[i].BookingID = b.ID
	}

	return tx.Commit()
}

func insertPassengersTx(ctx context.Context, tx *sqlx.Tx, bookingID int64, passengers []models.Passenger) error {
	q := `
		INSERT INTO passengers (booking_id, first_name, last_name, date_of_birth, passport_number, seat_number, seat_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	for i := range passengers {
		p := &passengers[i]
		if err := tx.QueryRowxContext(ctx, q,
			bookingID, p.FirstName, p.LastName, p.DateOfBirth, p.PassportNumber, p.SeatNumber, p.SeatClass).
			Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to insert passenger: %w", err)
		}
	}
	return nil
}

// GetBookingByID retrieves a booking with its passenger roster.
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &booking.Passengers,
		"SELECT * FROM passengers WHERE booking_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByIdempotencyKey returns the booking created under the
// given key, or nil when none exists.
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &booking.Passengers,
		"SELECT * FROM passengers WHERE booking_id = $1 ORDER BY id", booking.ID); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookings runs a feature-shaped listing query. A non-nil ownerID
// scopes the listing to that user's bookings.
func (s *Store) ListBookings(ctx context.Context, feats *query.Features, ownerID *int64) ([]models.Booking, error) {
	var q string
	var args []interface{}
	limit, offset := feats.LimitOffset()
	cols := strings.Join(feats.SelectColumns(), ", ")

	if ownerID != nil {
		clause, whereArgs := feats.AndClause(1)
		q = fmt.Sprintf("SELECT %s FROM bookings WHERE user_id = $1 %s %s LIMIT %d OFFSET %d",
			cols, clause, feats.OrderByClause(), limit, offset)
		args = append([]interface{}{*ownerID}, whereArgs...)
	} else {
		clause, whereArgs := feats.WhereClause(0)
		q = fmt.Sprintf("SELECT %s FROM bookings %s %s LIMIT %d OFFSET %d",
			cols, clause, feats.OrderByClause(), limit, offset)
		args = whereArgs
	}

	bookings := []models.Booking{}
	if err := s.db.SelectContext(ctx, &bookings, q, args...); err != nil {
		return nil, err
	}
	if err := s.attachPassengers(ctx, bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// CountBookings counts rows matching the filter, optionally scoped to
// an owner, for pagination metadata.
func (s *Store) CountBookings(ctx context.Context, feats *query.Features, ownerID *int64) (int64, error) {
	var q string
	var args []interface{}

	if ownerID != nil {
		clause, whereArgs := feats.AndClause(1)
		q = "SELECT COUNT(*) FROM bookings WHERE user_id = $1 " + clause
		args = append([]interface{}{*ownerID}, whereArgs...)
	} else {
		clause, whereArgs := feats.WhereClause(0)
		q = "SELECT COUNT(*) FROM bookings " + clause
		args = whereArgs
	}

	var count int64
	err := s.db.GetContext(ctx, &count, q, args...)
	return count, err
}

func (s *Store) attachPassengers(ctx context.Context, bookings []models.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(bookings))
	byID := make(map[int64]*models.Booking, len(bookings))
	for i := range bookings {
		if bookings[i].ID == 0 {
			continue // projection excluded the id column
		}
		ids = append(ids, bookings[i].ID)
		byID[bookings[i].ID] = &bookings[i]
	}
	if len(ids) == 0 {
		return nil
	}

	var passengers []models.Passenger
	err := s.db.SelectContext(ctx, &passengers,
		"SELECT * FROM passengers WHERE booking_id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return err
	}
	for _, p := range passengers {
		if b, ok := byID[p.BookingID]; ok {
			b.Passengers = append(b.Passengers, p)
		}
	}
	return nil
}

// UpdateBooking patches the mutable booking fields and replaces the
// passenger roster. Flight, user, status, and the seat count are never
// written here; the caller enforces that the roster length is
// unchanged before calling.
func (s *Store) UpdateBooking(ctx context.Context, b *models.Booking) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `
		UPDATE bookings
		SET total_price = $1, payment_status = $2, payment_method = $3,
			contact_email = $4, contact_phone = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err = tx.QueryRowxContext(ctx, q,
		b.TotalPrice, b.PaymentStatus, b.PaymentMethod, b.ContactEmail, b.ContactPhone, b.ID).
		Scan(&b.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("booking %d: %w", b.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM passengers WHERE booking_id = $1", b.ID); err != nil {
		return err
	}
	if err := insertPassengersTx(ctx, tx, b.ID, b.Passengers); err != nil {
		return err
	}

	return tx.Commit()
}

// CancelBooking flips the booking to Cancelled and credits its seats
// back to the flight in one transaction, so neither write is ever
// visible without the other. The status UPDATE is guarded against
// terminal statuses inside the database, which makes a concurrent
// double-cancel lose cleanly instead of double-crediting seats.
func (s *Store) CancelBooking(ctx context.Context, bookingID, flightID int64, seats int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND NOT (status = ANY($3))`,
		models.BookingStatusCancelled, bookingID, pq.Array(models.TerminalBookingStatuses))
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)", bookingID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
		}
		return fmt.Errorf("booking %d: %w", bookingID, ErrTerminalStatus)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE flights
		SET available_seats = LEAST(available_seats + $1, capacity), updated_at = NOW()
		WHERE id = $2`, seats, flightID); err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}

	return tx.Commit()
}

// TransitionBookingStatus applies a non-cancel lifecycle transition
// (check-in, boarding, completion, no-show) with the same database-side
// guard: the row only moves if it is still in the expected status.
func (s *Store) TransitionBookingStatus(ctx context.Context, bookingID int64, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, to, bookingID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)", bookingID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
		}
		return fmt.Errorf("booking %d: %w", bookingID, ErrTerminalStatus)
	}
	return nil
}

// GetBookingStatsByMonth aggregates non-cancelled bookings by calendar
// month of the booking date.
func (s *Store) GetBookingStatsByMonth(ctx context.Context) ([]models.BookingMonthStat, error) {
	stats := []models.BookingMonthStat{}
	err := s.db.SelectContext(ctx, &stats, `
		SELECT EXTRACT(MONTH FROM booking_date)::int AS month,
			COUNT(*) AS num_bookings,
			COALESCE(SUM(total_price), 0) AS total_revenue,
			COALESCE(AVG(total_price), 0)::bigint AS avg_price
		FROM bookings
		WHERE status <> $1
		GROUP BY 1
		ORDER BY 1`, models.BookingStatusCancelled)
	return stats, err
}

// GetBookingStatsByStatus aggregates bookings grouped by status.
func (s *Store) GetBookingStatsByStatus(ctx context.Context) ([]models.BookingStatusStat, error) {
	stats := []models.BookingStatusStat{}
	err := s.db.SelectContext(ctx, &stats, `
		SELECT status,
			COUNT(*) AS count,
			COALESCE(SUM(total_price), 0) AS total_revenue
		FROM bookings
		GROUP BY status
		ORDER BY status`)
	return stats, err
}
