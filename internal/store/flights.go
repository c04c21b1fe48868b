package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reservation-service/internal/models"
	"reservation-service/internal/query"
)

// FlightSchema is the closed query vocabulary for the flight collection.
// The price field filters on the economy fare, which is the base fare
// the listing UI ranges over.
var FlightSchema = query.NewSchema("departureTime", false,
	query.Field{Param: "id", Column: "id", Type: query.TypeNumber},
	query.Field{Param: "flightNumber", Column: "flight_number", Type: query.TypeString, Searchable: true},
	query.Field{Param: "origin", Column: "origin", Type: query.TypeString, Searchable: true},
	query.Field{Param: "destination", Column: "destination", Type: query.TypeString, Searchable: true},
	query.Field{Param: "departureTime", Column: "departure_time", Type: query.TypeTime},
	query.Field{Param: "arrivalTime", Column: "arrival_time", Type: query.TypeTime},
	query.Field{Param: "aircraftType", Column: "aircraft_type", Type: query.TypeString, Searchable: true},
	query.Field{Param: "status", Column: "status", Type: query.TypeEnum, Enum: models.FlightStatuses},
	query.Field{Param: "capacity", Column: "capacity", Type: query.TypeNumber},
	query.Field{Param: "availableSeats", Column: "available_seats", Type: query.TypeNumber},
	query.Field{Param: "price", Column: "price_economy", Type: query.TypeNumber},
	query.Field{Param: "priceBusiness", Column: "price_business", Type: query.TypeNumber},
	query.Field{Param: "priceFirstClass", Column: "price_first", Type: query.TypeNumber},
	query.Field{Param: "notes", Column: "notes", Type: query.TypeString, Searchable: true},
)

// CreateFlight inserts a new flight. Available seats start equal to
// capacity; they are only ever changed through ReserveSeats and
// ReleaseSeats afterwards.
func (s *Store) CreateFlight(ctx context.Context, f *models.Flight) error {
	q := `
		INSERT INTO flights (flight_number, origin, destination, departure_time, arrival_time,
			aircraft_type, status, capacity, available_seats, price_economy, price_business, price_first, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $10, $11, $12)
		RETURNING id, available_seats, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, q,
		f.FlightNumber, f.Origin, f.Destination, f.DepartureTime, f.ArrivalTime,
		f.AircraftType, f.Status, f.Capacity, f.PriceEconomy, f.PriceBusiness, f.PriceFirst, f.Notes)
	return row.Scan(&f.ID, &f.AvailableSeats, &f.CreatedAt, &f.UpdatedAt)
}

// GetFlightByID retrieves a flight by ID
func (s *Store) GetFlightByID(ctx context.Context, id int64) (*models.Flight, error) {
	var flight models.Flight
	err := s.db.GetContext(ctx, &flight, "SELECT * FROM flights WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flight %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &flight, nil
}

// ListFlights runs a feature-shaped listing query.
func (s *Store) ListFlights(ctx context.Context, feats *query.Features) ([]models.Flight, error) {
	where, args := feats.WhereClause(0)
	limit, offset := feats.LimitOffset()

	q := fmt.Sprintf("SELECT %s FROM flights %s %s LIMIT %d OFFSET %d",
		strings.Join(feats.SelectColumns(), ", "), where, feats.OrderByClause(), limit, offset)

	flights := []models.Flight{}
	err := s.db.SelectContext(ctx, &flights, q, args...)
	return flights, err
}

// CountFlights counts rows matching the feature filter, for pagination
// metadata.
func (s *Store) CountFlights(ctx context.Context, feats *query.Features) (int64, error) {
	where, args := feats.WhereClause(0)
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM flights "+where, args...)
	return count, err
}

// UpdateFlight updates the mutable flight fields. Capacity and
// available_seats are deliberately absent: capacity is immutable and
// seats move only through the conditional increment.
func (s *Store) UpdateFlight(ctx context.Context, f *models.Flight) error {
	q := `
		UPDATE flights
		SET flight_number = $1, origin = $2, destination = $3, departure_time = $4,
			arrival_time = $5, aircraft_type = $6, status = $7, price_economy = $8,
			price_business = $9, price_first = $10, notes = $11, updated_at = NOW()
		WHERE id = $12
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, q,
		f.FlightNumber, f.Origin, f.Destination, f.DepartureTime, f.ArrivalTime,
		f.AircraftType, f.Status, f.PriceEconomy, f.PriceBusiness, f.PriceFirst, f.Notes, f.ID).
		Scan(&f.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("flight %d: %w", f.ID, ErrNotFound)
	}
	return err
}

// DeleteFlight removes a flight unless non-Cancelled bookings still
// reference it.
func (s *Store) DeleteFlight(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM flights
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM bookings WHERE flight_id = $1 AND status <> $2
		  )`, id, models.BookingStatusCancelled)
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
			"SELECT EXISTS(SELECT 1 FROM flights WHERE id = $1)", id); err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("flight %d: %w", id, ErrActiveBookings)
		}
		return fmt.Errorf("flight %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReserveSeats checks and decrements available seats as a single guarded
// UPDATE: the decrement happens only if the current count covers the
// request, so two concurrent reservations can never both win the last
// seat. A zero row count means the guard failed or the flight is gone;
// the follow-up existence read only disambiguates the error.
func (s *Store) ReserveSeats(ctx context.Context, flightID int64, seats int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights
		SET available_seats = available_seats - $1, updated_at = NOW()
		WHERE id = $2 AND available_seats >= $1`, seats, flightID)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM flights WHERE id = $1)", flightID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("flight %d: %w", flightID, ErrNotFound)
		}
		return fmt.Errorf("flight %d: %w", flightID, ErrInsufficientSeats)
	}
	return nil
}

// ReleaseSeats credits seats back to a flight, clamped at capacity. A
// release that would exceed capacity signals an upstream integrity bug
// but must not corrupt the count.
func (s *Store) ReleaseSeats(ctx context.Context, flightID int64, seats int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights
		SET available_seats = LEAST(available_seats + $1, capacity), updated_at = NOW()
		WHERE id = $2`, seats, flightID)
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("flight %d: %w", flightID, ErrNotFound)
	}
	return nil
}

// GetFlightStatsByStatus aggregates flights grouped by status.
func (s *Store) GetFlightStatsByStatus(ctx context.Context) ([]models.FlightStatusStat, error) {
	stats := []models.FlightStatusStat{}
	err := s.db.SelectContext(ctx, &stats, `
		SELECT status,
			COUNT(*) AS count,
			COALESCE(SUM(capacity), 0) AS total_capacity,
			COALESCE(SUM(available_seats), 0) AS available_seats,
			COALESCE(AVG(price_economy), 0) AS avg_economy
		FROM flights
		GROUP BY status
		ORDER BY status`)
	return stats, err
}
