package service

import (
	"context"
	"errors"
	"time"

	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// InventoryStore is the slice of the store the reconciler coordinates:
// the conditional seat adjustments and the transactional cancel.
type InventoryStore interface {
	ReserveSeats(ctx context.Context, flightID int64, seats int) error
	ReleaseSeats(ctx context.Context, flightID int64, seats int) error
	CancelBooking(ctx context.Context, bookingID, flightID int64, seats int) error
}

// FlightCacheInvalidator drops cached flight listings after inventory
// moves. A nil invalidator disables caching.
type FlightCacheInvalidator interface {
	InvalidateFlightCache(ctx context.Context) error
}

// InventoryReconciler keeps a flight's advertised seat count truthful.
// It holds no state of its own: every adjustment is a single guarded
// update in the store, so concurrent reservations against the same
// flight serialize in the database rather than racing in Go code.
// Neither Reserve nor Release is idempotent; callers guard invocation
// with the booking's own status transitions.
type InventoryReconciler struct {
	store  InventoryStore
	cache  FlightCacheInvalidator
	logger *zap.Logger
}

// NewInventoryReconciler creates a new inventory reconciler
func NewInventoryReconciler(store InventoryStore, cache FlightCacheInvalidator) *InventoryReconciler {
	return &InventoryReconciler{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Reserve checks and decrements a flight's available seats as one
// atomic step. It fails with ErrInsufficientSeats when the flight
// cannot cover the request at the instant of the check.
func (r *InventoryReconciler) Reserve(ctx context.Context, flightID int64, seats int) error {
	ctx, span := util.StartSpan(ctx, "InventoryReconciler.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SeatReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if err := r.store.ReserveSeats(ctx, flightID, seats); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			util.SeatReservationsFailed.WithLabelValues("flight_not_found").Inc()
			return ErrFlightNotFound
		case errors.Is(err, store.ErrInsufficientSeats):
			util.SeatReservationsFailed.WithLabelValues("insufficient_seats").Inc()
			return ErrInsufficientSeats
		default:
			util.SeatReservationsFailed.WithLabelValues("error").Inc()
			return err
		}
	}

	util.SeatsReservedTotal.Add(float64(seats))
	r.invalidateCache(ctx)
	return nil
}

// Release credits seats back to a flight, clamped at capacity by the
// store.
func (r *InventoryReconciler) Release(ctx context.Context, flightID int64, seats int) error {
	ctx, span := util.StartSpan(ctx, "InventoryReconciler.Release")
	defer span.End()

	if err := r.store.ReleaseSeats(ctx, flightID, seats); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFlightNotFound
		}
		return err
	}

	util.SeatsReleasedTotal.Add(float64(seats))
	r.invalidateCache(ctx)
	return nil
}

// ReleaseOnCancel flips the booking to Cancelled and releases its seats
// in one store transaction. The database-side status guard means a
// concurrent double-cancel returns ErrAlreadyTerminal instead of
// crediting the seats twice.
func (r *InventoryReconciler) ReleaseOnCancel(ctx context.Context, bookingID, flightID int64, seats int) error {
	ctx, span := util.StartSpan(ctx, "InventoryReconciler.ReleaseOnCancel")
	defer span.End()

	if err := r.store.CancelBooking(ctx, bookingID, flightID, seats); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrBookingNotFound
		case errors.Is(err, store.ErrTerminalStatus):
			return ErrAlreadyTerminal
		default:
			return err
		}
	}

	util.SeatsReleasedTotal.Add(float64(seats))
	r.invalidateCache(ctx)
	return nil
}

func (r *InventoryReconciler) invalidateCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateFlightCache(ctx); err != nil {
		r.logger.Warn("Failed to invalidate flight cache", zap.Error(err))
	}
}
