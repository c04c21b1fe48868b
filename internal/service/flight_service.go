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

	"go.uber.org/zap"
)

// FlightStore is the flight persistence surface the service needs.
type FlightStore interface {
	CreateFlight(ctx context.Context, f *models.Flight) error
	GetFlightByID(ctx context.Context, id int64) (*models.Flight, error)
	ListFlights(ctx context.Context, feats *query.Features) ([]models.Flight, error)
	CountFlights(ctx context.Context, feats *query.Features) (int64, error)
	UpdateFlight(ctx context.Context, f *models.Flight) error
	DeleteFlight(ctx context.Context, id int64) error
	GetFlightStatsByStatus(ctx context.Context) ([]models.FlightStatusStat, error)
}

// FlightCache caches the default flight listing. Nil disables caching.
type FlightCache interface {
	GetCachedFlights(ctx context.Context) ([]models.Flight, error)
	SetCachedFlights(ctx context.Context, flights []models.Flight, ttl time.Duration) error
	InvalidateFlightCache(ctx context.Context) error
}

// FlightService handles flight catalog operations.
type FlightService struct {
	flights  FlightStore
	cache    FlightCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewFlightService creates a new flight service
func NewFlightService(flights FlightStore, cache FlightCache, cacheTTL time.Duration) *FlightService {
	return &FlightService{
		flights:  flights,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// CreateFlightRequest represents a request to create a flight
type CreateFlightRequest struct {
	FlightNumber  string    `json:"flightNumber" binding:"required"`
	Origin        string    `json:"origin" binding:"required"`
	Destination   string    `json:"destination" binding:"required"`
	DepartureTime time.Time `json:"departureTime" binding:"required"`
	ArrivalTime   time.Time `json:"arrivalTime" binding:"required"`
	AircraftType  string    `json:"aircraftType" binding:"required"`
	Status        string    `json:"status"`
	Capacity      int       `json:"capacity" binding:"required"`
	PriceEconomy  int64     `json:"priceEconomy"`
	PriceBusiness int64     `json:"priceBusiness"`
	PriceFirst    int64     `json:"priceFirstClass"`
	Notes         string    `json:"notes"`
}

// UpdateFlightRequest patches the mutable flight fields. Capacity and
// available seats are absent on purpose: capacity is immutable and the
// seat count belongs to the inventory reconciler.
type UpdateFlightRequest struct {
	FlightNumber  *string    `json:"flightNumber"`
	Origin        *string    `json:"origin"`
	Destination   *string    `json:"destination"`
	DepartureTime *time.Time `json:"departureTime"`
	ArrivalTime   *time.Time `json:"arrivalTime"`
	AircraftType  *string    `json:"aircraftType"`
	Status        *string    `json:"status"`
	PriceEconomy  *int64     `json:"priceEconomy"`
	PriceBusiness *int64     `json:"priceBusiness"`
	PriceFirst    *int64     `json:"priceFirstClass"`
	Notes         *string    `json:"notes"`
}

func validFlightStatus(status string) bool {
	for _, s := range models.FlightStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *CreateFlightRequest) validate() error {
	if strings.TrimSpace(r.FlightNumber) == "" {
		return fmt.Errorf("%w: flight number is required", ErrValidation)
	}
	if r.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1", ErrValidation)
	}
	if !r.ArrivalTime.After(r.DepartureTime) {
		return fmt.Errorf("%w: arrival time must be after departure time", ErrValidation)
	}
	if r.PriceEconomy < 0 || r.PriceBusiness < 0 || r.PriceFirst < 0 {
		return fmt.Errorf("%w: prices cannot be negative", ErrValidation)
	}
	if r.Status != "" && !validFlightStatus(r.Status) {
		return fmt.Errorf("%w: unknown flight status %q", ErrValidation, r.Status)
	}
	return nil
}

// Create adds a flight to the catalog. Available seats start at
// capacity. Elevated principals only.
func (s *FlightService) Create(ctx context.Context, p Principal, req *CreateFlightRequest) (*models.Flight, error) {
	ctx, span := util.StartSpan(ctx, "FlightService.Create")
	defer span.End()

	if !p.Elevated() {
		return nil, ErrForbidden
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	flight := &models.Flight{
		FlightNumber:  strings.TrimSpace(req.FlightNumber),
		Origin:        strings.TrimSpace(req.Origin),
		Destination:   strings.TrimSpace(req.Destination),
		DepartureTime: req.DepartureTime,
		ArrivalTime:   req.ArrivalTime,
		AircraftType:  strings.TrimSpace(req.AircraftType),
		Status:        defaultString(req.Status, models.FlightStatusScheduled),
		Capacity:      req.Capacity,
		PriceEconomy:  req.PriceEconomy,
		PriceBusiness: req.PriceBusiness,
		PriceFirst:    req.PriceFirst,
		Notes:         req.Notes,
	}

	if err := s.flights.CreateFlight(ctx, flight); err != nil {
		return nil, fmt.Errorf("failed to create flight: %w", err)
	}

	s.invalidateCache(ctx)
	s.logger.Info("Flight created",
		zap.Int64("flight_id", flight.ID),
		zap.String("flight_number", flight.FlightNumber))
	return flight, nil
}

// Get returns one flight.
func (s *FlightService) Get(ctx context.Context, id int64) (*models.Flight, error) {
	flight, err := s.flights.GetFlightByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFlightNotFound
		}
		return nil, err
	}
	return flight, nil
}

// List returns a page of flights shaped by the request parameters. The
// unfiltered default listing is served from the Redis cache when
// available.
func (s *FlightService) List(ctx context.Context, params url.Values) ([]models.Flight, int64, error) {
	useCache := s.cache != nil && len(params) == 0

	if useCache {
		cached, err := s.cache.GetCachedFlights(ctx)
		if err != nil {
			s.logger.Warn("Flight cache read failed", zap.Error(err))
		} else if cached != nil {
			util.FlightCacheHits.Inc()
			return cached, int64(len(cached)), nil
		}
		util.FlightCacheMisses.Inc()
	}

	feats, err := query.Parse(params, store.FlightSchema)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	flights, err := s.flights.ListFlights(ctx, feats)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.flights.CountFlights(ctx, feats)
	if err != nil {
		return nil, 0, err
	}

	if useCache {
		if err := s.cache.SetCachedFlights(ctx, flights, s.cacheTTL); err != nil {
			s.logger.Warn("Flight cache write failed", zap.Error(err))
		}
	}
	return flights, total, nil
}

// Update patches the mutable flight fields. Elevated principals only.
func (s *FlightService) Update(ctx context.Context, p Principal, id int64, req *UpdateFlightRequest) (*models.Flight, error) {
	ctx, span := util.StartSpan(ctx, "FlightService.Update")
	defer span.End()

	if !p.Elevated() {
		return nil, ErrForbidden
	}

	flight, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FlightNumber != nil {
		flight.FlightNumber = strings.TrimSpace(*req.FlightNumber)
	}
	if req.Origin != nil {
		flight.Origin = strings.TrimSpace(*req.Origin)
	}
	if req.Destination != nil {
		flight.Destination = strings.TrimSpace(*req.Destination)
	}
	if req.DepartureTime != nil {
		flight.DepartureTime = *req.DepartureTime
	}
	if req.ArrivalTime != nil {
		flight.ArrivalTime = *req.ArrivalTime
	}
	if req.AircraftType != nil {
		flight.AircraftType = strings.TrimSpace(*req.AircraftType)
	}
	if req.Status != nil {
		if !validFlightStatus(*req.Status) {
			return nil, fmt.Errorf("%w: unknown flight status %q", ErrValidation, *req.Status)
		}
		flight.Status = *req.Status
	}
	if req.PriceEconomy != nil {
		flight.PriceEconomy = *req.PriceEconomy
	}
	if req.PriceBusiness != nil {
		flight.PriceBusiness = *req.PriceBusiness
	}
	if req.PriceFirst != nil {
		flight.PriceFirst = *req.PriceFirst
	}
	if req.Notes != nil {
		flight.Notes = *req.Notes
	}

	if !flight.ArrivalTime.After(flight.DepartureTime) {
		return nil, fmt.Errorf("%w: arrival time must be after departure time", ErrValidation)
	}
	if flight.PriceEconomy < 0 || flight.PriceBusiness < 0 || flight.PriceFirst < 0 {
		return nil, fmt.Errorf("%w: prices cannot be negative", ErrValidation)
	}

	if err := s.flights.UpdateFlight(ctx, flight); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFlightNotFound
		}
		return nil, err
	}

	s.invalidateCache(ctx)
	return flight, nil
}

// Delete removes a flight. Refused while non-Cancelled bookings still
// reference it, so no booking is ever orphaned. Elevated principals
// only.
func (s *FlightService) Delete(ctx context.Context, p Principal, id int64) error {
	ctx, span := util.StartSpan(ctx, "FlightService.Delete")
	defer span.End()

	if !p.Elevated() {
		return ErrForbidden
	}

	if err := s.flights.DeleteFlight(ctx, id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrFlightNotFound
		case errors.Is(err, store.ErrActiveBookings):
			return ErrActiveBookings
		default:
			return err
		}
	}

	s.invalidateCache(ctx)
	s.logger.Info("Flight deleted", zap.Int64("flight_id", id))
	return nil
}

// StatsByStatus reports the flight catalog grouped by status. Elevated
// principals only.
func (s *FlightService) StatsByStatus(ctx context.Context, p Principal) ([]models.FlightStatusStat, error) {
	if !p.Elevated() {
		return nil, ErrForbidden
	}
	return s.flights.GetFlightStatsByStatus(ctx)
}

func (s *FlightService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFlightCache(ctx); err != nil {
		s.logger.Warn("Failed to invalidate flight cache", zap.Error(err))
	}
}
