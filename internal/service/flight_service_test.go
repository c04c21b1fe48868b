package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/query"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlightStore struct {
	mu      sync.Mutex
	nextID  int64
	flights map[int64]*models.Flight

	listCalls   int
	deleteFn    func(ctx context.Context, id int64) error
	activeRefs  map[int64]bool
	statsCalled bool
}

func newFakeFlightStore() *fakeFlightStore {
	return &fakeFlightStore{
		flights:    make(map[int64]*models.Flight),
		activeRefs: make(map[int64]bool),
	}
}

func (f *fakeFlightStore) CreateFlight(ctx context.Context, fl *models.Flight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	fl.ID = f.nextID
	fl.AvailableSeats = fl.Capacity
	stored := *fl
	f.flights[fl.ID] = &stored
	return nil
}

func (f *fakeFlightStore) GetFlightByID(ctx context.Context, id int64) (*models.Flight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flights[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *fl
	return &copied, nil
}

func (f *fakeFlightStore) ListFlights(ctx context.Context, feats *query.Features) ([]models.Flight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []models.Flight
	for _, fl := range f.flights {
		out = append(out, *fl)
	}
	return out, nil
}

func (f *fakeFlightStore) CountFlights(ctx context.Context, feats *query.Features) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.flights)), nil
}

func (f *fakeFlightStore) UpdateFlight(ctx context.Context, fl *models.Flight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.flights[fl.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *fl
	f.flights[fl.ID] = &stored
	return nil
}

func (f *fakeFlightStore) DeleteFlight(ctx context.Context, id int64) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.flights[id]; !ok {
		return store.ErrNotFound
	}
	if f.activeRefs[id] {
		return store.ErrActiveBookings
	}
	delete(f.flights, id)
	return nil
}

func (f *fakeFlightStore) GetFlightStatsByStatus(ctx context.Context) ([]models.FlightStatusStat, error) {
	f.statsCalled = true
	return []models.FlightStatusStat{{Status: models.FlightStatusScheduled, Count: 1}}, nil
}

// fakeFlightCache is a single-slot in-memory stand-in for the Redis
// flight list cache.
type fakeFlightCache struct {
	mu            sync.Mutex
	cached        []models.Flight
	invalidations int
}

func (c *fakeFlightCache) GetCachedFlights(ctx context.Context) ([]models.Flight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached, nil
}

func (c *fakeFlightCache) SetCachedFlights(ctx context.Context, flights []models.Flight, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = flights
	return nil
}

func (c *fakeFlightCache) InvalidateFlightCache(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.invalidations++
	return nil
}

var (
	admin    = Principal{UserID: 1, Role: models.RoleAdministrator}
	traveler = Principal{UserID: 42, Role: models.RoleCustomer}
)

func validFlightRequest() *CreateFlightRequest {
	departure := time.Now().Add(48 * time.Hour)
	return &CreateFlightRequest{
		FlightNumber:  "RS101",
		Origin:        "Jakarta",
		Destination:   "Tokyo",
		DepartureTime: departure,
		ArrivalTime:   departure.Add(7 * time.Hour),
		AircraftType:  "B787",
		Capacity:      250,
		PriceEconomy:  4500000,
	}
}

func TestCreateFlight(t *testing.T) {
	flights := newFakeFlightStore()
	svc := NewFlightService(flights, nil, 0)

	flight, err := svc.Create(context.Background(), admin, validFlightRequest())
	require.NoError(t, err)

	assert.NotZero(t, flight.ID)
	assert.Equal(t, models.FlightStatusScheduled, flight.Status)
	assert.Equal(t, flight.Capacity, flight.AvailableSeats)
}

func TestCreateFlightRequiresElevation(t *testing.T) {
	svc := NewFlightService(newFakeFlightStore(), nil, 0)

	_, err := svc.Create(context.Background(), traveler, validFlightRequest())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateFlightValidation(t *testing.T) {
	svc := NewFlightService(newFakeFlightStore(), nil, 0)

	cases := map[string]func(*CreateFlightRequest){
		"blank number":   func(r *CreateFlightRequest) { r.FlightNumber = "  " },
		"zero capacity":  func(r *CreateFlightRequest) { r.Capacity = 0 },
		"arrival first":  func(r *CreateFlightRequest) { r.ArrivalTime = r.DepartureTime.Add(-time.Hour) },
		"negative price": func(r *CreateFlightRequest) { r.PriceEconomy = -1 },
		"bogus status":   func(r *CreateFlightRequest) { r.Status = "Flying" },
	}
	for name, mutate := range cases {
		req := validFlightRequest()
		mutate(req)
		_, err := svc.Create(context.Background(), admin, req)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestListFlightsServesDefaultFromCache(t *testing.T) {
	flights := newFakeFlightStore()
	cache := &fakeFlightCache{}
	svc := NewFlightService(flights, cache, time.Minute)

	_, err := svc.Create(context.Background(), admin, validFlightRequest())
	require.NoError(t, err)

	// First default listing misses and fills the cache.
	listed, total, err := svc.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, listed, 1)
	assert.Equal(t, 1, flights.listCalls)

	// Second default listing is a cache hit.
	_, _, err = svc.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, flights.listCalls)

	// A shaped listing bypasses the cache.
	_, _, err = svc.List(context.Background(), url.Values{"origin": []string{"Jakarta"}})
	require.NoError(t, err)
	assert.Equal(t, 2, flights.listCalls)
}

func TestListFlightsRejectsBadParameters(t *testing.T) {
	svc := NewFlightService(newFakeFlightStore(), nil, 0)

	_, _, err := svc.List(context.Background(), url.Values{"$where": []string{"1"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateFlightRevalidatesTimes(t *testing.T) {
	flights := newFakeFlightStore()
	svc := NewFlightService(flights, nil, 0)

	flight, err := svc.Create(context.Background(), admin, validFlightRequest())
	require.NoError(t, err)

	early := flight.DepartureTime.Add(-time.Hour)
	_, err = svc.Update(context.Background(), admin, flight.ID, &UpdateFlightRequest{ArrivalTime: &early})
	assert.ErrorIs(t, err, ErrValidation)

	delayed := models.FlightStatusDelayed
	updated, err := svc.Update(context.Background(), admin, flight.ID, &UpdateFlightRequest{Status: &delayed})
	require.NoError(t, err)
	assert.Equal(t, models.FlightStatusDelayed, updated.Status)
}

func TestDeleteFlightRefusedWhileBooked(t *testing.T) {
	flights := newFakeFlightStore()
	cache := &fakeFlightCache{}
	svc := NewFlightService(flights, cache, time.Minute)

	flight, err := svc.Create(context.Background(), admin, validFlightRequest())
	require.NoError(t, err)

	flights.activeRefs[flight.ID] = true
	err = svc.Delete(context.Background(), admin, flight.ID)
	assert.ErrorIs(t, err, ErrActiveBookings)

	flights.activeRefs[flight.ID] = false
	invalidationsBefore := cache.invalidations
	err = svc.Delete(context.Background(), admin, flight.ID)
	require.NoError(t, err)
	assert.Greater(t, cache.invalidations, invalidationsBefore)

	err = svc.Delete(context.Background(), admin, flight.ID)
	assert.ErrorIs(t, err, ErrFlightNotFound)
}

func TestFlightStatsRequireElevation(t *testing.T) {
	flights := newFakeFlightStore()
	svc := NewFlightService(flights, nil, 0)

	_, err := svc.StatsByStatus(context.Background(), traveler)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.StatsByStatus(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, flights.statsCalled)
}
