package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/query"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventory backs the reconciler with an in-memory flight that
// honours the store's conditional-update contract: the availability
// check and the decrement are one atomic step, and releases clamp at
// capacity.
type fakeInventory struct {
	mu        sync.Mutex
	flightID  int64
	capacity  int
	available int
	statuses  map[int64]string
}

func newFakeInventory(flightID int64, capacity int) *fakeInventory {
	return &fakeInventory{
		flightID:  flightID,
		capacity:  capacity,
		available: capacity,
		statuses:  make(map[int64]string),
	}
}

func (f *fakeInventory) ReserveSeats(ctx context.Context, flightID int64, seats int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if flightID != f.flightID {
		return store.ErrNotFound
	}
	if f.available < seats {
		return store.ErrInsufficientSeats
	}
	f.available -= seats
	return nil
}

func (f *fakeInventory) ReleaseSeats(ctx context.Context, flightID int64, seats int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if flightID != f.flightID {
		return store.ErrNotFound
	}
	f.available += seats
	if f.available > f.capacity {
		f.available = f.capacity
	}
	return nil
}

func (f *fakeInventory) CancelBooking(ctx context.Context, bookingID, flightID int64, seats int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[bookingID]; ok && models.IsTerminalBookingStatus(status) {
		return store.ErrTerminalStatus
	}
	f.statuses[bookingID] = models.BookingStatusCancelled
	f.available += seats
	if f.available > f.capacity {
		f.available = f.capacity
	}
	return nil
}

func (f *fakeInventory) availableSeats() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

// fakeBookingStore is a function-field test double for BookingStore.
type fakeBookingStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*models.Booking

	createFn func(ctx context.Context, b *models.Booking) error
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{bookings: make(map[int64]*models.Booking)}
}

func (f *fakeBookingStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = f.nextID
	stored := *b
	f.bookings[b.ID] = &stored
	return nil
}

func (f *fakeBookingStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (f *fakeBookingStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.IdempotencyKey == key {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) ListBookings(ctx context.Context, feats *query.Features, ownerID *int64) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if ownerID != nil && b.UserID != *ownerID {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeBookingStore) CountBookings(ctx context.Context, feats *query.Features, ownerID *int64) (int64, error) {
	list, _ := f.ListBookings(ctx, feats, ownerID)
	return int64(len(list)), nil
}

func (f *fakeBookingStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bookings[b.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *b
	f.bookings[b.ID] = &stored
	return nil
}

func (f *fakeBookingStore) TransitionBookingStatus(ctx context.Context, bookingID int64, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return store.ErrNotFound
	}
	if b.Status != from {
		return store.ErrTerminalStatus
	}
	b.Status = to
	return nil
}

func (f *fakeBookingStore) GetBookingStatsByMonth(ctx context.Context) ([]models.BookingMonthStat, error) {
	return nil, nil
}

func (f *fakeBookingStore) GetBookingStatsByStatus(ctx context.Context) ([]models.BookingStatusStat, error) {
	return nil, nil
}

// markCancelled mirrors a cancel into the booking row the way the real
// store transaction does.
func (f *fakeBookingStore) markCancelled(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[id]; ok {
		b.Status = models.BookingStatusCancelled
	}
}

type fakeFlightReader struct {
	flight *models.Flight
}

func (f *fakeFlightReader) GetFlightByID(ctx context.Context, id int64) (*models.Flight, error) {
	if f.flight == nil || f.flight.ID != id {
		return nil, store.ErrNotFound
	}
	copied := *f.flight
	return &copied, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.BookingCreatedEvent
	cancelled []*models.BookingCancelledEvent
	updated   []*models.BookingUpdatedEvent
	alerts    []*models.SeatCompensationFailedEvent
}

func (f *fakePublisher) PublishBookingCreated(ctx context.Context, e *models.BookingCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakePublisher) PublishBookingCancelled(ctx context.Context, e *models.BookingCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, e)
	return nil
}

func (f *fakePublisher) PublishBookingUpdated(ctx context.Context, e *models.BookingUpdatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, e)
	return nil
}

func (f *fakePublisher) PublishCompensationFailed(ctx context.Context, e *models.SeatCompensationFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, e)
	return nil
}

const testFlightID = int64(1)

func testBookingFixture(capacity int) (*BookingService, *fakeInventory, *fakeBookingStore, *fakePublisher) {
	inv := newFakeInventory(testFlightID, capacity)
	bookings := newFakeBookingStore()
	publisher := &fakePublisher{}
	flights := &fakeFlightReader{flight: &models.Flight{
		ID:             testFlightID,
		FlightNumber:   "RS101",
		Capacity:       capacity,
		AvailableSeats: capacity,
		Status:         models.FlightStatusScheduled,
	}}
	svc := NewBookingService(bookings, flights, NewInventoryReconciler(inv, nil), publisher)
	return svc, inv, bookings, publisher
}

func createRequest(passengers int) *CreateBookingRequest {
	req := &CreateBookingRequest{
		FlightID:     testFlightID,
		TotalPrice:   1200000,
		ContactEmail: "traveler@example.com",
		ContactPhone: "+628123456789",
	}
	for i := 0; i < passengers; i++ {
		req.Passengers = append(req.Passengers, PassengerRequest{
			FirstName:      "Ana",
			LastName:       "Putri",
			DateOfBirth:    time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
			PassportNumber: "X1234567",
		})
	}
	return req
}

var customer = Principal{UserID: 42, Role: models.RoleCustomer}

func TestCreateBookingReservesSeats(t *testing.T) {
	svc, inv, _, publisher := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(3))
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, 3, booking.SeatCount)
	assert.Equal(t, customer.UserID, booking.UserID)
	assert.Len(t, booking.Passengers, 3)
	assert.Equal(t, models.SeatClassEconomy, booking.Passengers[0].SeatClass)
	assert.Equal(t, 7, inv.availableSeats())
	assert.Len(t, publisher.created, 1)
}

func TestCreateBookingInsufficientSeats(t *testing.T) {
	svc, inv, _, _ := testBookingFixture(2)

	_, err := svc.Create(context.Background(), customer, createRequest(3))
	assert.ErrorIs(t, err, ErrInsufficientSeats)
	assert.Equal(t, 2, inv.availableSeats())
}

func TestConcurrentCreatesNeverOverbook(t *testing.T) {
	svc, inv, _, _ := testBookingFixture(1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Create(context.Background(), customer, createRequest(1))
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrInsufficientSeats) {
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, inv.availableSeats())
}

func TestCreateBookingCompensatesOnPersistFailure(t *testing.T) {
	svc, inv, bookings, publisher := testBookingFixture(10)
	bookings.createFn = func(ctx context.Context, b *models.Booking) error {
		return errors.New("connection reset")
	}

	_, err := svc.Create(context.Background(), customer, createRequest(4))
	require.Error(t, err)

	// The reserved seats came back and no alert was needed.
	assert.Equal(t, 10, inv.availableSeats())
	assert.Empty(t, publisher.alerts)
}

func TestCreateBookingAlertsWhenCompensationFails(t *testing.T) {
	inv := newFakeInventory(testFlightID, 10)
	bookings := newFakeBookingStore()
	bookings.createFn = func(ctx context.Context, b *models.Booking) error {
		return errors.New("connection reset")
	}
	publisher := &fakePublisher{}
	flights := &fakeFlightReader{flight: &models.Flight{
		ID:             testFlightID,
		Capacity:       10,
		AvailableSeats: 10,
	}}
	svc := NewBookingService(bookings, flights,
		NewInventoryReconciler(&flakyInventory{inner: inv}, nil), publisher)

	_, err := svc.Create(context.Background(), customer, createRequest(4))
	require.Error(t, err)

	require.Len(t, publisher.alerts, 1)
	assert.Equal(t, testFlightID, publisher.alerts[0].FlightID)
	assert.Equal(t, 4, publisher.alerts[0].SeatCount)
}

// flakyInventory reserves normally but fails every release.
type flakyInventory struct {
	inner *fakeInventory
}

func (f *flakyInventory) ReserveSeats(ctx context.Context, flightID int64, seats int) error {
	return f.inner.ReserveSeats(ctx, flightID, seats)
}

func (f *flakyInventory) ReleaseSeats(ctx context.Context, flightID int64, seats int) error {
	return errors.New("database unavailable")
}

func (f *flakyInventory) CancelBooking(ctx context.Context, bookingID, flightID int64, seats int) error {
	return f.inner.CancelBooking(ctx, bookingID, flightID, seats)
}

func TestCreateBookingIdempotencyReturnsExisting(t *testing.T) {
	svc, inv, _, publisher := testBookingFixture(10)

	req := createRequest(2)
	req.IdempotencyKey = "retry-key-1"

	first, err := svc.Create(context.Background(), customer, req)
	require.NoError(t, err)
	assert.Equal(t, 8, inv.availableSeats())

	second, err := svc.Create(context.Background(), customer, req)
	require.NoError(t, err)

	// Same booking, no second reservation, no second event.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, inv.availableSeats())
	assert.Len(t, publisher.created, 1)
}

func TestCreateBookingValidation(t *testing.T) {
	svc, inv, _, _ := testBookingFixture(10)

	cases := map[string]func(*CreateBookingRequest){
		"empty roster":     func(r *CreateBookingRequest) { r.Passengers = nil },
		"negative price":   func(r *CreateBookingRequest) { r.TotalPrice = -1 },
		"bad email":        func(r *CreateBookingRequest) { r.ContactEmail = "not-an-email" },
		"missing phone":    func(r *CreateBookingRequest) { r.ContactPhone = "  " },
		"nameless roster":  func(r *CreateBookingRequest) { r.Passengers[0].FirstName = "" },
		"bad seat class":   func(r *CreateBookingRequest) { r.Passengers[0].SeatClass = "Luxury" },
		"missing passport": func(r *CreateBookingRequest) { r.Passengers[0].PassportNumber = "" },
	}
	for name, mutate := range cases {
		req := createRequest(1)
		mutate(req)
		_, err := svc.Create(context.Background(), customer, req)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
	assert.Equal(t, 10, inv.availableSeats())
}

func TestCreateBookingUnknownFlight(t *testing.T) {
	svc, inv, _, _ := testBookingFixture(10)

	req := createRequest(1)
	req.FlightID = 999

	_, err := svc.Create(context.Background(), customer, req)
	assert.ErrorIs(t, err, ErrFlightNotFound)
	assert.Equal(t, 10, inv.availableSeats())
}

func TestCancelBookingReleasesSeatsExactlyOnce(t *testing.T) {
	svc, inv, bookings, publisher := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(3))
	require.NoError(t, err)
	require.Equal(t, 7, inv.availableSeats())

	cancelled, err := svc.Cancel(context.Background(), customer, booking.ID)
	require.NoError(t, err)
	bookings.markCancelled(booking.ID)

	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, inv.availableSeats())
	assert.Len(t, publisher.cancelled, 1)

	// Cancelling again is rejected and credits nothing.
	_, err = svc.Cancel(context.Background(), customer, booking.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 10, inv.availableSeats())
	assert.Len(t, publisher.cancelled, 1)
}

func TestCancelBookingDatabaseGuardWins(t *testing.T) {
	// Two racing cancels both pass the service's status read; the store
	// guard lets exactly one through.
	svc, inv, _, _ := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Cancel(context.Background(), customer, booking.ID)
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrAlreadyTerminal) {
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 10, inv.availableSeats())
}

func TestCancelBookingOwnership(t *testing.T) {
	svc, _, _, _ := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(1))
	require.NoError(t, err)

	stranger := Principal{UserID: 77, Role: models.RoleCustomer}
	_, err = svc.Cancel(context.Background(), stranger, booking.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	staff := Principal{UserID: 77, Role: models.RoleStaff}
	_, err = svc.Cancel(context.Background(), staff, booking.ID)
	assert.NoError(t, err)
}

func TestUpdateBookingRejectsRosterSizeChange(t *testing.T) {
	svc, _, _, _ := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(2))
	require.NoError(t, err)

	req := &UpdateBookingRequest{Passengers: createRequest(3).Passengers}
	_, err = svc.Update(context.Background(), customer, booking.ID, req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateBookingPatchesFields(t *testing.T) {
	svc, _, _, publisher := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(1))
	require.NoError(t, err)

	email := "New.Traveler@Example.com"
	price := int64(999000)
	updated, err := svc.Update(context.Background(), customer, booking.ID, &UpdateBookingRequest{
		ContactEmail: &email,
		TotalPrice:   &price,
	})
	require.NoError(t, err)

	assert.Equal(t, "new.traveler@example.com", updated.ContactEmail)
	assert.Equal(t, price, updated.TotalPrice)
	assert.Len(t, publisher.updated, 1)
}

func TestTransitionBooking(t *testing.T) {
	svc, _, _, _ := testBookingFixture(10)

	booking, err := svc.Create(context.Background(), customer, createRequest(1))
	require.NoError(t, err)

	// Cancellation must go through Cancel.
	_, err = svc.Transition(context.Background(), customer, booking.ID, models.BookingStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Owners may check in but not board themselves.
	_, err = svc.Transition(context.Background(), customer, booking.ID, models.BookingStatusBoarded)
	assert.ErrorIs(t, err, ErrForbidden)

	checked, err := svc.Transition(context.Background(), customer, booking.ID, models.BookingStatusCheckedIn)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCheckedIn, checked.Status)

	staff := Principal{UserID: 1, Role: models.RoleStaff}

	// The lifecycle permits no skipping.
	_, err = svc.Transition(context.Background(), staff, booking.ID, models.BookingStatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	boarded, err := svc.Transition(context.Background(), staff, booking.ID, models.BookingStatusBoarded)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusBoarded, boarded.Status)

	completed, err := svc.Transition(context.Background(), staff, booking.ID, models.BookingStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, completed.Status)

	// Terminal means terminal.
	_, err = svc.Transition(context.Background(), staff, booking.ID, models.BookingStatusCheckedIn)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestListBookingsScopedToOwner(t *testing.T) {
	svc, _, _, _ := testBookingFixture(10)

	_, err := svc.Create(context.Background(), customer, createRequest(1))
	require.NoError(t, err)
	other := Principal{UserID: 77, Role: models.RoleCustomer}
	_, err = svc.Create(context.Background(), other, createRequest(1))
	require.NoError(t, err)

	mine, total, err := svc.List(context.Background(), customer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, mine, 1)
	assert.Equal(t, customer.UserID, mine[0].UserID)

	staff := Principal{UserID: 1, Role: models.RoleStaff}
	all, total, err := svc.List(context.Background(), staff, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
}

func TestStatsRequireElevation(t *testing.T) {
	svc, _, _, _ := testBookingFixture(10)

	_, err := svc.StatsByMonth(context.Background(), customer)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.StatsByStatus(context.Background(), customer)
	assert.ErrorIs(t, err, ErrForbidden)

	staff := Principal{UserID: 1, Role: models.RoleStaff}
	_, err = svc.StatsByMonth(context.Background(), staff)
	assert.NoError(t, err)
}
