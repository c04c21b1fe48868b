package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingLifecycle(t *testing.T) {
	allowed := []struct{ from, to string }{
		{BookingStatusPending, BookingStatusConfirmed},
		{BookingStatusPending, BookingStatusCancelled},
		{BookingStatusConfirmed, BookingStatusCheckedIn},
		{BookingStatusConfirmed, BookingStatusCancelled},
		{BookingStatusConfirmed, BookingStatusNoShow},
		{BookingStatusCheckedIn, BookingStatusBoarded},
		{BookingStatusCheckedIn, BookingStatusCancelled},
		{BookingStatusBoarded, BookingStatusCompleted},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransitionBooking(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to string }{
		{BookingStatusPending, BookingStatusBoarded},
		{BookingStatusConfirmed, BookingStatusCompleted},
		{BookingStatusBoarded, BookingStatusCancelled},
		{BookingStatusCancelled, BookingStatusConfirmed},
		{BookingStatusCompleted, BookingStatusCheckedIn},
		{BookingStatusNoShow, BookingStatusConfirmed},
	}
	for _, tc := range denied {
		assert.False(t, CanTransitionBooking(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, status := range TerminalBookingStatuses {
		assert.True(t, IsTerminalBookingStatus(status), status)
	}
	for _, status := range []string{
		BookingStatusPending,
		BookingStatusConfirmed,
		BookingStatusCheckedIn,
		BookingStatusBoarded,
	} {
		assert.False(t, IsTerminalBookingStatus(status), status)
	}
}

func TestFlightDuration(t *testing.T) {
	departure := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := Flight{DepartureTime: departure, ArrivalTime: departure.Add(150 * time.Minute)}
	assert.Equal(t, 150*time.Minute, f.Duration())
}
