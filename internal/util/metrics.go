package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	})

	BookingsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of bookings cancelled",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed booking attempts",
	}, []string{"reason"})

	SeatsReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seats_reserved_total",
		Help: "Total number of seats reserved",
	})

	SeatsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seats_released_total",
		Help: "Total number of seats released back to flights",
	})

	SeatReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_reservations_failed_total",
		Help: "Total number of failed seat reservations",
	}, []string{"reason"})

	SeatReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seat_reserve_latency_seconds",
		Help:    "Latency of seat reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	SeatCompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_compensation_failures_total",
		Help: "Compensating seat releases that could not be completed",
	})

	SeatCompensationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_compensation_retries_total",
		Help: "Retries performed by the compensation reconciler worker",
	})

	FlightCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_cache_hits_total",
		Help: "Flight list reads served from the Redis cache",
	})

	FlightCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_cache_misses_total",
		Help: "Flight list reads that fell through to the database",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
