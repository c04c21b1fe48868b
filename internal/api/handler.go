package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	flightService  *service.FlightService
	bookingService *service.BookingService
}

// NewHandler creates a new HTTP handler
func NewHandler(flightService *service.FlightService, bookingService *service.BookingService) *Handler {
	return &Handler{
		flightService:  flightService,
		bookingService: bookingService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(principalMiddleware())
	{
		v1.GET("/flights", h.listFlights)
		v1.GET("/flights/stats", h.flightStats)
		v1.GET("/flights/:id", h.getFlight)
		v1.POST("/flights", h.createFlight)
		v1.PATCH("/flights/:id", h.updateFlight)
		v1.DELETE("/flights/:id", h.deleteFlight)

		v1.GET("/bookings", h.listBookings)
		v1.GET("/bookings/stats/monthly", h.bookingStatsByMonth)
		v1.GET("/bookings/stats/status", h.bookingStatsByStatus)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings", h.createBooking)
		v1.PATCH("/bookings/:id", h.updateBooking)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)
		v1.POST("/bookings/:id/status", h.transitionBooking)
	}
}

// principalMiddleware extracts the authenticated principal supplied by
// the upstream auth layer. Requests without one are rejected; token
// verification happens upstream.
func principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-Id"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid principal",
			})
			return
		}
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = "Customer"
		}
		c.Set("principal", service.Principal{UserID: userID, Role: role})
		c.Next()
	}
}

func principal(c *gin.Context) service.Principal {
	p, _ := c.Get("principal")
	return p.(service.Principal)
}

// respondError maps service error kinds to HTTP statuses. Internal
// failures are never surfaced verbatim.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrFlightNotFound), errors.Is(err, service.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInsufficientSeats):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyTerminal), errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrActiveBookings):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		util.GetLogger().Error("Internal error: " + err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listFlights handles flight listing with filter/sort/projection/pagination
func (h *Handler) listFlights(c *gin.Context) {
	flights, total, err := h.flightService.List(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":    len(flights),
		"totalCount": total,
		"flights":    flights,
	})
}

// getFlight handles get flight by ID
func (h *Handler) getFlight(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	flight, err := h.flightService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flight": flight})
}

// createFlight handles flight creation
func (h *Handler) createFlight(c *gin.Context) {
	var req service.CreateFlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	flight, err := h.flightService.Create(c.Request.Context(), principal(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"flight": flight})
}

// updateFlight handles flight updates
func (h *Handler) updateFlight(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateFlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	flight, err := h.flightService.Update(c.Request.Context(), principal(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flight": flight})
}

// deleteFlight handles flight deletion
func (h *Handler) deleteFlight(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.flightService.Delete(c.Request.Context(), principal(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// flightStats handles the flights-by-status report
func (h *Handler) flightStats(c *gin.Context) {
	stats, err := h.flightService.StatsByStatus(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// listBookings handles booking listing, owner-scoped for ordinary users
func (h *Handler) listBookings(c *gin.Context) {
	bookings, total, err := h.bookingService.List(c.Request.Context(), principal(c), c.Request.URL.Query())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":    len(bookings),
		"totalCount": total,
		"bookings":   bookings,
	})
}

// getBooking handles get booking by ID
func (h *Handler) getBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	booking, err := h.bookingService.Get(c.Request.Context(), principal(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	booking, err := h.bookingService.Create(c.Request.Context(), principal(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": booking})
}

// updateBooking handles booking patches
func (h *Handler) updateBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	booking, err := h.bookingService.Update(c.Request.Context(), principal(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// cancelBooking handles booking cancellation
func (h *Handler) cancelBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	booking, err := h.bookingService.Cancel(c.Request.Context(), principal(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// transitionBooking handles non-cancel lifecycle transitions
func (h *Handler) transitionBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	booking, err := h.bookingService.Transition(c.Request.Context(), principal(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// bookingStatsByMonth handles the bookings-by-month report
func (h *Handler) bookingStatsByMonth(c *gin.Context) {
	stats, err := h.bookingService.StatsByMonth(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// bookingStatsByStatus handles the bookings-by-status report
func (h *Handler) bookingStatsByStatus(c *gin.Context) {
	stats, err := h.bookingService.StatsByStatus(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
