package service

import (
	"errors"

	"reservation-service/internal/models"
)

// Stable error kinds exposed to the HTTP layer. Every failure a caller
// can see maps to one of these; internal integrity failures are logged
// and alerted but never surfaced verbatim.
var (
	ErrFlightNotFound     = errors.New("flight not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInsufficientSeats  = errors.New("not enough seats available")
	ErrForbidden          = errors.New("permission denied")
	ErrAlreadyTerminal    = errors.New("booking is already in a terminal status")
	ErrInvalidTransition  = errors.New("invalid booking status transition")
	ErrValidation         = errors.New("validation failed")
	ErrActiveBookings     = errors.New("flight still has active bookings")
	ErrCompensationFailed = errors.New("seat release compensation failed")
)

// Principal is the authenticated caller, supplied by the upstream auth
// layer. Elevated roles may operate on any booking; everyone else only
// on their own.
type Principal struct {
	UserID int64
	Role   string
}

// Elevated reports whether the principal holds an operator role.
func (p Principal) Elevated() bool {
	return p.Role == models.RoleAdministrator || p.Role == models.RoleStaff
}
