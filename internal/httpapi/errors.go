package httpapi

import (
	"errors"
	"net/http"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/prescriptions"
	"telemed-platform/internal/signaling"
	"telemed-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WriteError maps a domain error to its HTTP status and aborts the request.
// Unexpected errors are logged and reported as a generic 500.
func WriteError(c *gin.Context, err error) {
	var ve *appointments.ValidationError
	if errors.As(err, &ve) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": gin.H{"field": ve.Field, "message": ve.Message},
		})
		return
	}

	var ite *appointments.InvalidTransitionError
	if errors.As(err, &ite) {
		// Reaching this from the API usually means two requests raced.
		logger.FromGin(c).Warn("invalid state transition", "from", ite.From, "to", ite.To)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid_state_transition", "message": err.Error()})
		return
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, appointments.ErrValidation), errors.Is(err, signaling.ErrInvalidArgument),
		errors.Is(err, prescriptions.ErrInvalidArgument):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, appointments.ErrNotFound), errors.Is(err, prescriptions.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, appointments.ErrForbidden), errors.Is(err, prescriptions.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, appointments.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, appointments.ErrNotEditable):
		return http.StatusConflict, "not_editable"
	case errors.Is(err, appointments.ErrNotYetAvailable):
		return http.StatusTooEarly, "not_yet_available"
	case errors.Is(err, appointments.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, appointments.ErrSessionNotActive):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, signaling.ErrRoomFull):
		return http.StatusConflict, "room_full"
	case errors.Is(err, signaling.ErrRoomClosed):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, appointments.ErrLockNotAcquired), errors.Is(err, signaling.ErrConnectionFailed):
		return http.StatusServiceUnavailable, "busy_retry"
	case errors.Is(err, prescriptions.ErrNotPrescribable):
		return http.StatusConflict, "appointment_cancelled"
	case errors.Is(err, prescriptions.ErrNotActive):
		return http.StatusConflict, "prescription_not_active"
	case errors.Is(err, payments.ErrNoCharge):
		return http.StatusConflict, "no_pending_charge"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
