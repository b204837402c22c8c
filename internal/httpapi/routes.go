package httpapi

import (
	"telemed-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Routes is everything Register needs besides the handlers.
type Routes struct {
	AuthMW gin.HandlerFunc
	// Signaling serves the websocket endpoint; nil leaves it unregistered.
	Signaling gin.HandlerFunc
	Health    Health
	// DevAuth exposes POST /v1/auth/dev-token. Never enable in production.
	DevAuth bool
}

// Register wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func Register(r *gin.Engine, h Handlers, rt Routes) {
	// public
	r.GET("/healthz", rt.Health.Liveness)
	r.GET("/readyz", rt.Health.Readiness)

	if rt.DevAuth {
		r.POST("/v1/auth/dev-token", h.DevToken)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(rt.AuthMW)
	{
		v1.GET("/me", h.Me)

		appts := v1.Group("/appointments")
		appts.Use(rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleDoctor))
		{
			appts.GET("", h.ListAppointments)
			appts.GET("/:id", h.GetAppointment)
			appts.GET("/:id/events", h.AppointmentEvents)
			appts.POST("/:id/cancel", h.CancelAppointment)
			appts.POST("/:id/start-video", h.StartVideo)
			appts.POST("/:id/end", h.EndSession)

			// patient-only writes
			patient := appts.Group("")
			patient.Use(rbac.RequireAnyRole(rbac.RolePatient))
			patient.POST("", h.CreateAppointment)
			patient.PATCH("/:id", h.UpdateAppointment)
			patient.POST("/:id/payment", h.RecordPayment)
		}

		rx := v1.Group("/prescriptions")
		rx.Use(rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleDoctor))
		{
			rx.GET("", h.ListPrescriptions)
			rx.GET("/:id", h.GetPrescription)

			doctor := rx.Group("")
			doctor.Use(rbac.RequireAnyRole(rbac.RoleDoctor))
			doctor.POST("", h.IssuePrescription)
			doctor.POST("/:id/cancel", h.CancelPrescription)
		}

		if rt.Signaling != nil {
			sig := v1.Group("/signaling")
			sig.Use(rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleDoctor))
			sig.GET("/rooms/:room_id/ws", rt.Signaling)
		}
	}
}
