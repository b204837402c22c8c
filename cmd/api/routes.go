package main

import (
	"log/slog"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/audit"
	"telemed-platform/internal/auth"
	"telemed-platform/internal/config"
	"telemed-platform/internal/httpapi"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/prescriptions"
	"telemed-platform/internal/signaling"
	"telemed-platform/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type readinessChecks struct {
	postgres httpapi.Check
	redis    httpapi.Check
}

// deps are the long-lived services shared by the HTTP and websocket handlers.
type deps struct {
	auth      *auth.Manager
	scheduler *appointments.Scheduler
	sessions  *appointments.SessionMachine
	payments  *payments.Service
	audit     *audit.Service
	coord     *signaling.Coordinator
	rx        *prescriptions.Service
	ready     readinessChecks
}

// newRouter builds the gin engine. Keep this file free of business logic.
func newRouter(cfg config.Config, log *slog.Logger, d deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sig := signaling.NewHandler(d.coord, signaling.HandlerConfig{
		PongWait:        cfg.Signaling.PongWait,
		WriteWait:       cfg.Signaling.WriteWait,
		MaxMessageBytes: cfg.Signaling.MaxMessageBytes,
	}, httpapi.WriteError, log.With("component", "signaling"))

	h := httpapi.Handlers{
		Auth:      d.auth,
		Scheduler: d.scheduler,
		Sessions:  d.sessions,
		Payments:  d.payments,
		Audit:     d.audit,

		Prescriptions: d.rx,
	}

	httpapi.Register(r, h, httpapi.Routes{
		AuthMW:    auth.RequireAccessToken(d.auth),
		Signaling: sig.Serve,
		Health: httpapi.Health{
			Env:      cfg.App.Env,
			Version:  version,
			Required: map[string]httpapi.Check{"postgres": d.ready.postgres},
			// Bookings fail without the calendar lock, but sessions and signaling keep working.
			Optional: map[string]httpapi.Check{"redis": d.ready.redis},
		},
		DevAuth: !cfg.IsProduction(),
	})
	return r
}
