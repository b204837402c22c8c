package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/audit"
	"telemed-platform/internal/auth"
	"telemed-platform/internal/config"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/prescriptions"
	"telemed-platform/internal/pricing"
	"telemed-platform/internal/signaling"
	"telemed-platform/pkg/logger"
	"telemed-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis only backs the booking lock; the API starts without it and reports
	// it as a degraded optional dependency on /readyz.
	rdb, err := utils.NewRedis(utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()
	if err := pingRedis(rootCtx, rdb); err != nil {
		log.Warn("redis unreachable, bookings will be refused until it recovers", "addr", cfg.RedisAddr(), "err", err)
	}

	deps := wire(cfg, log, authManager, db, rdb)

	r := newRouter(cfg, log, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Websocket connections hijack the conn, so WriteTimeout only bounds REST responses.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked websocket conns; closing the coordinator
	// ends every subscription so their pumps exit.
	deps.coord.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// wire builds the services on top of Postgres and Redis.
func wire(cfg config.Config, log *slog.Logger, authManager *auth.Manager, db *sql.DB, rdb *redis.Client) deps {
	apptRepo := appointments.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log.With("component", "audit"))
	paySvc := payments.NewService(payments.NewPostgresRepo(db), log.With("component", "payments"))
	feeSvc := pricing.NewService(pricing.NewPostgresRepo(db))

	locker := appointments.NewRedisLocker(rdb, cfg.Booking.LockTTL, cfg.Booking.LockWait)
	scheduler := appointments.NewScheduler(apptRepo, locker, feeSvc, paySvc, auditSvc, log.With("component", "scheduler"))
	sessions := appointments.NewSessionMachine(apptRepo, appointments.SessionConfig{
		EarlyJoin:   cfg.Session.EarlyJoin,
		LinkPadding: cfg.Session.LinkPadding,
	}, auditSvc, log.With("component", "sessions"))

	coord := signaling.NewCoordinator(sessions, signaling.Config{
		ReconnectGrace: cfg.Signaling.ReconnectGrace,
		OnRoomClosed:   roomClosedAudit(apptRepo, auditSvc, log),
	}, log.With("component", "signaling"))
	sessions.SetRoomCloser(coord)

	rxSvc := prescriptions.NewService(prescriptions.NewPostgresRepo(db), apptRepo, auditSvc, log.With("component", "prescriptions"))

	return deps{
		auth:      authManager,
		scheduler: scheduler,
		sessions:  sessions,
		payments:  paySvc,
		audit:     auditSvc,
		coord:     coord,
		rx:        rxSvc,
		ready: readinessChecks{
			postgres: func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
			redis:    func(ctx context.Context) error { return pingRedis(ctx, rdb) },
		},
	}
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

// roomClosedAudit records the closing of a signaling room against its appointment.
func roomClosedAudit(repo appointments.Repository, auditor *audit.Service, log *slog.Logger) func(roomID string, members int) {
	return func(roomID string, members int) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e := audit.Event{Type: audit.EventTypeRoomClosed, RoomID: roomID}
		if a, err := repo.FindByRoom(ctx, roomID); err == nil {
			e.AppointmentID = a.ID
		} else {
			log.Warn("room closed for unknown appointment", "room_id", roomID, "err", err)
		}
		e.Metadata = fmt.Sprintf(`{"members":%d}`, members)
		auditor.Record(ctx, e)
	}
}
