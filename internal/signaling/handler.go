package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"telemed-platform/internal/auth"
	"telemed-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type HandlerConfig struct {
	// PongWait bounds how long a silent transport is trusted before it is dropped.
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	// CheckOrigin defaults to allowing every origin; the CORS layer guards the REST API.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades authenticated requests to websocket signaling connections.
type Handler struct {
	coord       *Coordinator
	cfg         HandlerConfig
	upgrader    websocket.Upgrader
	onJoinError func(c *gin.Context, err error)
	log         *slog.Logger
}

// NewHandler returns a handler. onJoinError writes the HTTP response when a join is
// refused before the upgrade; it defaults to a bare status code.
func NewHandler(coord *Coordinator, cfg HandlerConfig, onJoinError func(c *gin.Context, err error), log *slog.Logger) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 20 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if onJoinError == nil {
		onJoinError = defaultJoinError
	}
	return &Handler{
		coord: coord,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		onJoinError: onJoinError,
		log:         logger.OrDefault(log),
	}
}

// Serve handles GET /rooms/:room_id/ws. The join happens before the upgrade so a
// refused join is reported with a plain HTTP status.
func (h *Handler) Serve(c *gin.Context) {
	participantID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roomID := c.Param("room_id")

	sub, err := h.coord.Join(c.Request.Context(), roomID, participantID)
	if err != nil {
		h.onJoinError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.coord.LeaveWith(sub)
		logger.FromGin(c).Warn("websocket upgrade failed", "room_id", roomID, "err", err)
		return
	}

	h.serveConn(ws, sub)
}

func (h *Handler) serveConn(ws *websocket.Conn, sub *Subscription) {
	log := h.log.With("room_id", sub.RoomID(), "participant_id", sub.ParticipantID())

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ctx, ws, sub)
	}()
	go h.pingPump(ctx, ws)

	left := h.readPump(ws, sub, log)
	if !left {
		h.coord.Disconnect(sub)
	}
	<-writerDone
	cancel()
	_ = ws.Close()
}

// readPump relays client frames until the client leaves, the transport fails or the
// subscription is replaced. It reports whether the client left explicitly.
func (h *Handler) readPump(ws *websocket.Conn, sub *Subscription, log *slog.Logger) bool {
	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("signaling transport dropped", "err", err)
			}
			return false
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			sub.push(Event{Type: EventError, RoomID: sub.RoomID(), Error: "malformed event"})
			continue
		}
		if e.Type == EventLeave {
			h.coord.LeaveWith(sub)
			return true
		}

		switch err := h.coord.SendFrom(sub, e); {
		case err == nil:
		case errors.Is(err, ErrNotJoined):
			// Replaced by a newer connection of the same participant.
			return true
		default:
			sub.push(Event{Type: EventError, RoomID: sub.RoomID(), Error: err.Error()})
		}
	}
}

func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, sub *Subscription) {
	for {
		e, err := sub.Next(ctx)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription ended")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
			// Unblocks readPump when the room was closed from the server side.
			_ = ws.Close()
			return
		}
		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := ws.WriteJSON(e); err != nil {
			_ = ws.Close()
			return
		}
	}
}

func (h *Handler) pingPump(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

func defaultJoinError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrRoomClosed):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrConnectionFailed):
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
