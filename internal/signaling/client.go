package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"telemed-platform/pkg/logger"

	"github.com/gorilla/websocket"
)

type ClientConfig struct {
	// BaseURL is the API origin, e.g. ws://localhost:8080.
	BaseURL     string
	AccessToken string

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteWait      time.Duration

	Dialer *websocket.Dialer
}

// RejectedError is returned when the server refuses the join with a status that
// retrying cannot fix.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("signaling: join rejected with status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	return target == ErrRoomFull && e.StatusCode == http.StatusConflict
}

// Client dials the signaling endpoint, retrying transient failures with exponential backoff.
type Client struct {
	cfg   ClientConfig
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, log: logger.OrDefault(log), sleep: sleepCtx}
}

// Join connects to roomID. It gives up after MaxAttempts with ErrConnectionFailed,
// or immediately with a *RejectedError on 401, 403, 404 and 409.
func (c *Client) Join(ctx context.Context, roomID string) (*Conn, error) {
	endpoint, err := c.endpoint(roomID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		ws, resp, err := c.cfg.Dialer.DialContext(ctx, endpoint, header)
		if err == nil {
			return &Conn{ws: ws, roomID: roomID, writeWait: c.cfg.WriteWait}, nil
		}
		if rej := rejection(resp); rej != nil {
			return nil, rej
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.log.Warn("signaling join failed", "room_id", roomID, "attempt", attempt, "err", err)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) endpoint(roomID string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", fmt.Errorf("%w: room id is required", ErrInvalidArgument)
	}
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", ErrInvalidArgument, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/signaling/rooms/" + url.PathEscape(roomID) + "/ws"
	return u.String(), nil
}

func rejection(resp *http.Response) *RejectedError {
	if resp == nil {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
	default:
		return nil
	}
	var body string
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		body = strings.TrimSpace(string(b))
	}
	return &RejectedError{StatusCode: resp.StatusCode, Body: body}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Conn is a joined signaling connection. Receive must be called from one goroutine;
// Send is safe for concurrent use.
type Conn struct {
	ws        *websocket.Conn
	roomID    string
	writeWait time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) RoomID() string { return c.roomID }

func (c *Conn) Send(e Event) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteJSON(e)
}

// Receive returns the next event, or io.EOF once the server ends the subscription.
func (c *Conn) Receive() (Event, error) {
	var e Event
	if err := c.ws.ReadJSON(&e); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	return e, nil
}

// Leave tells the server the participant is leaving and closes the connection.
func (c *Conn) Leave() error {
	err := c.Send(Event{Type: EventLeave, RoomID: c.roomID})
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
