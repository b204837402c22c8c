package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"telemed-platform/internal/auth"
	"telemed-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type signalingServer struct {
	*httptest.Server
	coord  *Coordinator
	tokens *auth.Manager
}

func newSignalingServer(t *testing.T, authz Authorizer, cfg Config) *signalingServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "signaling-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	coord := NewCoordinator(authz, cfg, nil)
	h := NewHandler(coord, HandlerConfig{PongWait: 2 * time.Second, WriteWait: time.Second}, nil, nil)

	r := gin.New()
	r.GET("/v1/signaling/rooms/:room_id/ws", auth.RequireAccessToken(tokens), h.Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		coord.Close()
		srv.Close()
	})
	return &signalingServer{Server: srv, coord: coord, tokens: tokens}
}

func (s *signalingServer) client(t *testing.T, userID string) *Client {
	t.Helper()
	pair, err := s.tokens.IssuePair(time.Now(), userID, "patient")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewClient(ClientConfig{
		BaseURL:        s.URL,
		AccessToken:    pair.AccessToken,
		MaxAttempts:    2,
		InitialBackoff: 10 * time.Millisecond,
	}, nil)
}

func receive(t *testing.T, c *Conn) Event {
	t.Helper()
	type result struct {
		e   Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		e, err := c.Receive()
		ch <- result{e, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("receive: %v", r.err)
		}
		return r.e
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestHandler_RelaysBetweenParticipants(t *testing.T) {
	srv := newSignalingServer(t, allowList{"room_abc": {"patient-1", "doctor-1"}}, Config{ReconnectGrace: time.Minute})
	ctx := context.Background()

	patient, err := srv.client(t, "patient-1").Join(ctx, "room_abc")
	if err != nil {
		t.Fatalf("patient join: %v", err)
	}
	defer patient.Close()
	doctor, err := srv.client(t, "doctor-1").Join(ctx, "room_abc")
	if err != nil {
		t.Fatalf("doctor join: %v", err)
	}
	defer doctor.Close()

	if e := receive(t, patient); e.Type != EventPeerJoined || e.From != "doctor-1" {
		t.Fatalf("patient expected peer-joined, got %+v", e)
	}
	if e := receive(t, doctor); e.Type != EventPeerJoined || e.From != "patient-1" {
		t.Fatalf("doctor expected peer-joined, got %+v", e)
	}

	offer := Event{Type: EventOffer, Payload: json.RawMessage(`{"sdp":"v=0"}`)}
	if err := patient.Send(offer); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	got := receive(t, doctor)
	if got.Type != EventOffer || got.From != "patient-1" || string(got.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("unexpected relayed offer %+v", got)
	}

	// Server-only event types are answered with an error, not relayed.
	if err := doctor.Send(Event{Type: EventPeerJoined}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if e := receive(t, doctor); e.Type != EventError || !strings.Contains(e.Error, "cannot be relayed") {
		t.Fatalf("expected error event, got %+v", e)
	}

	if err := patient.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if e := receive(t, doctor); e.Type != EventPeerLeft || e.From != "patient-1" {
		t.Fatalf("expected peer-left, got %+v", e)
	}
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	srv := newSignalingServer(t, nil, Config{})
	ctx := context.Background()

	a, err := srv.client(t, "a").Join(ctx, "room_full")
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	defer a.Close()
	b, err := srv.client(t, "b").Join(ctx, "room_full")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	defer b.Close()

	_, err = srv.client(t, "c").Join(ctx, "room_full")
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.StatusCode != http.StatusConflict || !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected 409 room full, got %v", err)
	}

	anon := NewClient(ClientConfig{BaseURL: srv.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil)
	if _, err := anon.Join(ctx, "room_full"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected unauthenticated join to be rejected, got %v", err)
	}
}

func TestHandler_QueryTokenAndCloseRoom(t *testing.T) {
	srv := newSignalingServer(t, nil, Config{})

	pair, err := srv.tokens.IssuePair(time.Now(), "doctor-1", "doctor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/signaling/rooms/room_q/ws?access_token=" + pair.AccessToken
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := &Conn{ws: ws, roomID: "room_q", writeWait: time.Second}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.coord.Connected("room_q", "doctor-1") {
		if time.Now().After(deadline) {
			t.Fatalf("participant never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.coord.CloseRoom("room_q")
	if _, err := conn.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after room close, got %v", err)
	}
}

func TestClient_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := c.Join(context.Background(), "room_x")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	if len(slept) != 2 || slept[1] != 2*slept[0] {
		t.Fatalf("expected exponential backoff, got %v", slept)
	}
}

func TestClient_DoesNotRetryRejections(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxAttempts: 5, InitialBackoff: time.Millisecond}, nil)
	_, err := c.Join(context.Background(), "room_x")
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 rejection, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}
