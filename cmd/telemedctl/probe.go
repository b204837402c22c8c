package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/media"
	"telemed-platform/internal/rbac"
	"telemed-platform/internal/signaling"

	"github.com/spf13/cobra"
)

type trackInfo struct {
	ID      string          `json:"id"`
	Kind    media.TrackKind `json:"kind"`
	Label   string          `json:"label"`
	Enabled bool            `json:"enabled"`
}

// offerPayload is the stand-in SDP a probe sends: the tracks it would publish.
type offerPayload struct {
	SDP    string      `json:"sdp"`
	Tracks []trackInfo `json:"tracks"`
}

func describeOutgoing(stream *media.Stream, video media.Track) offerPayload {
	var p offerPayload
	for _, t := range stream.AudioTracks() {
		p.Tracks = append(p.Tracks, trackInfo{ID: t.ID(), Kind: t.Kind(), Label: t.Label(), Enabled: t.Enabled()})
	}
	if video != nil {
		p.Tracks = append(p.Tracks, trackInfo{ID: video.ID(), Kind: video.Kind(), Label: video.Label(), Enabled: video.Enabled()})
	}
	kinds := make([]string, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		kinds = append(kinds, "m="+string(t.Kind))
	}
	p.SDP = "v=0\r\n" + strings.Join(kinds, "\r\n")
	return p
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <appointment-id>",
		Short: "Start a session and exchange signaling as a synthetic participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("api")
			userID, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			wait, _ := cmd.Flags().GetDuration("wait")
			log := cliLogger(cmd)

			m, err := tokenManager()
			if err != nil {
				return err
			}
			pair, err := mintToken(m, userID, role)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait+30*time.Second)
			defer cancel()

			var grant appointments.RoomGrant
			path := "/v1/appointments/" + args[0] + "/start-video"
			if err := newAPIClient(baseURL).do(ctx, http.MethodPost, path, pair.AccessToken, nil, &grant); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			log.Info("session granted", "room_id", grant.RoomID, "expires_at", grant.ExpiresAt)

			devices := media.NewController(&media.SyntheticProvider{}, log)
			defer devices.Release()
			stream, err := devices.AcquireLocalStream(ctx, media.DefaultConstraints())
			if err != nil {
				return fmt.Errorf("acquire media: %w", err)
			}

			client := signaling.NewClient(signaling.ClientConfig{
				BaseURL:     baseURL,
				AccessToken: pair.AccessToken,
			}, log)
			conn, err := client.Join(ctx, grant.RoomID)
			if err != nil {
				return fmt.Errorf("join room: %w", err)
			}
			defer conn.Close()

			body, err := json.Marshal(describeOutgoing(stream, devices.OutgoingVideo()))
			if err != nil {
				return err
			}
			if err := conn.Send(signaling.Event{Type: signaling.EventOffer, Payload: body}); err != nil {
				return fmt.Errorf("send offer: %w", err)
			}

			return printEvents(ctx, cmd.OutOrStdout(), conn, wait)
		},
	}
	cmd.Flags().String("user", "", "participant user id")
	cmd.Flags().String("role", rbac.RolePatient, "patient or doctor")
	cmd.Flags().Duration("wait", 30*time.Second, "how long to listen for peer events")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// printEvents writes received events as JSON lines until wait elapses or the
// server ends the subscription, then leaves the room.
func printEvents(ctx context.Context, w io.Writer, conn *signaling.Conn, wait time.Duration) error {
	type result struct {
		e   signaling.Event
		err error
	}
	events := make(chan result)
	go func() {
		for {
			e, err := conn.Receive()
			select {
			case events <- result{e, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-timer.C:
			return conn.Leave()
		case <-ctx.Done():
			_ = conn.Leave()
			return ctx.Err()
		case r := <-events:
			if errors.Is(r.err, io.EOF) {
				return nil
			}
			if r.err != nil {
				return fmt.Errorf("receive: %w", r.err)
			}
			if err := enc.Encode(r.e); err != nil {
				return err
			}
		}
	}
}
