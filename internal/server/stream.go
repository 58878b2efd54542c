/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/easyaps/internal/events"
)

const streamWriteTimeout = 5 * time.Second

// streamMessage is one frame on the status websocket.
type streamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type taggedEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleStatusStream pushes a snapshot every interval and forwards bus
// events as they happen. Clients only listen.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// CloseRead cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	merged := s.subscribeAll(ctx)

	if err := s.writeFrame(ctx, conn, streamMessage{Type: "snapshot", Payload: s.snapshots.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := s.writeFrame(ctx, conn, streamMessage{Type: "snapshot", Payload: s.snapshots.Snapshot()}); err != nil {
				return
			}
		case ev := <-merged:
			if err := s.writeFrame(ctx, conn, streamMessage{Type: string(ev.eventType), Payload: ev.payload}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *ws.Conn, msg streamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed, client disconnected")
		return err
	}
	return nil
}

// subscribeAll fans every event type into one channel until ctx ends. A nil
// bus yields a channel that never delivers.
func (s *Server) subscribeAll(ctx context.Context) <-chan taggedEvent {
	merged := make(chan taggedEvent, 16)
	if s.bus == nil {
		return merged
	}

	for _, eventType := range events.AllTypes {
		sub := s.bus.Subscribe(eventType)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- taggedEvent{eventType: eventType, payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}
	return merged
}
