/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to Redis or NATS so
// other processes can follow the station.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/telemetry"
)

// SubjectPrefix namespaces every bridged event.
const SubjectPrefix = "easyaps.events."

// Subject returns the channel or subject an event type travels on.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// EventSource is the subscribing half of the in-process bus.
type EventSource interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Message is the envelope published to the external bus.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bridge message: %w", err)
	}
	if msg.EventType == "" {
		return nil, errors.New("unmarshal bridge message: missing event type")
	}
	return &msg, nil
}

// NodeID returns hostname-uuid, or just the uuid when the hostname is
// unavailable.
func NodeID() string {
	id := uuid.NewString()
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + id[:8]
	}
	return id
}

// transport is what Redis and NATS each provide.
type transport interface {
	name() string
	publish(ctx context.Context, subject string, data []byte) error
	// subscribe delivers raw messages for every bridged subject until the
	// returned stop function is called.
	subscribe(ctx context.Context, deliver func(data []byte)) (stop func() error, err error)
	close() error
}

// Bridge forwards local events out and tails remote ones in.
type Bridge struct {
	t      transport
	nodeID string
	logger zerolog.Logger

	closeOnce sync.Once
}

func newBridge(t transport, nodeID string, logger zerolog.Logger) *Bridge {
	if nodeID == "" {
		nodeID = NodeID()
	}
	return &Bridge{
		t:      t,
		nodeID: nodeID,
		logger: logger.With().Str("component", "bridge").Str("transport", t.name()).Logger(),
	}
}

// NodeID identifies this process on the external bus.
func (b *Bridge) NodeID() string {
	return b.nodeID
}

// Forward publishes every local event until ctx ends. Publish failures are
// logged and counted; they never stop the loop.
func (b *Bridge) Forward(ctx context.Context, bus EventSource) error {
	type tagged struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan tagged, 64)

	var wg sync.WaitGroup
	for _, eventType := range events.AllTypes {
		sub := bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- tagged{eventType: eventType, payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}
	defer wg.Wait()

	b.logger.Info().Str("node_id", b.nodeID).Msg("forwarding events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-merged:
			b.send(ctx, ev.eventType, ev.payload)
		}
	}
}

func (b *Bridge) send(ctx context.Context, eventType events.EventType, payload events.Payload) {
	data, err := marshalMessage(eventType, payload, b.nodeID)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.t.publish(pubCtx, Subject(eventType), data); err != nil {
		telemetry.BridgeMessages.WithLabelValues(b.t.name(), "publish_failed").Inc()
		b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event")
		return
	}
	telemetry.BridgeMessages.WithLabelValues(b.t.name(), "out").Inc()
}

// Tail calls handle for every event published by other nodes until ctx
// ends. Messages from this node are skipped.
func (b *Bridge) Tail(ctx context.Context, handle func(Message)) error {
	msgs := make(chan []byte, 64)
	stop, err := b.t.subscribe(ctx, func(data []byte) {
		select {
		case msgs <- data:
		default:
			b.logger.Warn().Msg("tail buffer full, dropping event")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.t.name(), err)
	}
	defer func() {
		if err := stop(); err != nil {
			b.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-msgs:
			msg, err := unmarshalMessage(data)
			if err != nil {
				b.logger.Error().Err(err).Msg("failed to decode bridged event")
				continue
			}
			if msg.NodeID == b.nodeID {
				continue
			}
			telemetry.BridgeMessages.WithLabelValues(b.t.name(), "in").Inc()
			handle(*msg)
		}
	}
}

// Close releases the transport.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.t.close() })
	return err
}
